//go:build !amd64

package native

func Exec(addr uintptr) (uint32, error) {
	return 0, ErrArchUnsupported
}

func ExecArg(addr, arg uintptr) (uint32, error) {
	return 0, ErrArchUnsupported
}
