//go:build !amd64

package native

func SentinelStub(value uint32) ([]byte, error) {
	return nil, ErrArchUnsupported
}
