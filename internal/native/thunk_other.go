//go:build !windows

package native

// NewThunk requires the runtime's native callback bridge, which only exists
// on windows. Elsewhere the patcher falls back to sentinel stubs and host
// code reaches shims through the process's Dispatch path.
func NewThunk(fn func(args []uintptr) uintptr) (uintptr, error) {
	return 0, ErrThunkUnsupported
}
