//go:build windows

package native

import "syscall"

// thunkArgs is how many raw words a generated thunk forwards. Imports that
// pass more arguments than this need a hand-built Native entry.
const thunkArgs = 9

// NewThunk wraps fn in a native-callable thunk through the runtime's
// callback bridge. Thunk memory is never released; the platform's own
// loader keeps resolved import targets alive for the process lifetime too.
func NewThunk(fn func(args []uintptr) uintptr) (uintptr, error) {
	cb := func(a1, a2, a3, a4, a5, a6, a7, a8, a9 uintptr) uintptr {
		return fn([]uintptr{a1, a2, a3, a4, a5, a6, a7, a8, a9})
	}
	return syscall.NewCallback(cb), nil
}
