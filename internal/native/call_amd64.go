//go:build amd64

package native

import (
	"runtime"
	"unsafe"
)

// Exec transfers control to a raw code address expecting a routine that
// takes no parameters and returns a 32-bit status in the accumulator, the
// shape shared by the supported entry-point conventions. The address word
// itself doubles as the function value's code pointer.
func Exec(addr uintptr) (uint32, error) {
	p := unsafe.Pointer(&addr)
	fn := *(*func() uint32)(unsafe.Pointer(&p))
	code := fn()
	runtime.KeepAlive(addr)
	return code, nil
}

// ExecArg is Exec for routines taking one pointer-width parameter, the
// shape of a thread start routine. The argument travels in the host's
// first integer register.
func ExecArg(addr, arg uintptr) (uint32, error) {
	p := unsafe.Pointer(&addr)
	fn := *(*func(uintptr) uint32)(unsafe.Pointer(&p))
	code := fn(arg)
	runtime.KeepAlive(addr)
	return code, nil
}
