/*
package shim defines the process-wide table of host-implemented stand-ins
for the platform services an image imports. The registry is populated during
startup, frozen before the first load, and read concurrently without locking
thereafter.
*/
package shim

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wnxd/microshim/handle"
)

// Calling identifies the convention a shim or entry point conforms to. The
// set is closed: anything else is rejected at registration time rather than
// at call time.
type Calling int

const (
	Calling_Win64 Calling = iota
	Calling_Stdcall
	Calling_Cdecl
)

// NotImplemented is the sentinel a stubbed import returns in permissive
// mode, standing in for the platform's generic failure value.
const NotImplemented = uintptr(0xFFFFFFFF)

// Symbol names an imported function either by exact name or by ordinal.
type Symbol struct {
	Name    string
	Ordinal uint16
}

func Name(s string) Symbol { return Symbol{Name: s} }

func Ordinal(n uint16) Symbol { return Symbol{Ordinal: n} }

func (s Symbol) String() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("#%d", s.Ordinal)
}

// Process is the control surface a shim body sees: the handle table it
// allocates into, the loaded image's diagnostics logger, and the exit
// control used by terminate-style services. Exit may be called from any
// thread the image spawned.
type Process interface {
	Handles() *handle.Table
	Logger() *zap.Logger
	Exit(code int)
}

// Call carries one invocation's raw parameter words. Values arrive exactly
// as the foreign ABI passed them; translating encodings and error codes is
// the shim's job.
type Call struct {
	Args []uintptr
	Proc Process
}

// Arg returns the i-th raw parameter word, or zero when the caller passed
// fewer arguments.
func (c *Call) Arg(i int) uintptr {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return 0
}

// Func is a shim body. It receives raw ABI words and returns the raw ABI
// result word.
type Func func(call *Call) uintptr

// Entry is one registered shim. Func is the host implementation; Native,
// when nonzero, is a prebuilt code address written into import slots
// verbatim instead of a generated thunk.
type Entry struct {
	Module  string
	Name    string
	Ordinal uint16
	Calling Calling
	Func    Func
	Native  uintptr
}

func (e *Entry) Symbol() Symbol {
	if e.Name != "" {
		return Name(e.Name)
	}
	return Ordinal(e.Ordinal)
}
