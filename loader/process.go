package loader

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wnxd/microshim/handle"
	"github.com/wnxd/microshim/internal/native"
	"github.com/wnxd/microshim/pefile"
	"github.com/wnxd/microshim/shim"
)

// Process is one loaded image: its mapped region, its handle table, and
// the exit status of its entry point. It satisfies shim.Process so shim
// bodies can reach the table, the logger, and exit control.
type Process struct {
	loader *Loader
	desc   *pefile.Image
	log    *zap.Logger

	region       *native.Region
	arena        *native.Arena
	sentinelAddr uintptr

	handles    *handle.Table
	resolved   map[uint64]*shim.Entry
	unresolved []UnresolvedImport

	mu    sync.Mutex
	state State

	started   bool
	entryDone atomic.Bool
	exitOnce  sync.Once
	exited    chan struct{}
	exitCode  int
}

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Base is the address the image actually mapped at.
func (p *Process) Base() uintptr {
	return p.region.Base()
}

func (p *Process) Handles() *handle.Table { return p.handles }

func (p *Process) Logger() *zap.Logger { return p.log }

// Unresolved lists the imports patching could not bind to a shim.
func (p *Process) Unresolved() []UnresolvedImport {
	out := make([]UnresolvedImport, len(p.unresolved))
	copy(out, p.unresolved)
	return out
}

// Exit records the process exit code and releases Run. The first call
// wins; later calls are ignored. Exit does not return control to the
// image: a terminate-style shim that calls it must park its calling
// thread instead of returning. The host cannot stop a thread while it is
// executing image code, so a caller outside the image's own shim calls
// must not race a thread that never returns to host code.
func (p *Process) Exit(code int) {
	p.exitOnce.Do(func() {
		p.exitCode = code
		close(p.exited)
	})
}

// Run transfers control to the image entry point on a dedicated OS
// thread and blocks until the entry returns or Exit records a code. The
// returned code is the value Exit recorded, or the entry point's return
// value when it came back on its own. Image code runs non-preemptibly:
// an entry that neither returns nor blocks inside a shim keeps its
// thread, and the host runtime cannot stop the world around it.
func (p *Process) Run() (int, error) {
	p.mu.Lock()
	if p.state != State_Patched {
		state := p.state
		p.mu.Unlock()
		return 0, wrap(ErrInvalidState, "run in state %s", state)
	}
	p.state = State_Running
	p.started = true
	p.mu.Unlock()

	entry := p.region.Base() + uintptr(p.desc.EntryOffset)
	p.log.Info("dispatching entry point", zap.Uintptr("entry", entry))

	execErr := make(chan error, 1)
	go func() {
		// The image may stash thread-affine state; keep it on one thread.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		code, err := native.Exec(entry)
		p.entryDone.Store(true)
		if err != nil {
			execErr <- err
			return
		}
		p.Exit(int(code))
	}()

	select {
	case err := <-execErr:
		p.setState(State_Failed)
		p.teardown()
		return 0, err
	case <-p.exited:
	}
	p.setState(State_Exited)
	p.log.Info("image exited", zap.Int("code", p.exitCode))
	p.teardown()
	return p.exitCode, nil
}

// Dispatch invokes a registered shim from the host side, outside any
// patched slot. An import the registry never knew returns the same
// sentinel its stub would.
func (p *Process) Dispatch(module string, sym shim.Symbol, args ...uintptr) (uintptr, error) {
	entry, err := p.loader.registry.Lookup(module, sym)
	if errors.Is(err, shim.ErrNotFound) {
		p.log.Warn("dispatch to unresolved import",
			zap.String("module", module),
			zap.Stringer("symbol", sym))
		return shim.NotImplemented, nil
	}
	if err != nil {
		return 0, err
	}
	if entry.Func == nil {
		return 0, wrap(ErrInvalidState, "%s!%s has no host body", module, sym)
	}
	return entry.Func(&shim.Call{Args: args, Proc: p}), nil
}

// Close releases whatever the process still holds. It is safe after Run
// and safe on a process that never ran.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.state != State_Exited && p.state != State_Failed {
		p.state = State_Exited
	}
	p.mu.Unlock()
	p.teardown()
	return nil
}

// teardown drains the handle table and releases the mapping. When the
// entry point was dispatched but never returned, a foreign thread may
// still be parked inside the image, so the region and arena are
// deliberately retained.
func (p *Process) teardown() {
	if n := p.handles.Drain(); n > 0 {
		p.log.Debug("closed leaked handles", zap.Int("count", n))
	}
	if p.started && !p.entryDone.Load() {
		p.log.Debug("retaining mapping, entry thread still live")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.arena != nil {
		p.arena.Release()
		p.arena = nil
	}
	if p.region != nil {
		p.region.Release()
		p.region = nil
	}
}
