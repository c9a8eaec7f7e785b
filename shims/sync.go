package shims

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/wnxd/microshim/handle"
	"github.com/wnxd/microshim/internal/native"
	"github.com/wnxd/microshim/shim"
)

const (
	waitObject0 = uintptr(0)
	waitTimeout = uintptr(0x102)
	waitFailed  = ^uintptr(0)

	infinite    = 0xFFFFFFFF
	stillActive = 259
)

func (k *kernel32) createThread(call *shim.Call) uintptr {
	start, param := call.Arg(2), call.Arg(3)
	if start == 0 {
		return 0
	}
	t := &handle.Thread{Done: make(chan struct{})}
	h := call.Proc.Handles().Allocate(t)
	log := call.Proc.Logger()
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		code, err := native.ExecArg(start, param)
		if err != nil {
			log.Warn("thread start failed", zap.Uintptr("start", start), zap.Error(err))
		}
		t.Code = code
		close(t.Done)
	}()
	putUint32(call.Arg(5), uint32(h))
	return uintptr(h)
}

func (k *kernel32) waitForSingleObject(call *shim.Call) uintptr {
	res, err := call.Proc.Handles().Lookup(handle.Handle(call.Arg(0)))
	if err != nil {
		return waitFailed
	}
	var ch <-chan struct{}
	switch obj := res.(type) {
	case *handle.Thread:
		ch = obj.Done
	case *handle.Event:
		ch = obj.Wait()
	default:
		return waitFailed
	}
	ms := uint32(call.Arg(1))
	if ms == infinite {
		<-ch
		return waitObject0
	}
	select {
	case <-ch:
		return waitObject0
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return waitTimeout
	}
}

func (k *kernel32) getExitCodeThread(call *shim.Call) uintptr {
	res, err := call.Proc.Handles().Lookup(handle.Handle(call.Arg(0)))
	if err != nil {
		return falseValue
	}
	t, ok := res.(*handle.Thread)
	if !ok {
		return falseValue
	}
	select {
	case <-t.Done:
		putUint32(call.Arg(1), t.Code)
	default:
		putUint32(call.Arg(1), stillActive)
	}
	return trueValue
}

// createEventA builds a manual-reset event. Auto-reset requests get the
// manual-reset behavior; none of the supported images depend on the
// single-waiter release.
func (k *kernel32) createEventA(call *shim.Call) uintptr {
	e := handle.NewEvent(call.Arg(2) != 0)
	return uintptr(call.Proc.Handles().Allocate(e))
}

func (k *kernel32) setEvent(call *shim.Call) uintptr {
	e, ok := eventFor(call, call.Arg(0))
	if !ok {
		return falseValue
	}
	e.Set()
	return trueValue
}

func (k *kernel32) resetEvent(call *shim.Call) uintptr {
	e, ok := eventFor(call, call.Arg(0))
	if !ok {
		return falseValue
	}
	e.Reset()
	return trueValue
}

func eventFor(call *shim.Call, h uintptr) (*handle.Event, bool) {
	res, err := call.Proc.Handles().Lookup(handle.Handle(h))
	if err != nil {
		return nil, false
	}
	e, ok := res.(*handle.Event)
	return e, ok
}

func (k *kernel32) sleep(call *shim.Call) uintptr {
	time.Sleep(time.Duration(uint32(call.Arg(0))) * time.Millisecond)
	return 0
}

// exitProcess records the exit code and parks the calling thread. The
// image must never regain control after requesting termination, and the
// host cannot unwind foreign frames, so the thread blocks until the host
// process itself exits. Each call permanently consumes one OS thread;
// a long-lived host pays that per exited image.
func (k *kernel32) exitProcess(call *shim.Call) uintptr {
	call.Proc.Exit(int(uint32(call.Arg(0))))
	select {}
}
