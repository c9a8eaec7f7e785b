package shims

import (
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/wnxd/microshim/encoding"
	"github.com/wnxd/microshim/filesystem"
	"github.com/wnxd/microshim/handle"
	"github.com/wnxd/microshim/shim"
)

const maxPath = 260

const (
	genericRead  = 0x80000000
	genericWrite = 0x40000000

	createNew        = 1
	createAlways     = 2
	openExisting     = 3
	openAlways       = 4
	truncateExisting = 5
)

// Std streams are pseudo-handles: the request constant sign-extended to
// pointer width, handed back by GetStdHandle and recognized directly by
// the I/O shims. They never enter the handle table, so closing them is a
// no-op and teardown cannot touch the host's own streams.
const (
	stdInput  = ^uintptr(9)
	stdOutput = ^uintptr(10)
	stdError  = ^uintptr(11)
)

// GetStdHandle request words, as the 32-bit values the image passes.
const (
	stdInputRequest  = int32(-10)
	stdOutputRequest = int32(-11)
	stdErrorRequest  = int32(-12)
)

func (k *kernel32) createFileA(call *shim.Call) uintptr {
	return k.openFile(call, encoding.CStringAt(call.Arg(0), maxPath))
}

func (k *kernel32) createFileW(call *shim.Call) uintptr {
	return k.openFile(call, encoding.U16StringAt(call.Arg(0), maxPath))
}

func (k *kernel32) openFile(call *shim.Call, name string) uintptr {
	if name == "" {
		return invalidHandle
	}
	flag, ok := openFlags(uint32(call.Arg(1)), uint32(call.Arg(4)))
	if !ok {
		return invalidHandle
	}
	f, err := k.fs.OpenFile(name, flag, 0o644)
	if err != nil {
		call.Proc.Logger().Debug("open refused",
			zap.String("path", name), zap.Error(err))
		return invalidHandle
	}
	h := call.Proc.Handles().Allocate(&handle.File{Object: f})
	return uintptr(h)
}

func openFlags(access, disposition uint32) (filesystem.FileFlag, bool) {
	var flag filesystem.FileFlag
	switch {
	case access&genericRead != 0 && access&genericWrite != 0:
		flag = filesystem.O_RDWR
	case access&genericWrite != 0:
		flag = filesystem.O_WRONLY
	default:
		flag = filesystem.O_RDONLY
	}
	switch disposition {
	case createNew:
		flag |= filesystem.O_CREATE | filesystem.O_EXCL
	case createAlways:
		flag |= filesystem.O_CREATE | filesystem.O_TRUNC
	case openExisting:
	case openAlways:
		flag |= filesystem.O_CREATE
	case truncateExisting:
		flag |= filesystem.O_TRUNC
	default:
		return 0, false
	}
	return flag, true
}

func (k *kernel32) readFile(call *shim.Call) uintptr {
	r, ok := readerFor(call, call.Arg(0))
	if !ok {
		return falseValue
	}
	buf := encoding.BytesAt(call.Arg(1), int(uint32(call.Arg(2))))
	n, err := r.Read(buf)
	if err != nil && err != io.EOF {
		return falseValue
	}
	putUint32(call.Arg(3), uint32(n))
	return trueValue
}

func (k *kernel32) writeFile(call *shim.Call) uintptr {
	w, ok := writerFor(call, call.Arg(0))
	if !ok {
		return falseValue
	}
	buf := encoding.BytesAt(call.Arg(1), int(uint32(call.Arg(2))))
	n, err := w.Write(buf)
	putUint32(call.Arg(3), uint32(n))
	if err != nil {
		return falseValue
	}
	return trueValue
}

func (k *kernel32) closeHandle(call *shim.Call) uintptr {
	switch call.Arg(0) {
	case stdInput, stdOutput, stdError:
		return trueValue
	}
	if err := call.Proc.Handles().Close(handle.Handle(call.Arg(0))); err != nil {
		return falseValue
	}
	return trueValue
}

func (k *kernel32) getStdHandle(call *shim.Call) uintptr {
	switch int32(call.Arg(0)) {
	case stdInputRequest:
		return stdInput
	case stdOutputRequest:
		return stdOutput
	case stdErrorRequest:
		return stdError
	}
	return invalidHandle
}

func readerFor(call *shim.Call, h uintptr) (io.Reader, bool) {
	if h == stdInput {
		return os.Stdin, true
	}
	res, err := call.Proc.Handles().Lookup(handle.Handle(h))
	if err != nil {
		return nil, false
	}
	f, ok := res.(*handle.File)
	if !ok {
		return nil, false
	}
	r, ok := f.Object.(io.Reader)
	return r, ok
}

func writerFor(call *shim.Call, h uintptr) (io.Writer, bool) {
	switch h {
	case stdOutput:
		return os.Stdout, true
	case stdError:
		return os.Stderr, true
	}
	res, err := call.Proc.Handles().Lookup(handle.Handle(h))
	if err != nil {
		return nil, false
	}
	f, ok := res.(*handle.File)
	if !ok {
		return nil, false
	}
	w, ok := f.Object.(io.Writer)
	return w, ok
}
