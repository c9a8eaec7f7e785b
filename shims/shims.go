/*
package shims implements the kernel32 service subset loaded images lean on
most: file I/O through the process handle table, thread and event objects,
and process termination. Each body receives raw ABI words and translates
them to host calls; handles issued here are drained by the loader when the
process exits.
*/
package shims

import (
	"encoding/binary"

	"github.com/wnxd/microshim/encoding"
	"github.com/wnxd/microshim/filesystem"
	"github.com/wnxd/microshim/shim"
)

const kernel32Module = "kernel32.dll"

const (
	invalidHandle = ^uintptr(0)
	trueValue     = uintptr(1)
	falseValue    = uintptr(0)
)

// kernel32 carries the host-side state the service set shares: the
// filesystem the image's path names resolve against.
type kernel32 struct {
	fs filesystem.FS
}

type Option func(*kernel32)

// WithFS mounts the filesystem image file operations resolve against.
// The default passes names to the host unchanged.
func WithFS(fsys filesystem.FS) Option {
	return func(k *kernel32) {
		k.fs = fsys
	}
}

// RegisterKernel32 installs the service set into reg. Call before the
// registry freezes.
func RegisterKernel32(reg *shim.Registry, options ...Option) error {
	k := &kernel32{fs: filesystem.Host()}
	for _, option := range options {
		option(k)
	}
	entries := []shim.Entry{
		{Module: kernel32Module, Name: "CreateFileA", Calling: shim.Calling_Win64, Func: k.createFileA},
		{Module: kernel32Module, Name: "CreateFileW", Calling: shim.Calling_Win64, Func: k.createFileW},
		{Module: kernel32Module, Name: "ReadFile", Calling: shim.Calling_Win64, Func: k.readFile},
		{Module: kernel32Module, Name: "WriteFile", Calling: shim.Calling_Win64, Func: k.writeFile},
		{Module: kernel32Module, Name: "CloseHandle", Calling: shim.Calling_Win64, Func: k.closeHandle},
		{Module: kernel32Module, Name: "GetStdHandle", Calling: shim.Calling_Win64, Func: k.getStdHandle},
		{Module: kernel32Module, Name: "CreateThread", Calling: shim.Calling_Win64, Func: k.createThread},
		{Module: kernel32Module, Name: "WaitForSingleObject", Calling: shim.Calling_Win64, Func: k.waitForSingleObject},
		{Module: kernel32Module, Name: "GetExitCodeThread", Calling: shim.Calling_Win64, Func: k.getExitCodeThread},
		{Module: kernel32Module, Name: "CreateEventA", Calling: shim.Calling_Win64, Func: k.createEventA},
		{Module: kernel32Module, Name: "SetEvent", Calling: shim.Calling_Win64, Func: k.setEvent},
		{Module: kernel32Module, Name: "ResetEvent", Calling: shim.Calling_Win64, Func: k.resetEvent},
		{Module: kernel32Module, Name: "Sleep", Calling: shim.Calling_Win64, Func: k.sleep},
		{Module: kernel32Module, Name: "ExitProcess", Calling: shim.Calling_Win64, Func: k.exitProcess},
	}
	for _, entry := range entries {
		if err := reg.Register(entry); err != nil {
			return err
		}
	}
	return nil
}

// putUint32 stores a 32-bit out-parameter at a caller-supplied address.
// A nil address means the caller declined the value.
func putUint32(addr uintptr, v uint32) {
	if b := encoding.BytesAt(addr, 4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}
