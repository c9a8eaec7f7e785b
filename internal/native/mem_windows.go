//go:build windows

package native

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/wnxd/microshim/pefile"
)

func reserve(preferred uintptr, size uint64) (*Region, error) {
	base, err := windows.VirtualAlloc(preferred, uintptr(size),
		windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil && preferred != 0 {
		base, err = windows.VirtualAlloc(0, uintptr(size),
			windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	}
	if err != nil {
		return nil, err
	}
	return &Region{
		base: base,
		size: size,
		buf:  unsafe.Slice((*byte)(unsafe.Pointer(base)), size),
	}, nil
}

func (r *Region) Protect(off, size uint64, prot pefile.MemProt) error {
	if size == 0 {
		return nil
	}
	begin, end, err := r.pageSpan(off, size)
	if err != nil {
		return err
	}
	var old uint32
	return windows.VirtualProtect(r.base+uintptr(begin), uintptr(end-begin), pageProtect(prot), &old)
}

func (r *Region) Release() error {
	if r.buf == nil {
		return nil
	}
	err := windows.VirtualFree(r.base, 0, windows.MEM_RELEASE)
	r.buf = nil
	return err
}

func pageProtect(prot pefile.MemProt) uint32 {
	exec := prot&pefile.MEM_PROT_EXEC != 0
	write := prot&pefile.MEM_PROT_WRITE != 0
	read := prot&pefile.MEM_PROT_READ != 0
	switch {
	case exec && write:
		return windows.PAGE_EXECUTE_READWRITE
	case exec && read:
		return windows.PAGE_EXECUTE_READ
	case exec:
		return windows.PAGE_EXECUTE
	case write:
		return windows.PAGE_READWRITE
	case read:
		return windows.PAGE_READONLY
	default:
		return windows.PAGE_NOACCESS
	}
}
