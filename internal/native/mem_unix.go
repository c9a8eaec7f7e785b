//go:build unix

package native

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wnxd/microshim/pefile"
)

func reserve(preferred uintptr, size uint64) (*Region, error) {
	var hint unsafe.Pointer
	if preferred != 0 {
		hint = unsafe.Pointer(preferred)
	}
	// the hint is not MAP_FIXED: the kernel relocates the mapping when the
	// preferred range is taken, and the caller decides what that means.
	ptr, err := unix.MmapPtr(-1, 0, hint, uintptr(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &Region{
		base: uintptr(ptr),
		size: size,
		buf:  unsafe.Slice((*byte)(ptr), size),
	}, nil
}

// Protect changes the protection of [off, off+size), extended outward to
// page boundaries as mprotect requires.
func (r *Region) Protect(off, size uint64, prot pefile.MemProt) error {
	if size == 0 {
		return nil
	}
	begin, end, err := r.pageSpan(off, size)
	if err != nil {
		return err
	}
	var p int
	if prot&pefile.MEM_PROT_READ != 0 {
		p |= unix.PROT_READ
	}
	if prot&pefile.MEM_PROT_WRITE != 0 {
		p |= unix.PROT_WRITE
	}
	if prot&pefile.MEM_PROT_EXEC != 0 {
		p |= unix.PROT_EXEC
	}
	return unix.Mprotect(r.buf[begin:end], p)
}

func (r *Region) Release() error {
	if r.buf == nil {
		return nil
	}
	err := unix.MunmapPtr(unsafe.Pointer(r.base), uintptr(r.size))
	r.buf = nil
	return err
}
