// package native owns every raw-memory and raw-control-transfer primitive
// the loader relies on. Unsafety is confined here: callers address mapped
// memory through bounds-checked offsets, never through bare pointers.
package native

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"unsafe"
)

var (
	ErrArchUnsupported  = errors.New("architecture unsupported")
	ErrThunkUnsupported = errors.New("native thunks unsupported on this platform")
)

// PointerSize is the slot width of the target ABI.
const PointerSize = int(unsafe.Sizeof(uintptr(0)))

// Region is one contiguous host allocation holding a mapped image or a stub
// arena. It is exclusively owned by its creator and released exactly once.
type Region struct {
	base uintptr
	size uint64
	buf  []byte
}

// Reserve allocates a readable/writable region of at least size bytes,
// placed at preferred when the host permits it there and anywhere otherwise.
// Callers compare Base against preferred to learn whether relocation is
// needed.
func Reserve(preferred uintptr, size uint64) (*Region, error) {
	return reserve(preferred, size)
}

func (r *Region) Base() uintptr { return r.base }

func (r *Region) Size() uint64 { return r.size }

// Bytes returns a mutable view of [off, off+size). It is the single audited
// path from offsets to memory; every higher-level write funnels through it.
func (r *Region) Bytes(off, size uint64) ([]byte, error) {
	if end := off + size; end < off || end > r.size {
		return nil, fmt.Errorf("range [%#x, %#x) outside region of size %#x", off, off+size, r.size)
	}
	return r.buf[off : off+size], nil
}

// pageSpan widens [off, off+size) to host page boundaries, clamped to the
// region, for protection changes.
func (r *Region) pageSpan(off, size uint64) (uint64, uint64, error) {
	if end := off + size; end < off || end > r.size {
		return 0, 0, fmt.Errorf("range [%#x, %#x) outside region of size %#x", off, off+size, r.size)
	}
	page := uint64(os.Getpagesize())
	begin := off &^ (page - 1)
	end := (off + size + page - 1) &^ (page - 1)
	if end > r.size {
		end = r.size
	}
	return begin, end, nil
}

func (r *Region) ReadUint32(off uint64) (uint32, error) {
	b, err := r.Bytes(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Region) WriteUint32(off uint64, v uint32) error {
	b, err := r.Bytes(off, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

func (r *Region) ReadUint64(off uint64) (uint64, error) {
	b, err := r.Bytes(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Region) WriteUint64(off uint64, v uint64) error {
	b, err := r.Bytes(off, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// WritePointer stores a pointer-width value at off, matching the slot width
// the patched code dereferences.
func (r *Region) WritePointer(off uint64, v uintptr) error {
	b, err := r.Bytes(off, uint64(PointerSize))
	if err != nil {
		return err
	}
	if PointerSize == 8 {
		binary.LittleEndian.PutUint64(b, uint64(v))
	} else {
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
	return nil
}

func (r *Region) ReadPointer(off uint64) (uintptr, error) {
	b, err := r.Bytes(off, uint64(PointerSize))
	if err != nil {
		return 0, err
	}
	if PointerSize == 8 {
		return uintptr(binary.LittleEndian.Uint64(b)), nil
	}
	return uintptr(binary.LittleEndian.Uint32(b)), nil
}
