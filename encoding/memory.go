package encoding

import "unsafe"

// Raw-address views of memory the running image handed to a shim. The
// addresses originate in the foreign ABI's parameter words, so they cannot
// be bounds-checked against anything the host knows; confining the casts
// here keeps the rest of the tree free of unsafe pointer arithmetic.

// BytesAt returns n bytes of host memory starting at addr.
func BytesAt(addr uintptr, n int) []byte {
	if addr == 0 || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// CStringAt reads a NUL-terminated byte string at addr, giving up after
// limit bytes to bound damage from an unterminated buffer.
func CStringAt(addr uintptr, limit int) string {
	if addr == 0 || limit <= 0 {
		return ""
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), limit)
	for i, c := range buf {
		if c == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// U16StringAt reads a NUL-terminated UTF-16 string of at most limit code
// units at addr.
func U16StringAt(addr uintptr, limit int) string {
	if addr == 0 || limit <= 0 {
		return ""
	}
	buf := unsafe.Slice((*uint16)(unsafe.Pointer(addr)), limit)
	for i, c := range buf {
		if c == 0 {
			return StringFromUTF16(buf[:i])
		}
	}
	return StringFromUTF16(buf)
}
