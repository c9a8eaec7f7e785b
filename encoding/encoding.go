/*
package encoding converts between Go values and the foreign ABI's in-memory
representation. Shims use it to pull parameter blocks out of the running
image's memory and to write results back. blockSize is the target's pointer
width: uintptr-typed fields occupy exactly that many bytes regardless of the
host's own width.
*/
package encoding

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/modern-go/reflect2"
)

var errNotPointer = errors.New("encoding: value must be a non-nil pointer")

// Sizeof reports how many bytes the foreign representation of val occupies.
func Sizeof(blockSize int, val any) (int, error) {
	typ := reflect.TypeOf(val)
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return sizeof(typ, blockSize)
}

// Decode reads the foreign representation of *val from buf and returns the
// number of bytes consumed. val must point at a fixed-size value: booleans,
// integers, floats, uintptrs, arrays or structs of those.
func Decode(buf []byte, blockSize int, val any) (int, error) {
	typ, ptr, err := target(val)
	if err != nil {
		return 0, err
	}
	return walk(typ, blockSize, buf, ptr, func(b []byte, p unsafe.Pointer, n int) {
		copy(unsafe.Slice((*byte)(p), n), b[:n])
	})
}

// Encode writes the foreign representation of *val into buf and returns the
// number of bytes produced.
func Encode(buf []byte, blockSize int, val any) (int, error) {
	typ, ptr, err := target(val)
	if err != nil {
		return 0, err
	}
	return walk(typ, blockSize, buf, ptr, func(b []byte, p unsafe.Pointer, n int) {
		copy(b[:n], unsafe.Slice((*byte)(p), n))
	})
}

func target(val any) (reflect.Type, unsafe.Pointer, error) {
	typ := reflect.TypeOf(val)
	if typ == nil || typ.Kind() != reflect.Pointer {
		return nil, nil, errNotPointer
	}
	ptr := reflect2.PtrOf(val)
	if ptr == nil {
		return nil, nil, errNotPointer
	}
	return typ.Elem(), ptr, nil
}

// mover copies n bytes between a buffer and host memory; direction decides
// whether walk decodes or encodes.
type mover func(b []byte, p unsafe.Pointer, n int)

func walk(typ reflect.Type, bs int, buf []byte, ptr unsafe.Pointer, move mover) (int, error) {
	size, err := sizeof(typ, bs)
	if err != nil {
		return 0, err
	}
	if size > len(buf) {
		return 0, fmt.Errorf("encoding: need %d bytes, have %d", size, len(buf))
	}
	// identical layout: the whole value moves in one copy
	if int(typ.Size()) == size && !hasBlockField(typ, bs) {
		move(buf, ptr, size)
		return size, nil
	}
	return walkSlow(typ, bs, buf, ptr, move)
}

func walkSlow(typ reflect.Type, bs int, buf []byte, ptr unsafe.Pointer, move mover) (int, error) {
	switch typ.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		n := int(typ.Size())
		move(buf, ptr, n)
		return n, nil
	case reflect.Int, reflect.Uint, reflect.Uintptr, reflect.UnsafePointer:
		n := min(int(typ.Size()), bs)
		move(buf, ptr, n)
		return bs, nil
	case reflect.Array:
		elem := typ.Elem()
		off := 0
		for i := 0; i < typ.Len(); i++ {
			n, err := walkSlow(elem, bs, buf[off:], unsafe.Add(ptr, uintptr(i)*elem.Size()), move)
			if err != nil {
				return 0, err
			}
			off += n
		}
		return off, nil
	case reflect.Struct:
		off := 0
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			if field.Tag.Get("encoding") == "ignore" {
				continue
			}
			fsize, err := sizeof(field.Type, bs)
			if err != nil {
				return 0, err
			}
			off = align(off, min(fsize, bs))
			n, err := walkSlow(field.Type, bs, buf[off:], unsafe.Add(ptr, field.Offset), move)
			if err != nil {
				return 0, err
			}
			off += n
		}
		return align(off, structAlign(typ, bs)), nil
	default:
		return 0, fmt.Errorf("encoding: kind %s unsupported", typ.Kind())
	}
}

func sizeof(typ reflect.Type, bs int) (int, error) {
	switch typ.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return int(typ.Size()), nil
	case reflect.Int, reflect.Uint, reflect.Uintptr, reflect.UnsafePointer:
		return bs, nil
	case reflect.Array:
		elem, err := sizeof(typ.Elem(), bs)
		if err != nil {
			return 0, err
		}
		return elem * typ.Len(), nil
	case reflect.Struct:
		size := 0
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			if field.Tag.Get("encoding") == "ignore" {
				continue
			}
			fsize, err := sizeof(field.Type, bs)
			if err != nil {
				return 0, err
			}
			size = align(size, min(fsize, bs)) + fsize
		}
		return align(size, structAlign(typ, bs)), nil
	default:
		return 0, fmt.Errorf("encoding: kind %s unsupported", typ.Kind())
	}
}

// structAlign is the foreign natural alignment of the largest scalar field.
func structAlign(typ reflect.Type, bs int) int {
	a := 1
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.Tag.Get("encoding") == "ignore" {
			continue
		}
		fa := fieldAlign(field.Type, bs)
		if fa > a {
			a = fa
		}
	}
	return a
}

func fieldAlign(typ reflect.Type, bs int) int {
	switch typ.Kind() {
	case reflect.Int, reflect.Uint, reflect.Uintptr, reflect.UnsafePointer:
		return bs
	case reflect.Array:
		return fieldAlign(typ.Elem(), bs)
	case reflect.Struct:
		return structAlign(typ, bs)
	default:
		return int(typ.Size())
	}
}

// hasBlockField reports whether typ contains a field whose foreign width is
// the block size rather than its host width.
func hasBlockField(typ reflect.Type, bs int) bool {
	switch typ.Kind() {
	case reflect.Int, reflect.Uint, reflect.Uintptr, reflect.UnsafePointer:
		return int(typ.Size()) != bs
	case reflect.Array:
		return hasBlockField(typ.Elem(), bs)
	case reflect.Struct:
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			// ignored fields make the layouts diverge
			if field.Tag.Get("encoding") == "ignore" {
				return true
			}
			if hasBlockField(field.Type, bs) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func align(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}
