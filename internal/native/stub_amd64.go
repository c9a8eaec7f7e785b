//go:build amd64

package native

import "encoding/binary"

// SentinelStub builds a callable body that returns value without touching
// its arguments: mov eax, imm32; ret. It satisfies any of the supported
// calling conventions for integer-returning routines, which is all an
// unresolved import is allowed to pretend to be.
func SentinelStub(value uint32) ([]byte, error) {
	code := make([]byte, 0, 6)
	code = append(code, 0xB8) // mov eax, imm32
	code = binary.LittleEndian.AppendUint32(code, value)
	code = append(code, 0xC3) // ret
	return code, nil
}
