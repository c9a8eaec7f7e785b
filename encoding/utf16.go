package encoding

import "unicode/utf16"

// UTF16FromString converts s to a NUL-terminated UTF-16 buffer, the string
// shape wide-character platform services expect.
func UTF16FromString(s string) []uint16 {
	return append(utf16.Encode([]rune(s)), 0)
}

// StringFromUTF16 converts a UTF-16 buffer (without terminator) to a Go
// string.
func StringFromUTF16(u []uint16) string {
	return string(utf16.Decode(u))
}
