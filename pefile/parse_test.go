package pefile

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnxd/microshim/internal/petest"
)

func buildImage(t *testing.T) ([]byte, *petest.Layout) {
	t.Helper()
	code := []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3}
	data, layout := petest.NewBuilder(0x140000000).
		Section(".text", code, petest.CodeSection).
		Section(".data", make([]byte, 32), petest.DataSection).
		Import("kernel32.dll", "WriteFile").
		Import("kernel32.dll", "CloseHandle").
		ImportOrdinal("vendor.dll", 7).
		Reloc(0x1008, IMAGE_REL_BASED_DIR64).
		Reloc(0x1010, IMAGE_REL_BASED_HIGHLOW).
		Build()
	return data, layout
}

func TestParse(t *testing.T) {
	data, layout := buildImage(t)
	img, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, uint64(0x140000000), img.PreferredBase)
	assert.Equal(t, uint64(layout.ImageSize), img.ImageSize)
	assert.Equal(t, uint64(0x1000), img.EntryOffset)
	require.Len(t, img.Sections, 4)
	assert.Equal(t, ".text", img.Sections[0].Name)
	assert.Equal(t, MEM_PROT_READ|MEM_PROT_EXEC, img.Sections[0].Prot())
	assert.Equal(t, MEM_PROT_READ|MEM_PROT_WRITE, img.Sections[1].Prot())
	assert.True(t, img.Relocatable())
}

func TestParseImports(t *testing.T) {
	data, layout := buildImage(t)
	img, err := Parse(data)
	require.NoError(t, err)

	require.Len(t, img.Imports, 3)
	writeFile := img.Imports[0]
	assert.Equal(t, "kernel32.dll", writeFile.Module)
	assert.Equal(t, "WriteFile", writeFile.Name)
	assert.False(t, writeFile.ByOrdinal())
	assert.Equal(t, uint64(layout.Slot("kernel32.dll", "WriteFile")), writeFile.SlotOffset)

	byOrd := img.Imports[2]
	assert.Equal(t, "vendor.dll", byOrd.Module)
	assert.True(t, byOrd.ByOrdinal())
	assert.Equal(t, uint16(7), byOrd.Ordinal)
	assert.Equal(t, uint64(layout.Slot("vendor.dll", "#7")), byOrd.SlotOffset)
}

func TestParseRelocations(t *testing.T) {
	data, _ := buildImage(t)
	img, err := Parse(data)
	require.NoError(t, err)

	require.Len(t, img.Relocations, 1)
	block := img.Relocations[0]
	assert.Equal(t, uint64(0x1000), block.PageOffset)
	require.Len(t, block.Entries, 2)
	assert.Equal(t, uint8(IMAGE_REL_BASED_DIR64), block.Entries[0].Type)
	assert.Equal(t, uint16(0x8), block.Entries[0].Offset)
	assert.Equal(t, uint8(IMAGE_REL_BASED_HIGHLOW), block.Entries[1].Type)
	assert.Equal(t, uint16(0x10), block.Entries[1].Offset)
}

func TestParseWithoutRelocations(t *testing.T) {
	data, _ := petest.NewBuilder(0x140000000).
		Section(".text", []byte{0xC3}, petest.CodeSection).
		Build()
	img, err := Parse(data)
	require.NoError(t, err)
	assert.False(t, img.Relocatable())
	assert.Empty(t, img.Imports)
}

// Header field offsets in images petest builds.
const (
	offMachine         = 68
	offCharacteristics = 86
	offOptMagic        = 88
	offEntry           = 88 + 16
	offSectionAlign    = 88 + 32
	offHeadersSize     = 88 + 60
	offFirstSectionRaw = 88 + 240 + 20
)

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(data []byte)
		sentinel error
	}{
		{"bad dos magic", func(d []byte) { d[0] = 'X' }, ErrMalformedImage},
		{"bad nt signature", func(d []byte) { d[64] = 0 }, ErrMalformedImage},
		{"wrong machine", func(d []byte) { binary.LittleEndian.PutUint16(d[offMachine:], 0x14C) }, ErrMalformedImage},
		{"not executable", func(d []byte) { binary.LittleEndian.PutUint16(d[offCharacteristics:], 0) }, ErrMalformedImage},
		{"dll image", func(d []byte) { binary.LittleEndian.PutUint16(d[offCharacteristics:], 0x2002) }, ErrUnsupportedFeature},
		{"pe32 image", func(d []byte) { binary.LittleEndian.PutUint16(d[offOptMagic:], 0x10B) }, ErrUnsupportedFeature},
		{"zero entry", func(d []byte) { binary.LittleEndian.PutUint32(d[offEntry:], 0) }, ErrMalformedImage},
		{"entry outside image", func(d []byte) { binary.LittleEndian.PutUint32(d[offEntry:], 0x7FFFFFFF) }, ErrMalformedImage},
		{"zero alignment", func(d []byte) { binary.LittleEndian.PutUint32(d[offSectionAlign:], 0) }, ErrMalformedImage},
		{"headers beyond file", func(d []byte) { binary.LittleEndian.PutUint32(d[offHeadersSize:], 0xFFFFF0) }, ErrMalformedImage},
		{"section raw data beyond file", func(d []byte) { binary.LittleEndian.PutUint32(d[offFirstSectionRaw:], 0xFFFFF0) }, ErrMalformedImage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, _ := buildImage(t)
			tc.mutate(data)
			_, err := Parse(data)
			assert.ErrorIs(t, err, tc.sentinel)
		})
	}
}

func TestParseTruncated(t *testing.T) {
	data, _ := buildImage(t)
	for _, n := range []int{0, 16, 63, 70, 200} {
		_, err := Parse(data[:n])
		assert.ErrorIs(t, err, ErrMalformedImage, "prefix of %d bytes", n)
	}
}
