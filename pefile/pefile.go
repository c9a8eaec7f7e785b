/*
package pefile parses PE32+ executable images from raw byte buffers into an
immutable descriptor consumed by the loader. Parsing is a pure function of
its input; every raw and virtual extent is validated against the buffer and
the declared image size before a descriptor is returned.
*/
package pefile

const (
	dosMagic      = 0x5A4D
	ntSignature   = 0x4550
	magicPE32Plus = 0x20B

	dosHeaderSize      = 64
	fileHeaderSize     = 20
	optionalHeader64Sz = 240
	sectionHeaderSize  = 40
	importDescSize     = 20
)

// File header characteristics.
const (
	IMAGE_FILE_EXECUTABLE_IMAGE = 0x0002
	IMAGE_FILE_DLL              = 0x2000
)

// Section characteristics (winnt.h subset the mapper cares about).
const (
	IMAGE_SCN_CNT_UNINITIALIZED_DATA = 0x00000080
	IMAGE_SCN_MEM_DISCARDABLE        = 0x02000000
	IMAGE_SCN_MEM_EXECUTE            = 0x20000000
	IMAGE_SCN_MEM_READ               = 0x40000000
	IMAGE_SCN_MEM_WRITE              = 0x80000000
)

// Base relocation entry types.
const (
	IMAGE_REL_BASED_ABSOLUTE = 0
	IMAGE_REL_BASED_HIGHLOW  = 3
	IMAGE_REL_BASED_DIR64    = 10
)

const ordinalFlag64 = uint64(1) << 63

type MemProt int

const (
	MEM_PROT_NONE MemProt = 0
	MEM_PROT_READ MemProt = 1 << (iota - 1)
	MEM_PROT_WRITE
	MEM_PROT_EXEC
)

// Image is the parsed, immutable view of an executable image.
type Image struct {
	Machine       uint16
	PreferredBase uint64
	ImageSize     uint64
	HeadersSize   uint64
	EntryOffset   uint64
	Sections      []Section
	Imports       []Import
	Relocations   []RelocBlock
}

// Relocatable reports whether the image carries a base relocation table and
// can therefore run at a base other than PreferredBase.
func (img *Image) Relocatable() bool {
	return len(img.Relocations) > 0
}

type Section struct {
	Name            string
	VirtualOffset   uint64
	VirtualSize     uint64
	RawOffset       uint64
	RawSize         uint64
	Characteristics uint32
}

// Prot maps the section characteristics onto memory protections.
func (s *Section) Prot() MemProt {
	var prot MemProt
	if s.Characteristics&IMAGE_SCN_MEM_READ != 0 {
		prot |= MEM_PROT_READ
	}
	if s.Characteristics&IMAGE_SCN_MEM_WRITE != 0 {
		prot |= MEM_PROT_WRITE
	}
	if s.Characteristics&IMAGE_SCN_MEM_EXECUTE != 0 {
		prot |= MEM_PROT_EXEC
	}
	return prot
}

// Import is one entry of the import table. Name is empty for imports by
// ordinal. SlotOffset is the image-relative offset of the address slot the
// patcher overwrites.
type Import struct {
	Module     string
	Name       string
	Ordinal    uint16
	SlotOffset uint64
}

func (imp *Import) ByOrdinal() bool {
	return imp.Name == ""
}

type RelocBlock struct {
	PageOffset uint64
	Entries    []RelocEntry
}

type RelocEntry struct {
	Type   uint8
	Offset uint16
}
