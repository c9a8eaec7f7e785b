// package petest assembles minimal PE32+ executables in memory for loader
// tests: a handful of sections, an import table, and a relocation table,
// with the layout reported back so tests can address the slots they expect
// the loader to rewrite.
package petest

import (
	"encoding/binary"
	"fmt"
)

const (
	sectionAlign = 0x1000
	fileAlign    = 0x200
	headerSize   = 0x200

	machineAMD64 = 0x8664
	// EXECUTABLE_IMAGE | LARGE_ADDRESS_AWARE
	fileCharacteristics = 0x0022
)

// Section characteristics for the common section shapes.
const (
	CodeSection  = 0x60000020 // code, read, execute
	DataSection  = 0xC0000040 // initialized data, read, write
	RDataSection = 0x40000040 // initialized data, read
)

type section struct {
	name            string
	data            []byte
	virtualSize     uint32
	characteristics uint32
}

type importEntry struct {
	module  string
	name    string
	ordinal uint16
}

type relocEntry struct {
	rva uint32
	typ uint8
}

// Builder accumulates the pieces of a test image. Sections appear in the
// order added; import and relocation sections are synthesized last.
type Builder struct {
	imageBase uint64
	entryRVA  uint32
	sections  []section
	imports   []importEntry
	relocs    []relocEntry
}

// Layout reports where Build placed everything, keyed the way tests ask
// for it.
type Layout struct {
	SectionRVA map[string]uint32
	ImportSlot map[string]uint32
	ImageSize  uint32
}

// Slot returns the image-relative offset of an import's address slot.
// symbol is the function name, or "#n" for an ordinal import.
func (l *Layout) Slot(module, symbol string) uint32 {
	return l.ImportSlot[module+"!"+symbol]
}

func NewBuilder(imageBase uint64) *Builder {
	return &Builder{imageBase: imageBase}
}

// Section appends a section. The first section added becomes the default
// entry point.
func (b *Builder) Section(name string, data []byte, characteristics uint32) *Builder {
	return b.SectionSized(name, data, uint32(len(data)), characteristics)
}

// SectionSized appends a section whose virtual size exceeds its raw data,
// leaving a tail the loader must zero-fill.
func (b *Builder) SectionSized(name string, data []byte, virtualSize uint32, characteristics uint32) *Builder {
	if virtualSize < uint32(len(data)) {
		panic("petest: virtual size smaller than raw data")
	}
	b.sections = append(b.sections, section{name, data, virtualSize, characteristics})
	return b
}

// Entry overrides the default entry point RVA.
func (b *Builder) Entry(rva uint32) *Builder {
	b.entryRVA = rva
	return b
}

func (b *Builder) Import(module, name string) *Builder {
	b.imports = append(b.imports, importEntry{module: module, name: name})
	return b
}

func (b *Builder) ImportOrdinal(module string, ordinal uint16) *Builder {
	b.imports = append(b.imports, importEntry{module: module, ordinal: ordinal})
	return b
}

// Reloc records one base relocation entry at rva.
func (b *Builder) Reloc(rva uint32, typ uint8) *Builder {
	b.relocs = append(b.relocs, relocEntry{rva, typ})
	return b
}

// Build assembles the image. It panics on a builder misuse such as an
// empty image, since the caller is always a test.
func (b *Builder) Build() ([]byte, *Layout) {
	if len(b.sections) == 0 {
		panic("petest: image needs at least one section")
	}
	layout := &Layout{
		SectionRVA: make(map[string]uint32),
		ImportSlot: make(map[string]uint32),
	}

	sections := make([]section, len(b.sections))
	copy(sections, b.sections)

	// Place user sections to learn the synthesized sections' base RVAs.
	va := uint32(sectionAlign)
	for _, s := range sections {
		va += alignUp(s.virtualSize, sectionAlign)
	}
	var importDirSize uint32
	if len(b.imports) > 0 {
		data, slots, dirSize := buildImportSection(va, b.imports)
		for k, v := range slots {
			layout.ImportSlot[k] = v
		}
		importDirSize = dirSize
		layout.SectionRVA[".idata"] = va
		sections = append(sections, section{".idata", data, uint32(len(data)), DataSection})
		va += alignUp(uint32(len(data)), sectionAlign)
	}
	importDirRVA := layout.SectionRVA[".idata"]
	var relocDirRVA, relocDirSize uint32
	if len(b.relocs) > 0 {
		data := buildRelocSection(b.relocs)
		relocDirRVA = va
		relocDirSize = uint32(len(data))
		layout.SectionRVA[".reloc"] = va
		sections = append(sections, section{".reloc", data, uint32(len(data)), RDataSection})
		va += alignUp(uint32(len(data)), sectionAlign)
	}
	layout.ImageSize = va

	hdrEnd := 64 + 4 + 20 + 240 + len(sections)*40
	if hdrEnd > headerSize {
		panic(fmt.Sprintf("petest: %d sections overflow the header block", len(sections)))
	}

	// Assign raw offsets and total file size.
	rawOff := make([]uint32, len(sections))
	raw := uint32(headerSize)
	for i, s := range sections {
		rawOff[i] = raw
		raw += alignUp(uint32(len(s.data)), fileAlign)
	}
	img := make(image, raw)

	img.u16(0, 0x5A4D)
	img.u32(0x3C, 64)
	img.u32(64, 0x4550)

	// File header.
	img.u16(68, machineAMD64)
	img.u16(70, uint16(len(sections)))
	img.u16(84, 240)
	img.u16(86, fileCharacteristics)

	// Optional header.
	entry := b.entryRVA
	if entry == 0 {
		entry = sectionAlign
	}
	opt := 88
	img.u16(opt, 0x20B)
	img.u32(opt+16, entry)
	img.u64(opt+24, b.imageBase)
	img.u32(opt+32, sectionAlign)
	img.u32(opt+36, fileAlign)
	img.u16(opt+48, 6) // subsystem version
	img.u32(opt+56, layout.ImageSize)
	img.u32(opt+60, headerSize)
	img.u16(opt+68, 3) // console subsystem
	img.u64(opt+72, 0x100000)
	img.u64(opt+80, 0x1000)
	img.u64(opt+88, 0x100000)
	img.u64(opt+96, 0x1000)
	img.u32(opt+108, 16) // NumberOfRvaAndSizes
	dirs := opt + 112
	if importDirSize > 0 {
		img.u32(dirs+1*8, importDirRVA)
		img.u32(dirs+1*8+4, importDirSize)
	}
	if relocDirSize > 0 {
		img.u32(dirs+5*8, relocDirRVA)
		img.u32(dirs+5*8+4, relocDirSize)
	}

	// Section table and raw data.
	table := opt + 240
	va = sectionAlign
	for i, s := range sections {
		hdr := table + i*40
		copy(img[hdr:hdr+8], s.name)
		img.u32(hdr+8, s.virtualSize)
		img.u32(hdr+12, va)
		img.u32(hdr+16, alignUp(uint32(len(s.data)), fileAlign))
		img.u32(hdr+20, rawOff[i])
		img.u32(hdr+36, s.characteristics)
		if _, seen := layout.SectionRVA[s.name]; !seen {
			layout.SectionRVA[s.name] = va
		}
		copy(img[rawOff[i]:], s.data)
		va += alignUp(s.virtualSize, sectionAlign)
	}
	return img, layout
}

// buildImportSection lays out descriptors, lookup and address tables, and
// the name strings for one synthesized .idata section based at base.
func buildImportSection(base uint32, imports []importEntry) ([]byte, map[string]uint32, uint32) {
	type group struct {
		module  string
		entries []importEntry
	}
	var groups []group
	index := make(map[string]int)
	for _, imp := range imports {
		i, ok := index[imp.module]
		if !ok {
			i = len(groups)
			index[imp.module] = i
			groups = append(groups, group{module: imp.module})
		}
		groups[i].entries = append(groups[i].entries, imp)
	}

	descSize := uint32(len(groups)+1) * 20
	cur := descSize
	iltOff := make([]uint32, len(groups))
	iatOff := make([]uint32, len(groups))
	for i, g := range groups {
		iltOff[i] = cur
		cur += uint32(len(g.entries)+1) * 8
		iatOff[i] = cur
		cur += uint32(len(g.entries)+1) * 8
	}

	// Name blobs follow the tables.
	var names []byte
	nameRVA := func(s string) uint32 {
		rva := base + cur + uint32(len(names))
		names = append(names, s...)
		names = append(names, 0)
		return rva
	}
	hintNameRVA := func(s string) uint32 {
		rva := base + cur + uint32(len(names))
		names = append(names, 0, 0)
		names = append(names, s...)
		names = append(names, 0)
		return rva
	}

	slots := make(map[string]uint32)
	buf := make(image, cur)
	for i, g := range groups {
		desc := uint32(i) * 20
		buf.u32(int(desc), base+iltOff[i])
		buf.u32(int(desc)+12, nameRVA(g.module))
		buf.u32(int(desc)+16, base+iatOff[i])
		for j, imp := range g.entries {
			var thunk uint64
			key := g.module + "!"
			if imp.name != "" {
				thunk = uint64(hintNameRVA(imp.name))
				key += imp.name
			} else {
				thunk = 1<<63 | uint64(imp.ordinal)
				key += fmt.Sprintf("#%d", imp.ordinal)
			}
			buf.u64(int(iltOff[i])+j*8, thunk)
			buf.u64(int(iatOff[i])+j*8, thunk)
			slots[key] = base + iatOff[i] + uint32(j)*8
		}
	}
	return append(buf, names...), slots, descSize
}

// buildRelocSection groups entries by page and emits the block stream.
func buildRelocSection(relocs []relocEntry) []byte {
	type block struct {
		page    uint32
		entries []uint16
	}
	var blocks []block
	index := make(map[uint32]int)
	for _, r := range relocs {
		page := r.rva &^ 0xFFF
		i, ok := index[page]
		if !ok {
			i = len(blocks)
			index[page] = i
			blocks = append(blocks, block{page: page})
		}
		blocks[i].entries = append(blocks[i].entries,
			uint16(r.typ)<<12|uint16(r.rva&0xFFF))
	}
	var out []byte
	for _, blk := range blocks {
		if len(blk.entries)%2 != 0 {
			// keep blocks 4-byte aligned with an ABSOLUTE pad
			blk.entries = append(blk.entries, 0)
		}
		hdr := make(image, 8)
		hdr.u32(0, blk.page)
		hdr.u32(4, uint32(8+2*len(blk.entries)))
		out = append(out, hdr...)
		for _, e := range blk.entries {
			var w [2]byte
			binary.LittleEndian.PutUint16(w[:], e)
			out = append(out, w[:]...)
		}
	}
	return out
}

func alignUp(n, a uint32) uint32 {
	return (n + a - 1) &^ (a - 1)
}

type image []byte

func (m image) u16(off int, v uint16) { binary.LittleEndian.PutUint16(m[off:], v) }
func (m image) u32(off int, v uint32) { binary.LittleEndian.PutUint32(m[off:], v) }
func (m image) u64(off int, v uint64) { binary.LittleEndian.PutUint64(m[off:], v) }
