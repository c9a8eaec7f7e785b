package pefile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/Binject/debug/pe"
)

// Data directory indices used by the loader.
const (
	dirImport    = 1
	dirBaseReloc = 5
)

type parser struct {
	data     []byte
	hdrSize  uint64
	sections []Section
}

// Parse reads a PE32+ executable from data and returns its descriptor.
// It fails with ErrMalformedImage when the buffer is not a valid image of
// the supported machine, and with ErrUnsupportedFeature when the image uses
// a format variant the loader does not implement. Every section's raw and
// virtual extents are validated here; the mapper never re-checks them.
func Parse(data []byte) (*Image, error) {
	if len(data) < dosHeaderSize {
		return nil, fmt.Errorf("%w: file smaller than DOS header", ErrMalformedImage)
	}
	p := &parser{data: data}
	if binary.LittleEndian.Uint16(data) != dosMagic {
		return nil, fmt.Errorf("%w: bad DOS magic", ErrMalformedImage)
	}
	lfanew := uint64(binary.LittleEndian.Uint32(data[0x3C:]))
	sig, err := p.u32(lfanew)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated NT signature", ErrMalformedImage)
	}
	if sig != ntSignature {
		return nil, fmt.Errorf("%w: bad NT signature %#x", ErrMalformedImage, sig)
	}

	var fh pe.FileHeader
	if err := p.readInto(lfanew+4, fileHeaderSize, &fh); err != nil {
		return nil, fmt.Errorf("%w: truncated file header", ErrMalformedImage)
	}
	if fh.Machine != pe.IMAGE_FILE_MACHINE_AMD64 {
		return nil, fmt.Errorf("%w: machine %#x", ErrMalformedImage, fh.Machine)
	}
	if fh.Characteristics&IMAGE_FILE_EXECUTABLE_IMAGE == 0 {
		return nil, fmt.Errorf("%w: not an executable image", ErrMalformedImage)
	}
	if fh.Characteristics&IMAGE_FILE_DLL != 0 {
		return nil, fmt.Errorf("%w: DLL images", ErrUnsupportedFeature)
	}

	optOff := lfanew + 4 + fileHeaderSize
	magic, err := p.u16(optOff)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated optional header", ErrMalformedImage)
	}
	if magic == 0x10B {
		return nil, fmt.Errorf("%w: PE32 images", ErrUnsupportedFeature)
	}
	if magic != magicPE32Plus {
		return nil, fmt.Errorf("%w: optional header magic %#x", ErrMalformedImage, magic)
	}
	if fh.SizeOfOptionalHeader != optionalHeader64Sz {
		return nil, fmt.Errorf("%w: optional header size %d", ErrUnsupportedFeature, fh.SizeOfOptionalHeader)
	}
	var opt pe.OptionalHeader64
	if err := p.readInto(optOff, optionalHeader64Sz, &opt); err != nil {
		return nil, fmt.Errorf("%w: truncated optional header", ErrMalformedImage)
	}
	if opt.SectionAlignment == 0 || opt.FileAlignment == 0 {
		return nil, fmt.Errorf("%w: zero alignment", ErrMalformedImage)
	}

	imageSize := uint64(opt.SizeOfImage)
	hdrSize := uint64(opt.SizeOfHeaders)
	hdrEnd := optOff + optionalHeader64Sz + uint64(fh.NumberOfSections)*sectionHeaderSize
	if hdrSize < hdrEnd || hdrSize > imageSize || hdrSize > uint64(len(data)) {
		return nil, fmt.Errorf("%w: header size %#x out of range", ErrMalformedImage, hdrSize)
	}
	entry := uint64(opt.AddressOfEntryPoint)
	if entry == 0 || entry >= imageSize {
		return nil, fmt.Errorf("%w: entry point %#x out of range", ErrMalformedImage, entry)
	}
	p.hdrSize = hdrSize

	img := &Image{
		Machine:       fh.Machine,
		PreferredBase: opt.ImageBase,
		ImageSize:     imageSize,
		HeadersSize:   hdrSize,
		EntryOffset:   entry,
	}
	if err := p.parseSections(optOff+optionalHeader64Sz, int(fh.NumberOfSections), img); err != nil {
		return nil, err
	}
	if err := p.parseImports(opt.DataDirectory[dirImport], img); err != nil {
		return nil, err
	}
	if err := p.parseRelocations(opt.DataDirectory[dirBaseReloc], img); err != nil {
		return nil, err
	}
	return img, nil
}

func (p *parser) parseSections(off uint64, count int, img *Image) error {
	for i := 0; i < count; i++ {
		var sh pe.SectionHeader32
		if err := p.readInto(off+uint64(i)*sectionHeaderSize, sectionHeaderSize, &sh); err != nil {
			return fmt.Errorf("%w: truncated section table", ErrMalformedImage)
		}
		sec := Section{
			Name:            strings.TrimRight(string(sh.Name[:]), "\x00"),
			VirtualOffset:   uint64(sh.VirtualAddress),
			VirtualSize:     uint64(sh.VirtualSize),
			RawOffset:       uint64(sh.PointerToRawData),
			RawSize:         uint64(sh.SizeOfRawData),
			Characteristics: sh.Characteristics,
		}
		if sec.VirtualSize == 0 {
			sec.VirtualSize = sec.RawSize
		}
		if sec.RawSize > 0 {
			if end := sec.RawOffset + sec.RawSize; end < sec.RawOffset || end > uint64(len(p.data)) {
				return fmt.Errorf("%w: section %q raw data [%#x, %#x) outside file", ErrMalformedImage, sec.Name, sec.RawOffset, end)
			}
		}
		span := max(sec.VirtualSize, sec.RawSize)
		if end := sec.VirtualOffset + span; end < sec.VirtualOffset || end > img.ImageSize {
			return fmt.Errorf("%w: section %q virtual extent [%#x, %#x) outside image", ErrMalformedImage, sec.Name, sec.VirtualOffset, end)
		}
		p.sections = append(p.sections, sec)
	}
	img.Sections = p.sections
	return nil
}

func (p *parser) parseImports(dir pe.DataDirectory, img *Image) error {
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}
	count := dir.Size / importDescSize
	for i := uint32(0); i < count; i++ {
		off, err := p.rvaToOff(uint64(dir.VirtualAddress) + uint64(i)*importDescSize)
		if err != nil {
			return err
		}
		desc, err := p.bytesAt(off, importDescSize)
		if err != nil {
			return err
		}
		ilt := uint64(binary.LittleEndian.Uint32(desc[0:]))
		nameRVA := uint64(binary.LittleEndian.Uint32(desc[12:]))
		iat := uint64(binary.LittleEndian.Uint32(desc[16:]))
		if nameRVA == 0 && iat == 0 {
			break
		}
		if iat == 0 {
			return fmt.Errorf("%w: import descriptor %d has no address table", ErrMalformedImage, i)
		}
		if ilt == 0 {
			// bound imports reuse the address table as the lookup table
			ilt = iat
		}
		module, err := p.cstringAtRVA(nameRVA)
		if err != nil {
			return err
		}
		if err := p.parseThunks(module, ilt, iat, img); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseThunks(module string, ilt, iat uint64, img *Image) error {
	for i := uint64(0); ; i++ {
		off, err := p.rvaToOff(ilt + i*8)
		if err != nil {
			return err
		}
		val, err := p.u64(off)
		if err != nil {
			return err
		}
		if val == 0 {
			return nil
		}
		slot := iat + i*8
		if slot+8 > img.ImageSize {
			return fmt.Errorf("%w: import slot %#x outside image", ErrMalformedImage, slot)
		}
		imp := Import{Module: module, SlotOffset: slot}
		if val&ordinalFlag64 != 0 {
			imp.Ordinal = uint16(val)
		} else {
			// skip the two hint bytes of the hint/name entry
			name, err := p.cstringAtRVA((val & 0x7FFFFFFF) + 2)
			if err != nil {
				return err
			}
			if name == "" {
				return fmt.Errorf("%w: empty import name in %s", ErrMalformedImage, module)
			}
			imp.Name = name
		}
		img.Imports = append(img.Imports, imp)
	}
}

func (p *parser) parseRelocations(dir pe.DataDirectory, img *Image) error {
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}
	for off := uint64(0); off+8 <= uint64(dir.Size); {
		blockOff, err := p.rvaToOff(uint64(dir.VirtualAddress) + off)
		if err != nil {
			return err
		}
		pageRVA, err := p.u32(blockOff)
		if err != nil {
			return err
		}
		blockSize, err := p.u32(blockOff + 4)
		if err != nil {
			return err
		}
		if pageRVA == 0 && blockSize == 0 {
			break
		}
		if blockSize < 8 || off+uint64(blockSize) > uint64(dir.Size) {
			return fmt.Errorf("%w: relocation block size %d", ErrMalformedImage, blockSize)
		}
		if uint64(pageRVA) >= img.ImageSize {
			return fmt.Errorf("%w: relocation page %#x outside image", ErrMalformedImage, pageRVA)
		}
		block := RelocBlock{PageOffset: uint64(pageRVA)}
		raw, err := p.bytesAt(blockOff+8, uint64(blockSize)-8)
		if err != nil {
			return err
		}
		for i := 0; i+2 <= len(raw); i += 2 {
			ent := binary.LittleEndian.Uint16(raw[i:])
			block.Entries = append(block.Entries, RelocEntry{
				Type:   uint8(ent >> 12),
				Offset: ent & 0xFFF,
			})
		}
		img.Relocations = append(img.Relocations, block)
		off += uint64(blockSize)
	}
	return nil
}

func (p *parser) bytesAt(off, size uint64) ([]byte, error) {
	if end := off + size; end < off || end > uint64(len(p.data)) {
		return nil, fmt.Errorf("%w: range [%#x, %#x) outside file", ErrMalformedImage, off, off+size)
	}
	return p.data[off : off+size], nil
}

func (p *parser) readInto(off, size uint64, v any) error {
	b, err := p.bytesAt(off, size)
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}

func (p *parser) u16(off uint64) (uint16, error) {
	b, err := p.bytesAt(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (p *parser) u32(off uint64) (uint32, error) {
	b, err := p.bytesAt(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (p *parser) u64(off uint64) (uint64, error) {
	b, err := p.bytesAt(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// rvaToOff maps an image-relative address onto a file offset using the
// section table, or the header region for addresses below SizeOfHeaders.
func (p *parser) rvaToOff(rva uint64) (uint64, error) {
	if rva < p.hdrSize {
		return rva, nil
	}
	for i := range p.sections {
		s := &p.sections[i]
		if rva >= s.VirtualOffset && rva < s.VirtualOffset+s.RawSize {
			return s.RawOffset + (rva - s.VirtualOffset), nil
		}
	}
	return 0, fmt.Errorf("%w: rva %#x maps outside file data", ErrMalformedImage, rva)
}

func (p *parser) cstringAtRVA(rva uint64) (string, error) {
	off, err := p.rvaToOff(rva)
	if err != nil {
		return "", err
	}
	end := bytes.IndexByte(p.data[off:], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string at %#x", ErrMalformedImage, off)
	}
	return string(p.data[off : off+uint64(end)]), nil
}
