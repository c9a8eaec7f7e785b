package loader

import (
	"os"

	"go.uber.org/zap"

	"github.com/wnxd/microshim/internal/native"
)

// mapImage reserves a region for the image and copies headers and section
// contents into it at their virtual offsets. Section protections are
// recorded here but applied by finalize, after relocation and patching
// have finished writing into the mapped image.
func (p *Process) mapImage(data []byte) error {
	size := Align(p.desc.ImageSize, uint64(os.Getpagesize()))
	region, err := native.Reserve(uintptr(p.desc.PreferredBase), size)
	if err != nil {
		return wrap(ErrMappingFailed, "reserve %#x bytes: %v", size, err)
	}
	if region.Base() != uintptr(p.desc.PreferredBase) {
		if p.loader.basePolicy == BasePolicy_PreferredOnly {
			region.Release()
			return wrap(ErrMappingFailed, "preferred base %#x unavailable", p.desc.PreferredBase)
		}
		p.log.Debug("image displaced",
			zap.Uint64("preferred", p.desc.PreferredBase),
			zap.Uintptr("base", region.Base()))
	}
	p.region = region

	dst, err := region.Bytes(0, p.desc.HeadersSize)
	if err != nil {
		return wrap(ErrMappingFailed, "headers: %v", err)
	}
	copy(dst, data[:p.desc.HeadersSize])

	for i := range p.desc.Sections {
		sec := &p.desc.Sections[i]
		dst, err := region.Bytes(sec.VirtualOffset, sec.VirtualSize)
		if err != nil {
			return wrap(ErrMappingFailed, "section %s: %v", sec.Name, err)
		}
		n := sec.RawSize
		if n > sec.VirtualSize {
			n = sec.VirtualSize
		}
		copy(dst[:n], data[sec.RawOffset:sec.RawOffset+n])
		// The virtual tail beyond the raw data is defined to be zero.
		for j := n; j < sec.VirtualSize; j++ {
			dst[j] = 0
		}
	}
	p.setState(State_Mapped)
	return nil
}

// finalize applies each section's declared protection now that every
// loader-side write into the image is complete.
func (p *Process) finalize() error {
	for i := range p.desc.Sections {
		sec := &p.desc.Sections[i]
		if err := p.region.Protect(sec.VirtualOffset, sec.VirtualSize, sec.Prot()); err != nil {
			return wrap(ErrMappingFailed, "protect %s: %v", sec.Name, err)
		}
	}
	if p.arena != nil {
		if err := p.arena.Seal(); err != nil {
			return wrap(ErrMappingFailed, "seal stub arena: %v", err)
		}
	}
	return nil
}
