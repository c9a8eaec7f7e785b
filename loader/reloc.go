package loader

import "github.com/wnxd/microshim/pefile"

// relocate rewrites every absolute address the image embeds by the delta
// between the actual and preferred base. A zero delta skips the walk; a
// displaced image without a relocation table is rejected before any slot
// is touched.
func (p *Process) relocate() error {
	delta := uint64(p.region.Base()) - p.desc.PreferredBase
	if delta == 0 {
		p.setState(State_Relocated)
		return nil
	}
	if !p.desc.Relocatable() {
		return wrap(ErrRelocationFailed, "image displaced by %#x with no relocation table", delta)
	}
	for _, block := range p.desc.Relocations {
		for _, entry := range block.Entries {
			off := block.PageOffset + uint64(entry.Offset)
			switch entry.Type {
			case pefile.IMAGE_REL_BASED_ABSOLUTE:
				// Alignment padding, never applied.
			case pefile.IMAGE_REL_BASED_HIGHLOW:
				v, err := p.region.ReadUint32(off)
				if err != nil {
					return wrap(ErrRelocationFailed, "entry at %#x: %v", off, err)
				}
				if err := p.region.WriteUint32(off, v+uint32(delta)); err != nil {
					return wrap(ErrRelocationFailed, "entry at %#x: %v", off, err)
				}
			case pefile.IMAGE_REL_BASED_DIR64:
				v, err := p.region.ReadUint64(off)
				if err != nil {
					return wrap(ErrRelocationFailed, "entry at %#x: %v", off, err)
				}
				if err := p.region.WriteUint64(off, v+delta); err != nil {
					return wrap(ErrRelocationFailed, "entry at %#x: %v", off, err)
				}
			default:
				return wrap(ErrRelocationFailed, "unsupported relocation type %d at %#x", entry.Type, off)
			}
		}
	}
	p.setState(State_Relocated)
	return nil
}
