package loader

import (
	"errors"

	"go.uber.org/zap"

	"github.com/wnxd/microshim/internal/native"
	"github.com/wnxd/microshim/pefile"
	"github.com/wnxd/microshim/shim"
)

// UnresolvedImport records one import the registry could not satisfy.
type UnresolvedImport struct {
	Module string
	Symbol shim.Symbol
}

// patchImports rewrites every import address slot to point at host code:
// a registered shim's thunk, its prebuilt native address, or a sentinel
// stub when the registry has no entry and policy permits running anyway.
func (p *Process) patchImports() error {
	for i := range p.desc.Imports {
		imp := &p.desc.Imports[i]
		sym := importSymbol(imp)
		entry, err := p.loader.registry.Lookup(imp.Module, sym)
		switch {
		case err == nil:
			addr, err := p.bind(entry)
			if err != nil {
				return err
			}
			if err := p.region.WritePointer(imp.SlotOffset, addr); err != nil {
				return wrap(ErrMappingFailed, "slot %#x: %v", imp.SlotOffset, err)
			}
			p.resolved[imp.SlotOffset] = entry
		case errors.Is(err, shim.ErrNotFound):
			p.unresolved = append(p.unresolved, UnresolvedImport{Module: imp.Module, Symbol: sym})
			p.log.Warn("unresolved import",
				zap.String("module", imp.Module),
				zap.Stringer("symbol", sym))
			if p.loader.importPolicy == ImportPolicy_Strict {
				return wrap(ErrUnresolvedImport, "%s!%s", imp.Module, sym)
			}
			addr, err := p.sentinel()
			if err != nil {
				return err
			}
			if err := p.region.WritePointer(imp.SlotOffset, addr); err != nil {
				return wrap(ErrMappingFailed, "slot %#x: %v", imp.SlotOffset, err)
			}
		default:
			return err
		}
	}
	return nil
}

func importSymbol(imp *pefile.Import) shim.Symbol {
	if imp.ByOrdinal() {
		return shim.Ordinal(imp.Ordinal)
	}
	return shim.Name(imp.Name)
}

// bind produces the code address an import slot receives for a registered
// entry. A prebuilt native address wins; otherwise a callback thunk is
// generated, and on hosts without callback support the slot gets a
// sentinel stub so the image stays loadable. Host-side calls still reach
// the shim body through Dispatch.
func (p *Process) bind(entry *shim.Entry) (uintptr, error) {
	if entry.Native != 0 {
		return entry.Native, nil
	}
	addr, err := native.NewThunk(func(args []uintptr) uintptr {
		return entry.Func(&shim.Call{Args: args, Proc: p})
	})
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, native.ErrThunkUnsupported) {
		return 0, wrap(ErrMappingFailed, "thunk for %s!%s: %v", entry.Module, entry.Symbol(), err)
	}
	p.log.Warn("import degraded to stub, host cannot thunk",
		zap.String("module", entry.Module),
		zap.Stringer("symbol", entry.Symbol()))
	return p.sentinel()
}

// sentinel lazily builds the shared stub that parks calls into code the
// host cannot service, returning shim.NotImplemented to the image.
func (p *Process) sentinel() (uintptr, error) {
	if p.sentinelAddr != 0 {
		return p.sentinelAddr, nil
	}
	code, err := native.SentinelStub(uint32(shim.NotImplemented))
	if err != nil {
		return 0, wrap(ErrMappingFailed, "sentinel stub: %v", err)
	}
	if p.arena == nil {
		arena, err := native.NewArena()
		if err != nil {
			return 0, wrap(ErrMappingFailed, "stub arena: %v", err)
		}
		p.arena = arena
	}
	addr, err := p.arena.Place(code)
	if err != nil {
		return 0, wrap(ErrMappingFailed, "stub arena: %v", err)
	}
	p.sentinelAddr = addr
	return addr, nil
}
