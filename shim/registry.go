package shim

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrNotFound       = errors.New("shim not found")
	ErrRegistryFrozen = errors.New("registry frozen")
)

type nameKey struct {
	module string
	name   string
}

type ordKey struct {
	module  string
	ordinal uint16
}

// Registry maps (module, symbol) to shim entries. Module matching is
// case-insensitive; an entry registered with both a name and an ordinal is
// reachable through either. Re-registering a key replaces the prior entry,
// which tests use to override individual shims.
type Registry struct {
	mu     sync.RWMutex
	frozen bool
	byName map[nameKey]*Entry
	byOrd  map[ordKey]*Entry
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[nameKey]*Entry),
		byOrd:  make(map[ordKey]*Entry),
	}
}

// Register validates and stores a shim entry. It fails once the registry is
// frozen: registration belongs to process startup, before any image loads.
func (r *Registry) Register(entry Entry) error {
	if entry.Module == "" {
		return errors.New("shim entry without module")
	}
	if entry.Name == "" && entry.Ordinal == 0 {
		return fmt.Errorf("shim %s: neither name nor ordinal", entry.Module)
	}
	if entry.Func == nil && entry.Native == 0 {
		return fmt.Errorf("shim %s!%s: no implementation", entry.Module, entry.Symbol())
	}
	switch entry.Calling {
	case Calling_Win64, Calling_Stdcall, Calling_Cdecl:
	default:
		return fmt.Errorf("shim %s!%s: calling convention %d unsupported", entry.Module, entry.Symbol(), entry.Calling)
	}
	module := normalizeModule(entry.Module)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	e := entry
	if e.Name != "" {
		r.byName[nameKey{module, e.Name}] = &e
	}
	if e.Ordinal != 0 {
		r.byOrd[ordKey{module, e.Ordinal}] = &e
	}
	return nil
}

// Freeze makes the registry read-only. The loader calls it before the first
// load so runtime lookups run without contention surprises.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup resolves an import reference. Named imports match by exact name;
// ordinal imports fall back to the ordinal index.
func (r *Registry) Lookup(module string, sym Symbol) (*Entry, error) {
	module = normalizeModule(module)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sym.Name != "" {
		if e, ok := r.byName[nameKey{module, sym.Name}]; ok {
			return e, nil
		}
		return nil, fmt.Errorf("%w: %s!%s", ErrNotFound, module, sym.Name)
	}
	if e, ok := r.byOrd[ordKey{module, sym.Ordinal}]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s!%s", ErrNotFound, module, sym)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName) + len(r.byOrd)
}

// normalizeModule lower-cases and strips a path prefix; import descriptors
// reference modules by bare file name in varying case.
func normalizeModule(module string) string {
	module = strings.ToLower(module)
	if i := strings.LastIndexAny(module, `/\`); i >= 0 {
		module = module[i+1:]
	}
	return module
}
