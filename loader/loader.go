// Package loader maps PE32+ images into host memory and rebinds their
// imports to host-implemented shims. A loaded image becomes a Process
// whose entry point runs on a host thread and whose system calls land
// in the shim registry instead of a foreign operating system.
package loader

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wnxd/microshim/handle"
	"github.com/wnxd/microshim/pefile"
	"github.com/wnxd/microshim/shim"
)

// Loader holds the policies and shim registry shared by every image it
// loads. A single Loader may load any number of images; the registry is
// frozen on first use.
type Loader struct {
	registry     *shim.Registry
	importPolicy ImportPolicy
	basePolicy   BasePolicy
	log          *zap.Logger
}

func New(options ...Option) *Loader {
	l := &Loader{
		registry:     shim.NewRegistry(),
		importPolicy: ImportPolicy_Permissive,
		basePolicy:   BasePolicy_Fallback,
		log:          zap.NewNop(),
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Registry returns the shim registry the loader binds imports against.
// Registrations are only accepted before the first Load.
func (l *Loader) Registry() *shim.Registry {
	return l.registry
}

// Load runs the full pipeline on a raw image: parse, map, relocate,
// patch. On success the returned process is ready to Run. On failure
// every resource acquired along the way has already been released.
func (l *Loader) Load(data []byte) (*Process, error) {
	img, err := pefile.Parse(data)
	if err != nil {
		return nil, err
	}
	l.registry.Freeze()

	proc := &Process{
		loader:   l,
		desc:     img,
		log:      l.log,
		handles:  handle.NewTable(),
		resolved: make(map[uint64]*shim.Entry),
		state:    State_Parsed,
		exited:   make(chan struct{}),
	}
	if err := proc.mapImage(data); err != nil {
		proc.fail(err)
		return nil, err
	}
	if err := proc.relocate(); err != nil {
		proc.fail(err)
		return nil, err
	}
	if err := proc.patchImports(); err != nil {
		proc.fail(err)
		return nil, err
	}
	if err := proc.finalize(); err != nil {
		proc.fail(err)
		return nil, err
	}
	proc.setState(State_Patched)
	l.log.Info("image loaded",
		zap.Uint64("preferred", img.PreferredBase),
		zap.Uintptr("base", proc.region.Base()),
		zap.Int("imports", len(img.Imports)),
		zap.Int("unresolved", len(proc.unresolved)))
	return proc, nil
}

// fail releases everything a partially loaded process acquired.
func (p *Process) fail(err error) {
	p.setState(State_Failed)
	p.log.Warn("load failed", zap.Error(err))
	p.handles.Drain()
	if p.arena != nil {
		p.arena.Release()
		p.arena = nil
	}
	if p.region != nil {
		p.region.Release()
		p.region = nil
	}
}

func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
