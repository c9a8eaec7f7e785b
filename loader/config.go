package loader

import (
	"go.uber.org/zap"

	"github.com/wnxd/microshim/shim"
)

// ImportPolicy decides what happens when an import has no registry entry.
type ImportPolicy int

const (
	// ImportPolicy_Permissive records the miss, logs it, and binds the
	// slot to a sentinel stub so the image can still run.
	ImportPolicy_Permissive ImportPolicy = iota
	// ImportPolicy_Strict rejects the image at patch time.
	ImportPolicy_Strict
)

// BasePolicy decides whether a mapping that landed away from the
// image's preferred base is acceptable.
type BasePolicy int

const (
	// BasePolicy_Fallback accepts any base; relocations fix the offsets.
	BasePolicy_Fallback BasePolicy = iota
	// BasePolicy_PreferredOnly rejects a displaced mapping outright.
	BasePolicy_PreferredOnly
)

type Option func(*Loader)

func WithRegistry(reg *shim.Registry) Option {
	return func(l *Loader) {
		l.registry = reg
	}
}

func WithImportPolicy(policy ImportPolicy) Option {
	return func(l *Loader) {
		l.importPolicy = policy
	}
}

func WithBasePolicy(policy BasePolicy) Option {
	return func(l *Loader) {
		l.basePolicy = policy
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) {
		l.log = log
	}
}
