package loader

import "golang.org/x/exp/constraints"

// Align rounds addr up to the nearest multiple of align.
// align must be a power of two.
func Align[T constraints.Integer](addr, align T) T {
	mask := align - 1
	return (addr + mask) &^ mask
}
