package native

import (
	"errors"
	"sync"

	"github.com/wnxd/microshim/pefile"
)

// Arena is a small executable region holding generated stubs: sentinel
// bodies for unresolved imports and any prebuilt code a load needs. Stubs
// are written while the arena is writable; Seal flips it to read/execute
// before control ever reaches the image.
type Arena struct {
	mu     sync.Mutex
	region *Region
	off    uint64
	sealed bool
}

const arenaSize = 1 << 16

func NewArena() (*Arena, error) {
	region, err := Reserve(0, arenaSize)
	if err != nil {
		return nil, err
	}
	return &Arena{region: region}, nil
}

// Place copies code into the arena and returns its executable address.
func (a *Arena) Place(code []byte) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return 0, errors.New("arena sealed")
	}
	dst, err := a.region.Bytes(a.off, uint64(len(code)))
	if err != nil {
		return 0, errors.New("arena full")
	}
	copy(dst, code)
	addr := a.region.Base() + uintptr(a.off)
	// keep stubs 16-byte aligned for the target ABI
	a.off += (uint64(len(code)) + 15) &^ 15
	return addr, nil
}

// Seal makes the arena executable and read-only.
func (a *Arena) Seal() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return nil
	}
	a.sealed = true
	return a.region.Protect(0, a.region.Size(), pefile.MEM_PROT_READ|pefile.MEM_PROT_EXEC)
}

func (a *Arena) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.region.Release()
}
