package handle

import "sync"

// handle values start above the reserved range and step like the platform's
// own tables do; the counter only ever grows, so a closed handle is never
// reissued to a different live resource.
const (
	firstHandle Handle = 4
	handleStep  Handle = 4
)

// Table maps live handles to host resources. All methods are safe for
// concurrent use; callers never need external locking. Blocking host calls
// belong outside the table: look the resource up, release the lock, then
// operate on it.
type Table struct {
	mu   sync.RWMutex
	next Handle
	live map[Handle]Resource
}

func NewTable() *Table {
	return &Table{
		next: firstHandle,
		live: make(map[Handle]Resource),
	}
}

// Allocate stores res and issues a fresh handle for it.
func (t *Table) Allocate(res Resource) Handle {
	t.mu.Lock()
	h := t.next
	t.next += handleStep
	t.live[h] = res
	t.mu.Unlock()
	return h
}

// Lookup returns the resource behind h, or ErrInvalidHandle when h was never
// allocated or is already closed.
func (t *Table) Lookup(h Handle) (Resource, error) {
	t.mu.RLock()
	res, ok := t.live[h]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidHandle
	}
	return res, nil
}

// Close removes h and releases its host resource exactly once. A second
// close of the same handle reports ErrInvalidHandle rather than being
// silently ignored.
func (t *Table) Close(h Handle) error {
	t.mu.Lock()
	res, ok := t.live[h]
	if ok {
		delete(t.live, h)
	}
	t.mu.Unlock()
	if !ok {
		return ErrInvalidHandle
	}
	return res.Close()
}

func (t *Table) Len() int {
	t.mu.RLock()
	n := len(t.live)
	t.mu.RUnlock()
	return n
}

// Drain force-closes every live entry and returns how many were released.
// Used at process teardown; per-resource close errors are discarded since
// the simulated process is gone either way.
func (t *Table) Drain() int {
	t.mu.Lock()
	live := t.live
	t.live = make(map[Handle]Resource)
	t.mu.Unlock()
	for _, res := range live {
		res.Close()
	}
	return len(live)
}
