/*
package handle implements the translation table between opaque foreign-style
handles and host resources. Shims allocate an entry when they acquire a host
resource on behalf of the running image and close it when the image releases
it; the loader drains whatever is left at process teardown.
*/
package handle

import (
	"errors"
	"io"
	"sync"
)

var ErrInvalidHandle = errors.New("invalid handle")

// Handle is the opaque integer the running image sees. Values are issued
// monotonically and never reused while the table lives.
type Handle uint64

type Kind int

const (
	Kind_File Kind = iota
	Kind_Thread
	Kind_Event
)

// Resource is one host object reachable from the table. Close releases the
// underlying host resource; the table guarantees it runs at most once per
// entry.
type Resource interface {
	io.Closer
	Kind() Kind
}

// File wraps a host file object. Shims assert io.Reader, io.Writer or
// io.Seeker on Object for the operations they translate.
type File struct {
	Object io.Closer
}

func (f *File) Kind() Kind { return Kind_File }

func (f *File) Close() error { return f.Object.Close() }

// Thread tracks a host thread started on behalf of the image. Done is
// closed after Code holds the routine's return value.
type Thread struct {
	Done chan struct{}
	Code uint32
}

func (t *Thread) Kind() Kind { return Kind_Thread }

// Close detaches the table entry; the host thread keeps its own lifetime.
func (t *Thread) Close() error { return nil }

func (t *Thread) Wait() uint32 {
	<-t.Done
	return t.Code
}

// Event is a manual-reset synchronization object.
type Event struct {
	mu  sync.Mutex
	set chan struct{}
}

func NewEvent(signaled bool) *Event {
	e := &Event{set: make(chan struct{})}
	if signaled {
		close(e.set)
	}
	return e
}

func (e *Event) Kind() Kind { return Kind_Event }

func (e *Event) Close() error { return nil }

func (e *Event) Set() {
	e.mu.Lock()
	select {
	case <-e.set:
	default:
		close(e.set)
	}
	e.mu.Unlock()
}

func (e *Event) Reset() {
	e.mu.Lock()
	select {
	case <-e.set:
		e.set = make(chan struct{})
	default:
	}
	e.mu.Unlock()
}

func (e *Event) Wait() <-chan struct{} {
	e.mu.Lock()
	ch := e.set
	e.mu.Unlock()
	return ch
}
