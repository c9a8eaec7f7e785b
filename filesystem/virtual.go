package filesystem

import (
	"io"
	"io/fs"
	"sync"
	"time"
)

// VirtualFS serves the image entirely from memory. Names are translated
// like Dir does, so "C:\data\in.txt" and "/data/in.txt" address the same
// entry.
type VirtualFS struct {
	mu    sync.RWMutex
	files map[string]*memFile
}

func NewVirtualFS() *VirtualFS {
	return &VirtualFS{files: make(map[string]*memFile)}
}

// Put seeds a file, replacing any existing entry of the same name.
func (v *VirtualFS) Put(name string, data []byte) {
	key := Translate(name)
	v.mu.Lock()
	v.files[key] = &memFile{name: key, mode: 0o644, modTime: time.Now(), data: data}
	v.mu.Unlock()
}

// Content returns a copy of a file's current bytes.
func (v *VirtualFS) Content(name string) ([]byte, bool) {
	v.mu.RLock()
	f, ok := v.files[Translate(name)]
	v.mu.RUnlock()
	if !ok {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, true
}

func (v *VirtualFS) OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error) {
	key := Translate(name)
	if key == "" {
		return nil, fs.ErrNotExist
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.files[key]
	switch {
	case ok && flag&(O_CREATE|O_EXCL) == O_CREATE|O_EXCL:
		return nil, fs.ErrExist
	case !ok && flag&O_CREATE == 0:
		return nil, fs.ErrNotExist
	case !ok:
		f = &memFile{name: key, mode: perm, modTime: time.Now()}
		v.files[key] = f
	}
	if flag&O_TRUNC != 0 {
		f.mu.Lock()
		f.data = nil
		f.mu.Unlock()
	}
	return &memHandle{file: f}, nil
}

type memFile struct {
	mu      sync.Mutex
	name    string
	mode    fs.FileMode
	modTime time.Time
	data    []byte
}

type memHandle struct {
	file *memFile
	off  int
}

func (h *memHandle) Read(b []byte) (int, error) {
	h.file.mu.Lock()
	defer h.file.mu.Unlock()
	if h.off >= len(h.file.data) {
		return 0, io.EOF
	}
	n := copy(b, h.file.data[h.off:])
	h.off += n
	return n, nil
}

func (h *memHandle) Write(b []byte) (int, error) {
	h.file.mu.Lock()
	defer h.file.mu.Unlock()
	if grow := h.off + len(b) - len(h.file.data); grow > 0 {
		h.file.data = append(h.file.data, make([]byte, grow)...)
	}
	n := copy(h.file.data[h.off:], b)
	h.off += n
	h.file.modTime = time.Now()
	return n, nil
}

func (h *memHandle) Close() error { return nil }

func (h *memHandle) Stat() (fs.FileInfo, error) {
	h.file.mu.Lock()
	defer h.file.mu.Unlock()
	return fileInfo{
		name:    h.file.name,
		size:    int64(len(h.file.data)),
		mode:    h.file.mode,
		modTime: h.file.modTime,
	}, nil
}

type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (i fileInfo) Name() string       { return i.name }
func (i fileInfo) Size() int64        { return i.size }
func (i fileInfo) Mode() fs.FileMode  { return i.mode }
func (i fileInfo) ModTime() time.Time { return i.modTime }
func (i fileInfo) IsDir() bool        { return false }
func (i fileInfo) Sys() any           { return nil }
