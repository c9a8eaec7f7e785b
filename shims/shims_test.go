package shims

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/wnxd/microshim/encoding"
	"github.com/wnxd/microshim/filesystem"
	"github.com/wnxd/microshim/handle"
	"github.com/wnxd/microshim/shim"
)

type fakeProcess struct {
	t       *testing.T
	handles *handle.Table
	exited  chan int
}

func newFakeProcess(t *testing.T) *fakeProcess {
	return &fakeProcess{t: t, handles: handle.NewTable(), exited: make(chan int, 1)}
}

func (p *fakeProcess) Handles() *handle.Table { return p.handles }

func (p *fakeProcess) Logger() *zap.Logger { return zaptest.NewLogger(p.t) }

func (p *fakeProcess) Exit(code int) { p.exited <- code }

func call(p *fakeProcess, args ...uintptr) *shim.Call {
	return &shim.Call{Args: args, Proc: p}
}

func hostKernel32() *kernel32 {
	return &kernel32{fs: filesystem.Host()}
}

// pinned keeps test strings reachable while shims hold raw addresses into
// them.
var pinned [][]byte

// cstr pins a NUL-terminated copy of s and returns its address.
func cstr(s string) uintptr {
	b := append([]byte(s), 0)
	pinned = append(pinned, b)
	return uintptr(unsafe.Pointer(&b[0]))
}

func TestRegisterKernel32(t *testing.T) {
	reg := shim.NewRegistry()
	require.NoError(t, RegisterKernel32(reg))
	for _, name := range []string{"CreateFileA", "CreateFileW", "WriteFile", "CloseHandle", "ExitProcess"} {
		_, err := reg.Lookup("kernel32.dll", shim.Name(name))
		assert.NoError(t, err, name)
	}
}

func TestFileRoundTrip(t *testing.T) {
	k := hostKernel32()
	proc := newFakeProcess(t)
	path := filepath.Join(t.TempDir(), "out.txt")

	h := k.createFileA(call(proc, cstr(path), genericRead|genericWrite, 0, 0, createAlways, 0, 0))
	require.NotEqual(t, invalidHandle, h)
	assert.Equal(t, 1, proc.handles.Len())

	payload := []byte("hello shims")
	var written uint32
	ok := k.writeFile(call(proc, h,
		uintptr(unsafe.Pointer(&payload[0])), uintptr(len(payload)),
		uintptr(unsafe.Pointer(&written)), 0))
	assert.Equal(t, trueValue, ok)
	assert.Equal(t, uint32(len(payload)), written)

	assert.Equal(t, trueValue, k.closeHandle(call(proc, h)))
	assert.Equal(t, falseValue, k.closeHandle(call(proc, h)))

	// reopen and read it back
	h = k.createFileA(call(proc, cstr(path), genericRead, 0, 0, openExisting, 0, 0))
	require.NotEqual(t, invalidHandle, h)
	buf := make([]byte, 64)
	var read uint32
	ok = k.readFile(call(proc, h,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)),
		uintptr(unsafe.Pointer(&read)), 0))
	assert.Equal(t, trueValue, ok)
	assert.Equal(t, payload, buf[:read])
	assert.Equal(t, trueValue, k.closeHandle(call(proc, h)))
}

func TestCreateFileWOnVirtualFS(t *testing.T) {
	vfs := filesystem.NewVirtualFS()
	vfs.Put(`C:\data\in.txt`, []byte("wide open"))
	k := &kernel32{fs: vfs}
	proc := newFakeProcess(t)

	wide := encoding.UTF16FromString(`C:\data\in.txt`)
	h := k.createFileW(call(proc,
		uintptr(unsafe.Pointer(&wide[0])), genericRead, 0, 0, openExisting, 0, 0))
	require.NotEqual(t, invalidHandle, h)

	buf := make([]byte, 32)
	var read uint32
	ok := k.readFile(call(proc, h,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)),
		uintptr(unsafe.Pointer(&read)), 0))
	assert.Equal(t, trueValue, ok)
	assert.Equal(t, "wide open", string(buf[:read]))
	assert.Equal(t, trueValue, k.closeHandle(call(proc, h)))
}

func TestCreateFileFailures(t *testing.T) {
	k := hostKernel32()
	proc := newFakeProcess(t)
	missing := filepath.Join(t.TempDir(), "missing.txt")
	assert.Equal(t, invalidHandle, k.createFileA(call(proc, cstr(missing), genericRead, 0, 0, openExisting, 0, 0)))
	assert.Equal(t, invalidHandle, k.createFileA(call(proc, 0, genericRead, 0, 0, openExisting, 0, 0)))
	assert.Equal(t, invalidHandle, k.createFileA(call(proc, cstr(missing), genericRead, 0, 0, 99, 0, 0)))
	assert.Equal(t, 0, proc.handles.Len())
}

func TestStdHandles(t *testing.T) {
	k := hostKernel32()
	proc := newFakeProcess(t)
	assert.Equal(t, stdOutput, k.getStdHandle(call(proc, stdOutput)))
	assert.Equal(t, stdInput, k.getStdHandle(call(proc, stdInput)))
	assert.Equal(t, stdError, k.getStdHandle(call(proc, stdError)))
	assert.Equal(t, invalidHandle, k.getStdHandle(call(proc, 12345)))

	// the request may arrive zero-extended to 32 bits in the register
	assert.Equal(t, stdInput, k.getStdHandle(call(proc, uintptr(0xFFFFFFF6))))
	assert.Equal(t, stdOutput, k.getStdHandle(call(proc, uintptr(0xFFFFFFF5))))

	// pseudo-handles close without touching the table
	assert.Equal(t, trueValue, k.closeHandle(call(proc, stdOutput)))
}

func TestReadWriteRejectBadHandles(t *testing.T) {
	k := hostKernel32()
	proc := newFakeProcess(t)
	var out uint32
	assert.Equal(t, falseValue, k.writeFile(call(proc, 0x9999, 0, 0, uintptr(unsafe.Pointer(&out)), 0)))
	assert.Equal(t, falseValue, k.readFile(call(proc, 0x9999, 0, 0, uintptr(unsafe.Pointer(&out)), 0)))
}

func TestEvents(t *testing.T) {
	k := hostKernel32()
	proc := newFakeProcess(t)
	h := k.createEventA(call(proc, 0, 1, 0, 0))
	require.NotZero(t, h)

	assert.Equal(t, waitTimeout, k.waitForSingleObject(call(proc, h, 10)))
	assert.Equal(t, trueValue, k.setEvent(call(proc, h)))
	assert.Equal(t, waitObject0, k.waitForSingleObject(call(proc, h, infinite)))
	assert.Equal(t, trueValue, k.resetEvent(call(proc, h)))
	assert.Equal(t, waitTimeout, k.waitForSingleObject(call(proc, h, 10)))

	assert.Equal(t, waitFailed, k.waitForSingleObject(call(proc, 0x9999, 0)))
	assert.Equal(t, falseValue, k.setEvent(call(proc, 0x9999)))
}

func TestEventCreatedSignaled(t *testing.T) {
	k := hostKernel32()
	proc := newFakeProcess(t)
	h := k.createEventA(call(proc, 0, 1, 1, 0))
	assert.Equal(t, waitObject0, k.waitForSingleObject(call(proc, h, infinite)))
}

func TestThreadExitCode(t *testing.T) {
	k := hostKernel32()
	proc := newFakeProcess(t)
	th := &handle.Thread{Done: make(chan struct{})}
	h := proc.handles.Allocate(th)

	var code uint32
	assert.Equal(t, trueValue, k.getExitCodeThread(call(proc, uintptr(h), uintptr(unsafe.Pointer(&code)))))
	assert.Equal(t, uint32(stillActive), code)

	th.Code = 12
	close(th.Done)
	assert.Equal(t, trueValue, k.getExitCodeThread(call(proc, uintptr(h), uintptr(unsafe.Pointer(&code)))))
	assert.Equal(t, uint32(12), code)
	assert.Equal(t, waitObject0, k.waitForSingleObject(call(proc, uintptr(h), infinite)))
}

func TestCreateThreadRejectsNilStart(t *testing.T) {
	k := hostKernel32()
	proc := newFakeProcess(t)
	assert.Zero(t, k.createThread(call(proc, 0, 0, 0, 0, 0, 0)))
	assert.Equal(t, 0, proc.handles.Len())
}

func TestExitProcessRecordsCode(t *testing.T) {
	k := hostKernel32()
	proc := newFakeProcess(t)
	go k.exitProcess(call(proc, 7))
	assert.Equal(t, 7, <-proc.exited)
}

func TestWriteToStdout(t *testing.T) {
	k := hostKernel32()
	proc := newFakeProcess(t)
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = old }()

	payload := []byte("captured")
	var written uint32
	ok := k.writeFile(call(proc, stdOutput,
		uintptr(unsafe.Pointer(&payload[0])), uintptr(len(payload)),
		uintptr(unsafe.Pointer(&written)), 0))
	w.Close()
	assert.Equal(t, trueValue, ok)

	buf := make([]byte, 64)
	n, _ := r.Read(buf)
	assert.Equal(t, "captured", string(buf[:n]))
}
