//go:build amd64

package loader

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wnxd/microshim/internal/native"
	"github.com/wnxd/microshim/internal/petest"
	"github.com/wnxd/microshim/pefile"
	"github.com/wnxd/microshim/shim"
)

func TestRunReturnsEntryValue(t *testing.T) {
	// mov eax, 42; ret
	data, _ := petest.NewBuilder(testBase).
		Section(".text", []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3}, petest.CodeSection).
		Section(".data", absData(0x1000), petest.DataSection).
		Reloc(0x2000, pefile.IMAGE_REL_BASED_DIR64).
		Build()

	l := New(WithLogger(zaptest.NewLogger(t)))
	proc, err := l.Load(data)
	require.NoError(t, err)

	code, err := proc.Run()
	require.NoError(t, err)
	assert.Equal(t, 42, code)
	assert.Equal(t, State_Exited, proc.State())

	_, err = proc.Run()
	assert.ErrorIs(t, err, ErrInvalidState)
}

// callImportImage builds an image whose entry tail-calls through its one
// import slot: call [rip+disp32]; ret. The builder is deterministic, so a
// first pass with placeholder code reveals the slot offset the real code
// must reference.
func callImportImage(t *testing.T, module, name string) ([]byte, *petest.Layout) {
	t.Helper()
	build := func(code []byte) ([]byte, *petest.Layout) {
		return petest.NewBuilder(testBase).
			Section(".text", code, petest.CodeSection).
			Section(".data", absData(0x1000), petest.DataSection).
			Import(module, name).
			Reloc(0x2000, pefile.IMAGE_REL_BASED_DIR64).
			Build()
	}
	_, layout := build(make([]byte, 7))
	disp := int32(layout.Slot(module, name)) - int32(0x1000+6)
	code := []byte{0xFF, 0x15}
	code = binary.LittleEndian.AppendUint32(code, uint32(disp))
	code = append(code, 0xC3)
	return build(code)
}

func TestRunPermissiveStubsUnresolvedImport(t *testing.T) {
	data, layout := callImportImage(t, "missing.dll", "Nope")

	l := New(WithLogger(zaptest.NewLogger(t)))
	proc, err := l.Load(data)
	require.NoError(t, err)

	unresolved := proc.Unresolved()
	require.Len(t, unresolved, 1)
	assert.Equal(t, "missing.dll", unresolved[0].Module)
	assert.Equal(t, "Nope", unresolved[0].Symbol.Name)

	slot, err := proc.region.ReadPointer(uint64(layout.Slot("missing.dll", "Nope")))
	require.NoError(t, err)
	assert.Equal(t, proc.sentinelAddr, slot)

	code, err := proc.Run()
	require.NoError(t, err)
	assert.Equal(t, int(uint32(shim.NotImplemented)), code)
}

func TestRunCallsNativeBoundImport(t *testing.T) {
	arena, err := native.NewArena()
	require.NoError(t, err)
	defer arena.Release()
	// mov eax, 7; ret
	target, err := arena.Place([]byte{0xB8, 0x07, 0x00, 0x00, 0x00, 0xC3})
	require.NoError(t, err)
	require.NoError(t, arena.Seal())

	data, _ := callImportImage(t, "host.dll", "Answer")
	reg := shim.NewRegistry()
	require.NoError(t, reg.Register(shim.Entry{
		Module: "host.dll", Name: "Answer", Calling: shim.Calling_Win64, Native: target,
	}))

	l := New(WithRegistry(reg), WithLogger(zaptest.NewLogger(t)))
	proc, err := l.Load(data)
	require.NoError(t, err)

	code, err := proc.Run()
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestExitOverridesEntryReturn(t *testing.T) {
	// mov eax, 42; ret
	data, _ := petest.NewBuilder(testBase).
		Section(".text", []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3}, petest.CodeSection).
		Section(".data", absData(0x1000), petest.DataSection).
		Reloc(0x2000, pefile.IMAGE_REL_BASED_DIR64).
		Build()

	l := New(WithLogger(zaptest.NewLogger(t)))
	proc, err := l.Load(data)
	require.NoError(t, err)

	// a shim-recorded exit beats the entry's own return value
	proc.Exit(5)
	code, err := proc.Run()
	require.NoError(t, err)
	assert.Equal(t, 5, code)
	assert.Equal(t, State_Exited, proc.State())
}
