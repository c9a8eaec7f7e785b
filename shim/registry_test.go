package shim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(call *Call) uintptr { return 0 }

func TestRegistryLookupByName(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Entry{
		Module: "kernel32.dll", Name: "WriteFile", Calling: Calling_Win64, Func: noop,
	}))

	e, err := reg.Lookup("kernel32.dll", Name("WriteFile"))
	require.NoError(t, err)
	assert.Equal(t, "WriteFile", e.Name)

	_, err = reg.Lookup("kernel32.dll", Name("ReadFile"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryModuleNormalization(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Entry{
		Module: "KERNEL32.DLL", Name: "WriteFile", Calling: Calling_Win64, Func: noop,
	}))

	for _, module := range []string{
		"kernel32.dll",
		"Kernel32.Dll",
		`C:\Windows\System32\kernel32.dll`,
		"/mnt/system32/KERNEL32.dll",
	} {
		_, err := reg.Lookup(module, Name("WriteFile"))
		assert.NoError(t, err, "module %q", module)
	}
}

func TestRegistryLookupByOrdinal(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Entry{
		Module: "vendor.dll", Name: "DoWork", Ordinal: 7, Calling: Calling_Stdcall, Func: noop,
	}))

	e, err := reg.Lookup("vendor.dll", Ordinal(7))
	require.NoError(t, err)
	assert.Equal(t, "DoWork", e.Name)

	// named lookup does not fall back to the ordinal index and vice versa
	_, err = reg.Lookup("vendor.dll", Ordinal(8))
	assert.ErrorIs(t, err, ErrNotFound)
	e, err = reg.Lookup("vendor.dll", Name("DoWork"))
	require.NoError(t, err)
	assert.Equal(t, uint16(7), e.Ordinal)
}

func TestRegistryReregisterReplaces(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Entry{
		Module: "m.dll", Name: "F", Calling: Calling_Win64, Func: func(*Call) uintptr { return 1 },
	}))
	require.NoError(t, reg.Register(Entry{
		Module: "m.dll", Name: "F", Calling: Calling_Win64, Func: func(*Call) uintptr { return 2 },
	}))
	e, err := reg.Lookup("m.dll", Name("F"))
	require.NoError(t, err)
	assert.Equal(t, uintptr(2), e.Func(&Call{}))
}

func TestRegistryRejectsInvalidEntries(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(Entry{Name: "F", Calling: Calling_Win64, Func: noop}))
	assert.Error(t, reg.Register(Entry{Module: "m.dll", Calling: Calling_Win64, Func: noop}))
	assert.Error(t, reg.Register(Entry{Module: "m.dll", Name: "F", Calling: Calling_Win64}))
	assert.Error(t, reg.Register(Entry{Module: "m.dll", Name: "F", Calling: Calling(42), Func: noop}))
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryFreeze(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Entry{
		Module: "m.dll", Name: "F", Calling: Calling_Win64, Func: noop,
	}))
	reg.Freeze()
	err := reg.Register(Entry{Module: "m.dll", Name: "G", Calling: Calling_Win64, Func: noop})
	assert.ErrorIs(t, err, ErrRegistryFrozen)

	// existing entries stay reachable
	_, err = reg.Lookup("m.dll", Name("F"))
	assert.NoError(t, err)
}

func TestSymbolString(t *testing.T) {
	assert.Equal(t, "WriteFile", Name("WriteFile").String())
	assert.Equal(t, "#7", Ordinal(7).String())
}
