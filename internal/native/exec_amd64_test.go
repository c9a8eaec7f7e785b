//go:build amd64

package native

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelStubExec(t *testing.T) {
	arena, err := NewArena()
	require.NoError(t, err)
	defer arena.Release()

	code, err := SentinelStub(0xFFFFFFFF)
	require.NoError(t, err)
	addr, err := arena.Place(code)
	require.NoError(t, err)
	require.NoError(t, arena.Seal())

	v, err := Exec(addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), v)
}

func TestArenaPlacementAlignment(t *testing.T) {
	arena, err := NewArena()
	require.NoError(t, err)
	defer arena.Release()

	code, err := SentinelStub(1)
	require.NoError(t, err)
	a1, err := arena.Place(code)
	require.NoError(t, err)
	a2, err := arena.Place(code)
	require.NoError(t, err)
	assert.NotEqual(t, a1, a2)
	assert.Zero(t, a1%16)
	assert.Zero(t, a2%16)

	require.NoError(t, arena.Seal())
	_, err = arena.Place(code)
	assert.Error(t, err)
}

func TestExecRawCode(t *testing.T) {
	arena, err := NewArena()
	require.NoError(t, err)
	defer arena.Release()

	// mov eax, 42; ret
	addr, err := arena.Place([]byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3})
	require.NoError(t, err)
	require.NoError(t, arena.Seal())

	v, err := Exec(addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)
}
