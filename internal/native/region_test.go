package native

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnxd/microshim/pefile"
)

func TestRegionReserve(t *testing.T) {
	r, err := Reserve(0, 1<<16)
	require.NoError(t, err)
	defer r.Release()

	assert.NotZero(t, r.Base())
	assert.Equal(t, uint64(1<<16), r.Size())

	b, err := r.Bytes(0, r.Size())
	require.NoError(t, err)
	for i := 0; i < len(b); i += 4096 {
		assert.Zero(t, b[i], "fresh region byte %d", i)
	}
}

func TestRegionBounds(t *testing.T) {
	r, err := Reserve(0, 1<<12)
	require.NoError(t, err)
	defer r.Release()

	_, err = r.Bytes(1<<12, 1)
	assert.Error(t, err)
	_, err = r.Bytes(^uint64(0), 2)
	assert.Error(t, err)
	_, err = r.ReadUint64(1<<12 - 4)
	assert.Error(t, err)
}

func TestRegionReadWrite(t *testing.T) {
	r, err := Reserve(0, 1<<12)
	require.NoError(t, err)
	defer r.Release()

	require.NoError(t, r.WriteUint32(0x10, 0xDEAD))
	v32, err := r.ReadUint32(0x10)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEAD), v32)

	require.NoError(t, r.WriteUint64(0x20, 0x1122334455667788))
	v64, err := r.ReadUint64(0x20)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), v64)

	require.NoError(t, r.WritePointer(0x30, 0xCAFE))
	p, err := r.ReadPointer(0x30)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0xCAFE), p)
}

func TestRegionProtect(t *testing.T) {
	r, err := Reserve(0, 1<<13)
	require.NoError(t, err)
	defer r.Release()

	require.NoError(t, r.WriteUint32(0, 7))
	require.NoError(t, r.Protect(0, 1<<12, pefile.MEM_PROT_READ))
	v, err := r.ReadUint32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)

	// restore before release on hosts that require it
	require.NoError(t, r.Protect(0, 1<<12, pefile.MEM_PROT_READ|pefile.MEM_PROT_WRITE))
}
