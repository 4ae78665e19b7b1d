package disk_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zkurisu/simplefs"
	"github.com/zkurisu/simplefs/disk"
)

func TestFromSlice__Geometry(t *testing.T) {
	dev, err := disk.FromSlice(make([]byte, 16*512), 512)
	require.NoError(t, err)

	assert.EqualValues(t, 512, dev.BlockSize())
	assert.EqualValues(t, 16, dev.TotalBlocks())
}

func TestFromSlice__RejectsBadSizes(t *testing.T) {
	_, err := disk.FromSlice(make([]byte, 1000), 512)
	assert.ErrorIs(t, err, simplefs.ErrAttach, "not a multiple of the block size")

	_, err = disk.FromSlice(nil, 512)
	assert.ErrorIs(t, err, simplefs.ErrAttach, "empty image")

	_, err = disk.FromSlice(make([]byte, 1024), 128)
	assert.ErrorIs(t, err, simplefs.ErrAttach, "block size below minimum")
}

func TestReadWrite__RoundTrip(t *testing.T) {
	dev, err := disk.FromSlice(make([]byte, 8*512), 512)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xA5}, 512)
	require.NoError(t, dev.Write(3, payload))

	buf := make([]byte, 512)
	require.NoError(t, dev.Read(3, buf))
	assert.True(t, bytes.Equal(payload, buf))

	// Neighbors stay zero.
	require.NoError(t, dev.Read(2, buf))
	assert.True(t, bytes.Equal(make([]byte, 512), buf))
}

func TestReadWrite__BadBlockNumbers(t *testing.T) {
	dev, err := disk.FromSlice(make([]byte, 8*512), 512)
	require.NoError(t, err)

	buf := make([]byte, 512)
	assert.ErrorIs(t, dev.Read(0, buf), simplefs.ErrBadArgument,
		"block numbers are 1-based")
	assert.ErrorIs(t, dev.Read(9, buf), simplefs.ErrBadArgument)
	assert.ErrorIs(t, dev.Write(0, buf), simplefs.ErrBadArgument)
	assert.ErrorIs(t, dev.Write(9, buf), simplefs.ErrBadArgument)

	assert.ErrorIs(t, dev.Read(1, make([]byte, 100)), simplefs.ErrBadArgument,
		"buffer must be exactly one block")
}

func TestRanges(t *testing.T) {
	dev, err := disk.FromSlice(make([]byte, 8*512), 512)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x42}, 3*512)
	require.NoError(t, dev.WriteRange(2, 4, payload))

	buf := make([]byte, 3*512)
	require.NoError(t, dev.ReadRange(2, 4, buf))
	assert.True(t, bytes.Equal(payload, buf))

	assert.ErrorIs(t, dev.ReadRange(4, 2, buf), simplefs.ErrBadArgument)
	assert.ErrorIs(t, dev.ReadRange(7, 9, buf), simplefs.ErrBadArgument)
	assert.ErrorIs(t, dev.ReadRange(2, 4, make([]byte, 512)), simplefs.ErrBadArgument)
}
