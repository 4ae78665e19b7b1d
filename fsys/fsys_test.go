package fsys_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zkurisu/simplefs/disk"
	"github.com/zkurisu/simplefs/fsys"
)

// newTestDevice builds an in-memory image of the given geometry.
func newTestDevice(t *testing.T, blocks, blockSize uint32) *disk.Device {
	t.Helper()
	dev, err := disk.FromSlice(make([]byte, blocks*blockSize), blockSize)
	require.NoError(t, err, "couldn't wrap in-memory image")
	return dev
}

// newTestFS formats and mounts an in-memory image.
func newTestFS(t *testing.T, blocks, blockSize uint32) *fsys.FileSystem {
	t.Helper()
	dev := newTestDevice(t, blocks, blockSize)
	require.NoError(t, fsys.Format(dev), "format failed")

	fs, err := fsys.Mount(dev)
	require.NoError(t, err, "mount failed")
	return fs
}
