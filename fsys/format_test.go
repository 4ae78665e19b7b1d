package fsys_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zkurisu/simplefs"
	"github.com/zkurisu/simplefs/fsys"
)

func TestComputeGeometry__DocumentedLayout(t *testing.T) {
	// The walkthrough geometry: 1024 blocks of 4096 bytes.
	super, err := fsys.ComputeGeometry(1024, 4096)
	require.NoError(t, err)

	assert.EqualValues(t, 102, super.InodeBlocks)
	assert.EqualValues(t, 6528, super.Inodes)
	assert.EqualValues(t, 2, super.InodeBitmapStart)
	assert.EqualValues(t, 1, super.InodeBitmapCount)
	assert.EqualValues(t, 3, super.BlockBitmapStart)
	assert.EqualValues(t, 1, super.BlockBitmapCount)
	assert.EqualValues(t, 4, super.InodeTableStart)
	assert.EqualValues(t, 106, super.DatablockStart)
}

func TestComputeGeometry__RejectsBadBlockSizes(t *testing.T) {
	_, err := fsys.ComputeGeometry(1024, 256)
	assert.ErrorIs(t, err, simplefs.ErrBadArgument, "below minimum block size")

	_, err = fsys.ComputeGeometry(1024, 4000)
	assert.ErrorIs(t, err, simplefs.ErrBadArgument, "not a multiple of the record sizes")

	_, err = fsys.ComputeGeometry(5, 4096)
	assert.ErrorIs(t, err, simplefs.ErrBadArgument, "no room for an inode table")
}

func TestFormat__CreatesRoot(t *testing.T) {
	fs := newTestFS(t, 128, 512)

	stat, err := fs.StatPath("/")
	require.NoError(t, err)
	assert.EqualValues(t, simplefs.RootInodeNum, stat.InodeNum)
	assert.Equal(t, simplefs.FTypeDirectory, stat.Type)

	entries, err := fs.List("/")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := []string{entries[0].Name, entries[1].Name}
	assert.ElementsMatch(t, []string{".", ".."}, names)
	for _, entry := range entries {
		assert.EqualValues(t, simplefs.RootInodeNum, entry.InodeNum,
			"root's . and .. must both point at the root")
	}
}

func TestMount__RejectsUnformattedImage(t *testing.T) {
	dev := newTestDevice(t, 128, 512)
	_, err := fsys.Mount(dev)
	assert.ErrorIs(t, err, simplefs.ErrAttach)
}

// Mount → unmount → mount must come back with identical geometry and the
// same reachable entries.
func TestMount__Idempotent(t *testing.T) {
	dev := newTestDevice(t, 128, 512)
	require.NoError(t, fsys.Format(dev))

	fs, err := fsys.Mount(dev)
	require.NoError(t, err)
	require.NoError(t, fs.Mkdir("/a"))
	require.NoError(t, fs.Touch("/a/f"))

	firstStat := fs.Stat()
	firstList, err := fs.List("/a")
	require.NoError(t, err)
	require.NoError(t, fs.Unmount())

	fs, err = fsys.Mount(dev)
	require.NoError(t, err)
	defer fs.Unmount()

	assert.Equal(t, firstStat, fs.Stat())

	secondList, err := fs.List("/a")
	require.NoError(t, err)
	assert.Equal(t, firstList, secondList)
}
