package fsys_test

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zkurisu/simplefs"
	"github.com/zkurisu/simplefs/fsys"
)

func listNames(t *testing.T, fs *fsys.FileSystem, path string) []string {
	t.Helper()
	entries, err := fs.List(path)
	require.NoError(t, err)

	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return names
}

// checkAccounting walks the tree from the root and verifies that the used
// bitmap counts equal exactly the metadata prefix plus what live inodes
// reference: no leaks, no double use.
func checkAccounting(t *testing.T, fs *fsys.FileSystem) {
	t.Helper()

	liveInodes := uint32(0)
	referencedBlocks := uint32(0)

	var walk func(path string)
	walk = func(path string) {
		stat, err := fs.StatPath(path)
		require.NoError(t, err)
		liveInodes++

		ino, err := fs.ReadInode(stat.InodeNum)
		require.NoError(t, err)
		referencedBlocks += stat.Blocks
		if ino.SingleIndirect != 0 {
			referencedBlocks++
		}

		if stat.Type != simplefs.FTypeDirectory {
			return
		}
		entries, err := fs.List(path)
		require.NoError(t, err)
		for _, entry := range entries {
			if entry.Name == "." || entry.Name == ".." {
				continue
			}
			walk(path + "/" + entry.Name)
		}
	}
	walk("/")

	stat := fs.Stat()
	usedInodes := stat.Inodes - stat.FreeInodes
	usedBlocks := stat.Blocks - stat.FreeBlocks
	metadataBlocks := stat.DatablockStart - 1

	assert.Equal(t, liveInodes, usedInodes, "inode bitmap accounting")
	assert.Equal(t, metadataBlocks+referencedBlocks, usedBlocks,
		"block bitmap accounting")
}

func TestMkdir__NestedAndListed(t *testing.T) {
	fs := newTestFS(t, 128, 512)

	require.NoError(t, fs.Mkdir("/a"))
	require.NoError(t, fs.Mkdir("/a/b/c"), "interior components created recursively")

	assert.ElementsMatch(t, []string{".", "..", "b"}, listNames(t, fs, "/a"))
	assert.ElementsMatch(t, []string{".", "..", "c"}, listNames(t, fs, "/a/b"))

	err := fs.Mkdir("/a/b")
	assert.ErrorIs(t, err, simplefs.ErrDirentExists)

	checkAccounting(t, fs)
}

func TestTouch__Errors(t *testing.T) {
	fs := newTestFS(t, 128, 512)

	assert.ErrorIs(t, fs.Touch("/d/"), simplefs.ErrBadArgument,
		"trailing slash names a directory")
	assert.ErrorIs(t, fs.Touch("/missing/f"), simplefs.ErrInvalidPath,
		"interior components are not created")

	require.NoError(t, fs.Touch("/f"))
	assert.ErrorIs(t, fs.Touch("/f"), simplefs.ErrDirentExists)
}

func TestUnlink(t *testing.T) {
	fs := newTestFS(t, 128, 512)

	require.NoError(t, fs.Touch("/f"))
	require.NoError(t, fs.Unlink("/f"))

	exists, err := fs.Exists("/f")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, fs.Unlink("/f"), simplefs.ErrNotFound)

	require.NoError(t, fs.Mkdir("/d"))
	assert.ErrorIs(t, fs.Unlink("/d"), simplefs.ErrBadArgument,
		"unlink only removes files")

	checkAccounting(t, fs)
}

// Removing a populated directory reclaims every inode and block it (and its
// children) held.
func TestRmdir__RecursiveReclaim(t *testing.T) {
	fs := newTestFS(t, 128, 512)

	baseline := fs.Stat()

	require.NoError(t, fs.Mkdir("/d"))
	require.NoError(t, fs.Touch("/d/f"))
	require.NoError(t, fs.Mkdir("/d/sub"))
	require.NoError(t, fs.Touch("/d/sub/g"))

	fh, err := fs.Open("/d/f", simplefs.O_WRONLY)
	require.NoError(t, err)
	_, err = fh.Write(bytes.Repeat([]byte("x"), 600))
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	require.NoError(t, fs.Rmdir("/d"))

	exists, err := fs.Exists("/d")
	require.NoError(t, err)
	assert.False(t, exists)

	after := fs.Stat()
	assert.Equal(t, baseline.FreeInodes, after.FreeInodes,
		"every inode reclaimed")

	// The root grew one block to hold the /d entry and keeps it as a hole;
	// everything else must be back.
	assert.Equal(t, baseline.FreeBlocks-1, after.FreeBlocks)

	checkAccounting(t, fs)
}

func TestRmdir__RootRejected(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	assert.ErrorIs(t, fs.Rmdir("/"), simplefs.ErrBadArgument)
}

func TestCat(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/f"))

	fh, err := fs.Open("/f", simplefs.O_WRONLY)
	require.NoError(t, err)
	_, err = fh.Write([]byte("file content\n"))
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	var out bytes.Buffer
	require.NoError(t, fs.Cat("/f", &out))
	assert.Equal(t, "file content\n", out.String())

	assert.ErrorIs(t, fs.Cat("/missing", &out), simplefs.ErrNotFound)
}

// cp must preserve content and size, including holes.
func TestCp__FileEquivalence(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/src"))

	fh, err := fs.Open("/src", simplefs.O_RDWR)
	require.NoError(t, err)
	_, err = fh.Write([]byte("head"))
	require.NoError(t, err)
	_, err = fh.Seek(1200, simplefs.SeekSet)
	require.NoError(t, err)
	_, err = fh.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	require.NoError(t, fs.Cp("/src", "/dst"))

	srcStat, err := fs.StatPath("/src")
	require.NoError(t, err)
	dstStat, err := fs.StatPath("/dst")
	require.NoError(t, err)
	assert.Equal(t, srcStat.Size, dstStat.Size)
	assert.Equal(t, srcStat.Blocks, dstStat.Blocks, "holes stay holes")

	var srcOut, dstOut bytes.Buffer
	require.NoError(t, fs.Cat("/src", &srcOut))
	require.NoError(t, fs.Cat("/dst", &dstOut))
	assert.True(t, bytes.Equal(srcOut.Bytes(), dstOut.Bytes()))

	checkAccounting(t, fs)
}

func TestStatPath(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/f"))

	stat, err := fs.StatPath("/f")
	require.NoError(t, err)
	assert.Equal(t, simplefs.FTypeFile, stat.Type)
	assert.EqualValues(t, 0, stat.Size)
	assert.EqualValues(t, 0, stat.Blocks)

	_, err = fs.StatPath("/nope")
	assert.ErrorIs(t, err, simplefs.ErrNotFound)
}

func TestRelativePaths__UseWorkingDir(t *testing.T) {
	fs := newTestFS(t, 128, 512)

	require.NoError(t, fs.Mkdir("/home"))
	require.NoError(t, fs.Cwd().Chdir("/home"))
	assert.Equal(t, "/home", fs.Cwd().Path().String())

	require.NoError(t, fs.Touch("note"))

	exists, err := fs.Exists("/home/note")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, fs.Cwd().Chdir("/"))
	assert.ErrorIs(t, fs.Cat("note", &bytes.Buffer{}), simplefs.ErrNotFound)
}

// Two goroutines hammer the root with touch/unlink cycles; afterwards the
// bitmaps must still balance.
func TestConcurrentTouchUnlink__AccountingHolds(t *testing.T) {
	fs := newTestFS(t, 1024, 512)

	baselineInodes := fs.Stat().FreeInodes

	const iterations = 100
	var wg sync.WaitGroup
	for tid := 0; tid < 2; tid++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				name := fmt.Sprintf("/shared-%d-%d", tid, i)
				if err := fs.Touch(name); err != nil {
					t.Errorf("touch %s: %s", name, err)
					return
				}
				if err := fs.Unlink(name); err != nil {
					t.Errorf("unlink %s: %s", name, err)
					return
				}
			}
		}(tid)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{".", ".."}, listNames(t, fs, "/"))
	assert.Equal(t, baselineInodes, fs.Stat().FreeInodes)
	checkAccounting(t, fs)
}
