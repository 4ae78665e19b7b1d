package fsys_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zkurisu/simplefs"
)

func TestFileWriteRead__RoundTrip(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/hello.txt"))

	fh, err := fs.Open("/hello.txt", simplefs.O_WRONLY)
	require.NoError(t, err)
	written, err := fh.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.EqualValues(t, 11, written)
	require.NoError(t, fh.Close())

	fh, err = fs.Open("/hello.txt", simplefs.O_RDONLY)
	require.NoError(t, err)
	defer fh.Close()

	buf := make([]byte, 256)
	bytesRead, err := fh.Read(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 11, bytesRead)
	assert.Equal(t, "hello world", string(buf[:bytesRead]))

	// A second read sits at EOF.
	bytesRead, err = fh.Read(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 0, bytesRead)
}

func TestFileWrite__SpansBlocks(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/big"))

	payload := bytes.Repeat([]byte("0123456789abcdef"), 100) // 1600 bytes

	fh, err := fs.Open("/big", simplefs.O_RDWR)
	require.NoError(t, err)
	defer fh.Close()

	written, err := fh.Write(payload)
	require.NoError(t, err)
	require.EqualValues(t, len(payload), written)

	_, err = fh.Seek(0, simplefs.SeekSet)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	bytesRead, err := fh.Read(buf)
	require.NoError(t, err)
	require.EqualValues(t, len(payload), bytesRead)
	assert.True(t, bytes.Equal(payload, buf))

	stat, err := fs.StatPath("/big")
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), stat.Size)
	assert.EqualValues(t, 4, stat.Blocks, "1600 bytes at 512 per block")
}

// Sparse file: write one byte far past the start; everything before it reads
// as zeroes and only one data block is allocated.
func TestFileWrite__SparseHole(t *testing.T) {
	fs := newTestFS(t, 1024, 4096)
	require.NoError(t, fs.Touch("/sparse"))

	fh, err := fs.Open("/sparse", simplefs.O_RDWR)
	require.NoError(t, err)
	defer fh.Close()

	_, err = fh.Seek(8192, simplefs.SeekSet)
	require.NoError(t, err)
	written, err := fh.Write([]byte("X"))
	require.NoError(t, err)
	require.EqualValues(t, 1, written)

	stat, err := fs.StatPath("/sparse")
	require.NoError(t, err)
	assert.EqualValues(t, 8193, stat.Size)
	assert.EqualValues(t, 1, stat.Blocks, "holes stay unallocated")

	_, err = fh.Seek(0, simplefs.SeekSet)
	require.NoError(t, err)

	buf := make([]byte, 8193)
	bytesRead, err := fh.Read(buf)
	require.NoError(t, err)
	require.EqualValues(t, 8193, bytesRead)
	assert.True(t, bytes.Equal(buf[:8192], make([]byte, 8192)),
		"hole must read as zeroes")
	assert.Equal(t, byte('X'), buf[8192])

	// Reading across the hole must not have allocated anything.
	stat, err = fs.StatPath("/sparse")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stat.Blocks)
}

func TestFileWrite__Append(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/log"))

	fh, err := fs.Open("/log", simplefs.O_WRONLY)
	require.NoError(t, err)
	_, err = fh.Write([]byte("one"))
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	fh, err = fs.Open("/log", simplefs.O_WRONLY|simplefs.O_APPEND)
	require.NoError(t, err)
	assert.EqualValues(t, 3, fh.Tell(), "append opens at EOF")

	// Even after seeking away, an append write lands at EOF.
	_, err = fh.Seek(0, simplefs.SeekSet)
	require.NoError(t, err)
	_, err = fh.Write([]byte("two"))
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	var out bytes.Buffer
	require.NoError(t, fs.Cat("/log", &out))
	assert.Equal(t, "onetwo", out.String())
}

func TestFileOpen__Truncate(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/t"))

	fh, err := fs.Open("/t", simplefs.O_WRONLY)
	require.NoError(t, err)
	_, err = fh.Write(bytes.Repeat([]byte("x"), 1000))
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	freeBefore := fs.Stat().FreeBlocks

	fh, err = fs.Open("/t", simplefs.O_WRONLY|simplefs.O_TRUNC)
	require.NoError(t, err)
	defer fh.Close()

	size, err := fh.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 0, size)
	assert.Equal(t, freeBefore+2, fs.Stat().FreeBlocks,
		"both data blocks released")
}

func TestFileOpen__FlagValidation(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/f"))

	badFlags := []simplefs.IOFlags{
		simplefs.O_RDONLY | simplefs.O_APPEND,
		simplefs.O_RDONLY | simplefs.O_TRUNC,
		simplefs.O_WRONLY | simplefs.O_APPEND | simplefs.O_TRUNC,
		simplefs.IOFlags(0x80),
		simplefs.O_WRONLY | simplefs.O_RDWR,
	}
	for _, flags := range badFlags {
		_, err := fs.Open("/f", flags)
		assert.ErrorIsf(t, err, simplefs.ErrInvalidFileFlags, "flags %#04x", uint32(flags))
	}

	_, err := fs.Open("/missing", simplefs.O_RDONLY)
	assert.ErrorIs(t, err, simplefs.ErrNotFound)
}

func TestFileAccess__ModeEnforced(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/f"))

	fh, err := fs.Open("/f", simplefs.O_RDONLY)
	require.NoError(t, err)
	_, err = fh.Write([]byte("x"))
	assert.ErrorIs(t, err, simplefs.ErrInvalidFileFlags)
	require.NoError(t, fh.Close())

	fh, err = fs.Open("/f", simplefs.O_WRONLY)
	require.NoError(t, err)
	_, err = fh.Read(make([]byte, 1))
	assert.ErrorIs(t, err, simplefs.ErrInvalidFileFlags)
	require.NoError(t, fh.Close())
}

func TestFileSeek(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/f"))

	fh, err := fs.Open("/f", simplefs.O_RDWR)
	require.NoError(t, err)
	defer fh.Close()

	_, err = fh.Write([]byte("abcdef"))
	require.NoError(t, err)

	pos, err := fh.Seek(2, simplefs.SeekSet)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pos)

	pos, err = fh.Seek(2, simplefs.SeekCur)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pos)

	pos, err = fh.Seek(-1, simplefs.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 5, pos)

	_, err = fh.Seek(-10, simplefs.SeekSet)
	assert.ErrorIs(t, err, simplefs.ErrBadArgument)

	_, err = fh.Seek(1, simplefs.Whence(9))
	assert.ErrorIs(t, err, simplefs.ErrInvalidWhence)
}

// Writing the very last representable byte works; one byte past it fails.
func TestFileWrite__MaxFileSizeBoundary(t *testing.T) {
	fs := newTestFS(t, 512, 512)
	require.NoError(t, fs.Touch("/edge"))

	fh, err := fs.Open("/edge", simplefs.O_RDWR)
	require.NoError(t, err)
	defer fh.Close()

	maxSize := int64(fs.MaxFileSize())

	_, err = fh.Seek(maxSize-1, simplefs.SeekSet)
	require.NoError(t, err)
	written, err := fh.Write([]byte("z"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, written)

	_, err = fh.Seek(maxSize, simplefs.SeekSet)
	require.NoError(t, err)
	_, err = fh.Write([]byte("z"))
	assert.ErrorIs(t, err, simplefs.ErrNoSpace)

	_, err = fh.Seek(maxSize+1, simplefs.SeekSet)
	assert.ErrorIs(t, err, simplefs.ErrBadArgument)
}

// A write through one handle must be visible through another handle that was
// already open on the same inode.
func TestFileHandles__CrossInvalidation(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/shared"))

	writer, err := fs.Open("/shared", simplefs.O_WRONLY)
	require.NoError(t, err)
	defer writer.Close()

	reader, err := fs.Open("/shared", simplefs.O_RDONLY)
	require.NoError(t, err)
	defer reader.Close()

	size, err := reader.Size()
	require.NoError(t, err)
	require.EqualValues(t, 0, size)

	_, err = writer.Write([]byte("payload"))
	require.NoError(t, err)

	size, err = reader.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 7, size, "stale cache must be refreshed")

	buf := make([]byte, 16)
	bytesRead, err := reader.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:bytesRead]))
}

func TestFileHandles__DupAndRefcount(t *testing.T) {
	fs := newTestFS(t, 128, 512)
	require.NoError(t, fs.Touch("/f"))

	fh, err := fs.Open("/f", simplefs.O_RDONLY)
	require.NoError(t, err)
	require.EqualValues(t, 1, fs.OpenFileCount())

	dup := fh.Dup()
	require.NoError(t, dup.Close())
	assert.EqualValues(t, 1, fs.OpenFileCount(), "one reference still holds the slot")

	require.NoError(t, fh.Close())
	assert.EqualValues(t, 0, fs.OpenFileCount())

	assert.Error(t, fh.Close(), "closing a dead handle must fail")
}
