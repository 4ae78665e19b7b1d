package fsys

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zkurisu/simplefs"
)

// Handle is an open file: a cached copy of the inode, a byte offset, the
// flags the file was opened with, and a read/write lock protecting them.
// The cache-valid flag is atomic so other handles (and API paths) can drop
// the cache without taking this handle's lock.
type Handle struct {
	fs       *FileSystem
	inodeNum uint32

	mu          sync.RWMutex
	cachedInode Inode
	cacheValid  atomic.Bool
	refcount    uint32
	offset      uint32
	flags       simplefs.IOFlags
}

// Open resolves a path and wraps the inode in a handle. The file must exist;
// O_CREATE is accepted as a modifier but creation itself goes through Touch.
func (fs *FileSystem) Open(pathStr string, flags simplefs.IOFlags) (*Handle, error) {
	if err := flags.Validate(); err != nil {
		return nil, err
	}

	inodeNum, err := fs.ResolvePath(pathStr)
	if err != nil {
		return nil, err
	}
	return fs.OpenInode(inodeNum, flags)
}

// OpenInode opens a handle directly on an inode number.
func (fs *FileSystem) OpenInode(inodeNum uint32, flags simplefs.IOFlags) (*Handle, error) {
	if err := flags.Validate(); err != nil {
		return nil, err
	}
	if err := fs.checkInodeNum(inodeNum); err != nil {
		return nil, err
	}

	ino, err := fs.ReadInode(inodeNum)
	if err != nil {
		return nil, err
	}

	fh := &Handle{
		fs:          fs,
		inodeNum:    inodeNum,
		cachedInode: ino,
		refcount:    1,
		flags:       flags,
	}
	fh.cacheValid.Store(true)

	if flags.Append() {
		fh.offset = ino.FileSize
	}

	if err := fs.table.register(fh); err != nil {
		return nil, err
	}

	if flags.Truncate() {
		if err := fh.truncate(); err != nil {
			fs.table.unregister(fh)
			return nil, err
		}
	}
	return fh, nil
}

// Dup increments the handle's reference count; each Dup needs a matching
// Close before the table slot is released.
func (fh *Handle) Dup() *Handle {
	fh.mu.Lock()
	fh.refcount++
	fh.mu.Unlock()
	return fh
}

// Close drops one reference; the last reference unregisters the handle.
func (fh *Handle) Close() error {
	fh.mu.Lock()
	if fh.refcount == 0 {
		fh.mu.Unlock()
		return simplefs.ErrBadArgument.WithMessage("handle already closed")
	}
	fh.refcount--
	remaining := fh.refcount
	fh.mu.Unlock()

	if remaining == 0 {
		fh.fs.table.unregister(fh)
	}
	return nil
}

// InodeNum returns the inode this handle is open on.
func (fh *Handle) InodeNum() uint32 {
	return fh.inodeNum
}

// refreshCacheLocked reloads the inode from disk if the cache was dropped.
// The caller must hold the write lock.
func (fh *Handle) refreshCacheLocked() error {
	if fh.cacheValid.Load() {
		return nil
	}
	ino, err := fh.fs.ReadInode(fh.inodeNum)
	if err != nil {
		return err
	}
	fh.cachedInode = ino
	fh.cacheValid.Store(true)
	return nil
}

// persistInodeLocked writes the cached inode back and re-marks the cache
// valid; every other handle on the same inode has its cache dropped.
func (fh *Handle) persistInodeLocked() error {
	err := fh.fs.writeInodeExcept(fh.inodeNum, &fh.cachedInode, fh)
	if err != nil {
		return err
	}
	fh.cacheValid.Store(true)
	return nil
}

// truncate releases every data block but keeps the always-present indirect
// table (re-zeroed in place), then resets the size to zero and persists.
func (fh *Handle) truncate() error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if err := fh.refreshCacheLocked(); err != nil {
		return err
	}
	for k := uint32(0); k < fh.fs.MaxBlockOffset(); k++ {
		if err := fh.fs.FreeBlockAt(&fh.cachedInode, k); err != nil {
			return err
		}
	}
	fh.cachedInode.FileSize = 0
	fh.offset = 0
	return fh.persistInodeLocked()
}

// Read copies up to len(buf) bytes from the current offset. Reading at or
// past EOF returns 0; holes read as zeroes without allocating. Returns the
// number of bytes produced.
func (fh *Handle) Read(buf []byte) (uint32, error) {
	if !fh.flags.Read() {
		return 0, simplefs.ErrInvalidFileFlags.WithMessage(
			"file is not open for reading")
	}

	fh.mu.Lock()
	if err := fh.refreshCacheLocked(); err != nil {
		fh.mu.Unlock()
		return 0, err
	}
	fh.mu.Unlock()

	fh.mu.RLock()
	ino := fh.cachedInode
	offset := fh.offset
	fh.mu.RUnlock()

	if offset >= ino.FileSize {
		return 0, nil
	}
	size := uint32(len(buf))
	if remaining := ino.FileSize - offset; size > remaining {
		size = remaining
	}

	blockSize := fh.fs.blockSize
	blockBuf := fh.fs.blockBuf()
	logical := offset / blockSize
	inBlock := offset % blockSize

	bytesRead := uint32(0)
	for bytesRead < size {
		physical, err := fh.fs.BlockAt(&ino, logical)
		if err != nil {
			return bytesRead, err
		}

		chunk := blockSize - inBlock
		if chunk > size-bytesRead {
			chunk = size - bytesRead
		}

		if physical == 0 {
			for i := uint32(0); i < chunk; i++ {
				buf[bytesRead+i] = 0
			}
		} else {
			if err := fh.fs.dev.Read(physical, blockBuf); err != nil {
				return bytesRead, err
			}
			copy(buf[bytesRead:bytesRead+chunk], blockBuf[inBlock:inBlock+chunk])
		}

		bytesRead += chunk
		inBlock = 0
		logical++
	}

	fh.mu.Lock()
	fh.offset += bytesRead
	fh.mu.Unlock()
	return bytesRead, nil
}

// Write stores len(buf) bytes at the current offset, allocating blocks for
// holes along the way. A partial-block write does a read-modify-write; a
// whole-block write overwrites without reading. On allocation failure the
// byte count written so far is returned along with the error.
func (fh *Handle) Write(buf []byte) (uint32, error) {
	if !fh.flags.Write() {
		return 0, simplefs.ErrInvalidFileFlags.WithMessage(
			"file is not open for writing")
	}

	fh.mu.Lock()
	defer fh.mu.Unlock()

	if err := fh.refreshCacheLocked(); err != nil {
		return 0, err
	}
	if fh.flags.Append() {
		fh.offset = fh.cachedInode.FileSize
	}

	size := uint32(len(buf))
	if maxSize := fh.fs.MaxFileSize(); fh.offset > maxSize || size > maxSize-fh.offset {
		return 0, simplefs.ErrNoSpace.WithMessage(
			fmt.Sprintf("offset %d + %d bytes exceeds max file size %d",
				fh.offset, size, maxSize))
	}

	blockSize := fh.fs.blockSize
	blockBuf := fh.fs.blockBuf()
	logical := fh.offset / blockSize
	inBlock := fh.offset % blockSize

	bytesWritten := uint32(0)
	var failure error
	for bytesWritten < size {
		physical, err := fh.fs.BlockAt(&fh.cachedInode, logical)
		if err != nil {
			failure = err
			break
		}

		chunk := blockSize - inBlock
		if chunk > size-bytesWritten {
			chunk = size - bytesWritten
		}

		if physical == 0 {
			physical, err = fh.fs.AllocBlockAt(&fh.cachedInode, logical)
			if err != nil {
				failure = err
				break
			}
			for i := range blockBuf {
				blockBuf[i] = 0
			}
		} else if inBlock != 0 || chunk < blockSize {
			if err := fh.fs.dev.Read(physical, blockBuf); err != nil {
				failure = err
				break
			}
		}

		copy(blockBuf[inBlock:inBlock+chunk], buf[bytesWritten:bytesWritten+chunk])
		if err := fh.fs.dev.Write(physical, blockBuf); err != nil {
			failure = err
			break
		}

		bytesWritten += chunk
		inBlock = 0
		logical++
	}

	fh.offset += bytesWritten
	if fh.offset > fh.cachedInode.FileSize || bytesWritten > 0 {
		if fh.offset > fh.cachedInode.FileSize {
			fh.cachedInode.FileSize = fh.offset
		}
		if err := fh.persistInodeLocked(); err != nil && failure == nil {
			failure = err
		}
	}
	return bytesWritten, failure
}

// Seek repositions the offset. The result must stay within [0, max file
// size]; SeekEnd refreshes the inode cache first so the size is current.
func (fh *Handle) Seek(offset int64, whence simplefs.Whence) (uint32, error) {
	if err := whence.Validate(); err != nil {
		return 0, err
	}

	fh.mu.Lock()
	defer fh.mu.Unlock()

	var target int64
	switch whence {
	case simplefs.SeekSet:
		target = offset
	case simplefs.SeekCur:
		target = int64(fh.offset) + offset
	case simplefs.SeekEnd:
		if err := fh.refreshCacheLocked(); err != nil {
			return 0, err
		}
		target = int64(fh.cachedInode.FileSize) + offset
	}

	if target < 0 || target > int64(fh.fs.MaxFileSize()) {
		return 0, simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("seek target %d not in range [0, %d]",
				target, fh.fs.MaxFileSize()))
	}

	fh.offset = uint32(target)
	return fh.offset, nil
}

// Tell returns the current offset.
func (fh *Handle) Tell() uint32 {
	fh.mu.RLock()
	defer fh.mu.RUnlock()
	return fh.offset
}

// Size returns the file size from the cached inode, refreshing the cache if
// another handle dropped it.
func (fh *Handle) Size() (uint32, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if err := fh.refreshCacheLocked(); err != nil {
		return 0, err
	}
	return fh.cachedInode.FileSize, nil
}
