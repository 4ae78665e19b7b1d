// Package fsys implements the file system proper: superblock geometry,
// inode and block allocation, the inode block-map, directories, file
// handles, and the path-level API. One FileSystem value corresponds to one
// mounted image; mount loads the allocation bitmaps into memory and unmount
// flushes them back, which is the durability point for metadata.
package fsys

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/zkurisu/simplefs"
	"github.com/zkurisu/simplefs/disk"
)

// FileSystem is the in-memory mount state for one disk image.
type FileSystem struct {
	dev       *disk.Device
	super     Superblock
	blockSize uint32

	inodeAlloc *Allocator
	blockAlloc *Allocator

	// dirMu is held across every directory mutation (add, remove) so a
	// lookup-then-write never races another mutator in the same mount.
	dirMu sync.Mutex

	// inodeTableMu serializes the read-modify-write of inode-table blocks;
	// records for different inodes share a block.
	inodeTableMu sync.Mutex

	table *openFileTable
	cwd   *WorkingDir

	mounted bool
}

// Mount reads the superblock and both allocation bitmaps from an attached
// device and returns a live file system anchored at the root directory.
func Mount(dev *disk.Device) (*FileSystem, error) {
	buf := make([]byte, dev.BlockSize())
	if err := dev.Read(1, buf); err != nil {
		return nil, err
	}

	super, err := DecodeSuperblock(buf)
	if err != nil {
		return nil, err
	}
	if err := super.validateAgainst(dev); err != nil {
		return nil, err
	}

	fs := &FileSystem{
		dev:       dev,
		super:     super,
		blockSize: dev.BlockSize(),
		table:     newOpenFileTable(),
	}

	inodeBitmapRaw := make([]byte, super.InodeBitmapCount*fs.blockSize)
	end := super.InodeBitmapStart + super.InodeBitmapCount - 1
	if err := dev.ReadRange(super.InodeBitmapStart, end, inodeBitmapRaw); err != nil {
		return nil, err
	}
	fs.inodeAlloc, err = allocatorFromBytes(inodeBitmapRaw, super.Inodes)
	if err != nil {
		return nil, err
	}

	blockBitmapRaw := make([]byte, super.BlockBitmapCount*fs.blockSize)
	end = super.BlockBitmapStart + super.BlockBitmapCount - 1
	if err := dev.ReadRange(super.BlockBitmapStart, end, blockBitmapRaw); err != nil {
		return nil, err
	}
	fs.blockAlloc, err = allocatorFromBytes(blockBitmapRaw, super.Blocks)
	if err != nil {
		return nil, err
	}

	fs.cwd = newWorkingDir(fs)
	fs.mounted = true
	return fs, nil
}

// Unmount flushes both bitmaps and the refreshed free counters back to disk.
// The device stays attached; the FileSystem must not be used afterwards.
func (fs *FileSystem) Unmount() error {
	if !fs.mounted {
		return simplefs.ErrBadArgument.WithMessage("file system is not mounted")
	}

	var result *multierror.Error

	end := fs.super.InodeBitmapStart + fs.super.InodeBitmapCount - 1
	raw := fs.paddedBitmapBytes(fs.inodeAlloc, fs.super.InodeBitmapCount)
	if err := fs.dev.WriteRange(fs.super.InodeBitmapStart, end, raw); err != nil {
		result = multierror.Append(result, err)
	}

	end = fs.super.BlockBitmapStart + fs.super.BlockBitmapCount - 1
	raw = fs.paddedBitmapBytes(fs.blockAlloc, fs.super.BlockBitmapCount)
	if err := fs.dev.WriteRange(fs.super.BlockBitmapStart, end, raw); err != nil {
		result = multierror.Append(result, err)
	}

	fs.super.FreeBlocks = fs.blockAlloc.FreeCount()
	fs.super.FreeInodes = fs.inodeAlloc.FreeCount()
	buf := fs.blockBuf()
	if err := fs.super.Encode(buf); err != nil {
		result = multierror.Append(result, err)
	} else if err := fs.dev.Write(1, buf); err != nil {
		result = multierror.Append(result, err)
	}

	fs.mounted = false
	return result.ErrorOrNil()
}

// paddedBitmapBytes returns the allocator's backing bytes padded out to the
// full on-disk region size.
func (fs *FileSystem) paddedBitmapBytes(alloc *Allocator, blockCount uint32) []byte {
	raw := make([]byte, blockCount*fs.blockSize)
	copy(raw, alloc.Bytes())
	return raw
}

// blockBuf allocates a zeroed one-block scratch buffer.
func (fs *FileSystem) blockBuf() []byte {
	return make([]byte, fs.blockSize)
}

// Device returns the attached block device.
func (fs *FileSystem) Device() *disk.Device {
	return fs.dev
}

// Superblock returns a copy of the mounted geometry.
func (fs *FileSystem) Superblock() Superblock {
	return fs.super
}

// BlockSize returns the block size, in bytes.
func (fs *FileSystem) BlockSize() uint32 {
	return fs.blockSize
}

// Cwd returns the mount's working-directory state.
func (fs *FileSystem) Cwd() *WorkingDir {
	return fs.cwd
}

// OpenFileCount returns the number of handles in the open-file table.
func (fs *FileSystem) OpenFileCount() uint32 {
	return fs.table.count()
}

// FSStat is the live geometry and usage summary backing `fsinfo`.
type FSStat struct {
	Blocks           uint32
	BlockSize        uint32
	InodeBlocks      uint32
	Inodes           uint32
	InodeBitmapStart uint32
	BlockBitmapStart uint32
	InodeTableStart  uint32
	DatablockStart   uint32
	FreeBlocks       uint32
	FreeInodes       uint32
	MaxFileSize      uint32
}

// Stat summarizes the mounted file system. Free counts come from the live
// bitmaps, not the advisory superblock fields.
func (fs *FileSystem) Stat() FSStat {
	return FSStat{
		Blocks:           fs.super.Blocks,
		BlockSize:        fs.blockSize,
		InodeBlocks:      fs.super.InodeBlocks,
		Inodes:           fs.super.Inodes,
		InodeBitmapStart: fs.super.InodeBitmapStart,
		BlockBitmapStart: fs.super.BlockBitmapStart,
		InodeTableStart:  fs.super.InodeTableStart,
		DatablockStart:   fs.super.DatablockStart,
		FreeBlocks:       fs.blockAlloc.FreeCount(),
		FreeInodes:       fs.inodeAlloc.FreeCount(),
		MaxFileSize:      fs.MaxFileSize(),
	}
}

func (stat FSStat) String() string {
	return fmt.Sprintf(
		"blocks %d (block size %d)\n"+
			"inode table %d blocks at %d (%d inodes, %d free)\n"+
			"inode bitmap at %d, block bitmap at %d\n"+
			"data region at %d (%d blocks free)\n"+
			"max file size %d bytes",
		stat.Blocks, stat.BlockSize,
		stat.InodeBlocks, stat.InodeTableStart, stat.Inodes, stat.FreeInodes,
		stat.InodeBitmapStart, stat.BlockBitmapStart,
		stat.DatablockStart, stat.FreeBlocks,
		stat.MaxFileSize)
}
