package fsys

import (
	"fmt"

	"github.com/zkurisu/simplefs"
	"github.com/zkurisu/simplefs/disk"
)

// Format lays out a fresh file system on an attached device: superblock,
// zeroed inode bitmap, block bitmap with the metadata prefix pre-marked,
// zeroed inode table, and the root directory at inode 1. Existing content is
// destroyed.
func Format(dev *disk.Device) error {
	super, err := ComputeGeometry(dev.TotalBlocks(), dev.BlockSize())
	if err != nil {
		return err
	}

	blockSize := dev.BlockSize()
	buf := make([]byte, blockSize)
	if err := super.Encode(buf); err != nil {
		return err
	}
	if err := dev.Write(1, buf); err != nil {
		return err
	}

	// Inode bitmap: no inodes in use yet.
	zero := make([]byte, blockSize)
	for i := uint32(0); i < super.InodeBitmapCount; i++ {
		if err := dev.Write(super.InodeBitmapStart+i, zero); err != nil {
			return err
		}
	}

	// Block bitmap: the superblock, both bitmaps, and the inode table are
	// permanently in use, so the allocator never has to special-case them.
	blockBits := NewBitmap(super.BlockBitmapCount * blockSize * 8)
	for i := uint32(0); i < super.DatablockStart-1; i++ {
		if err := blockBits.Set(i); err != nil {
			return err
		}
	}
	raw := make([]byte, super.BlockBitmapCount*blockSize)
	copy(raw, blockBits.Bytes())
	end := super.BlockBitmapStart + super.BlockBitmapCount - 1
	if err := dev.WriteRange(super.BlockBitmapStart, end, raw); err != nil {
		return err
	}

	// Inode table: every record zeroed, meaning "free slot".
	for i := uint32(0); i < super.InodeBlocks; i++ {
		if err := dev.Write(super.InodeTableStart+i, zero); err != nil {
			return err
		}
	}

	// Create the root directory through a throwaway mount so it goes through
	// the same allocation paths as everything else.
	fs, err := Mount(dev)
	if err != nil {
		return err
	}

	rootNum, err := fs.CreateRootDirectory()
	if err != nil {
		fs.Unmount()
		return err
	}
	if rootNum != simplefs.RootInodeNum {
		fs.Unmount()
		return simplefs.ErrInternal.WithMessage(
			fmt.Sprintf("root directory landed on inode %d, want %d",
				rootNum, simplefs.RootInodeNum))
	}

	return fs.Unmount()
}
