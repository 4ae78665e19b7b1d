package fsys

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
	"github.com/zkurisu/simplefs"
	"github.com/zkurisu/simplefs/disk"
)

// Identification constants stored at the front of block 1.
const (
	Magic1 = uint16(0x04)
	Magic2 = uint16(0x17)
)

// inodeBlockDivisor reserves 1/10 of the disk for the inode table.
const inodeBlockDivisor = 10

// Superblock is the on-disk geometry record stored in block 1. All fields
// are little-endian; the rest of the block is zero.
type Superblock struct {
	Magic1           uint16
	Magic2           uint16
	Blocks           uint32
	InodeBlocks      uint32
	Inodes           uint32
	InodeBitmapStart uint32
	InodeBitmapCount uint32
	BlockBitmapStart uint32
	BlockBitmapCount uint32
	InodeTableStart  uint32
	DatablockStart   uint32
	DatablockCount   uint32
	FreeBlocks       uint32
	FreeInodes       uint32
}

// bitmapBlockCount gives the number of blocks needed to store a bitmap of
// the given number of bits.
func bitmapBlockCount(bits, blockSize uint32) uint32 {
	bitsPerBlock := blockSize * 8
	return (bits + bitsPerBlock - 1) / bitsPerBlock
}

// ComputeGeometry derives every superblock field from the block count and
// block size. The metadata regions are contiguous starting at block 2, in
// the order inode bitmap, block bitmap, inode table, data.
func ComputeGeometry(blocks, blockSize uint32) (Superblock, error) {
	if blockSize < simplefs.MinBlockSize {
		return Superblock{}, simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("block size %d below minimum %d",
				blockSize, simplefs.MinBlockSize))
	}
	if blockSize%simplefs.InodeSize != 0 || blockSize%simplefs.DirentSize != 0 {
		return Superblock{}, simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("block size %d must be a multiple of %d and %d",
				blockSize, simplefs.InodeSize, simplefs.DirentSize))
	}

	super := Superblock{
		Magic1:      Magic1,
		Magic2:      Magic2,
		Blocks:      blocks,
		InodeBlocks: blocks / inodeBlockDivisor,
	}
	if super.InodeBlocks == 0 {
		return Superblock{}, simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("%d blocks leave no room for an inode table", blocks))
	}

	super.Inodes = super.InodeBlocks * (blockSize / simplefs.InodeSize)
	super.InodeBitmapStart = 2
	super.InodeBitmapCount = bitmapBlockCount(super.Inodes, blockSize)
	super.BlockBitmapStart = super.InodeBitmapStart + super.InodeBitmapCount
	super.BlockBitmapCount = bitmapBlockCount(blocks, blockSize)
	super.InodeTableStart = super.BlockBitmapStart + super.BlockBitmapCount
	super.DatablockStart = super.InodeTableStart + super.InodeBlocks

	if super.DatablockStart >= blocks {
		return Superblock{}, simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("metadata occupies %d blocks, disk only has %d",
				super.DatablockStart, blocks))
	}
	super.DatablockCount = blocks - super.DatablockStart + 1
	super.FreeBlocks = super.DatablockCount
	super.FreeInodes = super.Inodes
	return super, nil
}

// Encode lays the superblock record into a block-sized buffer.
func (super *Superblock) Encode(buf []byte) error {
	for i := range buf {
		buf[i] = 0
	}
	writer := bytewriter.New(buf)
	if err := binary.Write(writer, binary.LittleEndian, super); err != nil {
		return simplefs.ErrInternal.WrapError(err)
	}
	return nil
}

// DecodeSuperblock parses a superblock record from a block buffer and
// verifies the identification constants.
func DecodeSuperblock(buf []byte) (Superblock, error) {
	var super Superblock
	reader := bytes.NewReader(buf)
	if err := binary.Read(reader, binary.LittleEndian, &super); err != nil {
		return Superblock{}, simplefs.ErrInternal.WrapError(err)
	}

	if super.Magic1 != Magic1 || super.Magic2 != Magic2 {
		return Superblock{}, simplefs.ErrAttach.WithMessage(
			fmt.Sprintf("bad magic %#04x/%#04x, image is not formatted",
				super.Magic1, super.Magic2))
	}
	return super, nil
}

// validateAgainst cross-checks decoded geometry against the attached device.
func (super *Superblock) validateAgainst(dev *disk.Device) error {
	if super.Blocks != dev.TotalBlocks() {
		return simplefs.ErrAttach.WithMessage(
			fmt.Sprintf("superblock says %d blocks, device has %d",
				super.Blocks, dev.TotalBlocks()))
	}
	recomputed, err := ComputeGeometry(super.Blocks, dev.BlockSize())
	if err != nil {
		return err
	}
	if recomputed.DatablockStart != super.DatablockStart ||
		recomputed.Inodes != super.Inodes {
		return simplefs.ErrAttach.WithMessage(
			"superblock geometry does not match the device block size")
	}
	return nil
}
