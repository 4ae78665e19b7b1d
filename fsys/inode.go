package fsys

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
	"github.com/zkurisu/simplefs"
)

// DirectPointers is the number of direct block pointers in an inode.
const DirectPointers = 12

// Inode is the in-memory form of the fixed 64-byte on-disk inode record.
// InodeNumber 0 marks a free slot; a block pointer of 0 is a hole.
type Inode struct {
	InodeNumber    uint32
	FileType       simplefs.FileType
	FileSize       uint32
	DirectBlocks   [DirectPointers]uint32
	SingleIndirect uint32
}

// IsAllocated reports whether the record describes a live file or directory.
func (ino *Inode) IsAllocated() bool {
	return ino.InodeNumber != 0 && ino.FileType != simplefs.FTypeInvalid
}

func decodeInode(data []byte) (Inode, error) {
	var raw struct {
		InodeNumber    uint32
		FileType       uint32
		FileSize       uint32
		DirectBlocks   [DirectPointers]uint32
		SingleIndirect uint32
	}
	reader := bytes.NewReader(data)
	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return Inode{}, simplefs.ErrInodeOperation.WrapError(err)
	}
	return Inode{
		InodeNumber:    raw.InodeNumber,
		FileType:       simplefs.FileType(raw.FileType),
		FileSize:       raw.FileSize,
		DirectBlocks:   raw.DirectBlocks,
		SingleIndirect: raw.SingleIndirect,
	}, nil
}

func (ino *Inode) encode(buf []byte) error {
	raw := struct {
		InodeNumber    uint32
		FileType       uint32
		FileSize       uint32
		DirectBlocks   [DirectPointers]uint32
		SingleIndirect uint32
	}{
		InodeNumber:    ino.InodeNumber,
		FileType:       uint32(ino.FileType),
		FileSize:       ino.FileSize,
		DirectBlocks:   ino.DirectBlocks,
		SingleIndirect: ino.SingleIndirect,
	}
	writer := bytewriter.New(buf)
	if err := binary.Write(writer, binary.LittleEndian, &raw); err != nil {
		return simplefs.ErrInodeOperation.WrapError(err)
	}
	return nil
}

// InodesPerBlock returns how many inode records fit in one block.
func (fs *FileSystem) InodesPerBlock() uint32 {
	return fs.blockSize / simplefs.InodeSize
}

func (fs *FileSystem) checkInodeNum(inodeNum uint32) error {
	if inodeNum < 1 || inodeNum > fs.super.Inodes {
		return simplefs.ErrInodeOperation.WithMessage(
			fmt.Sprintf("inode number %d not in range [1, %d]",
				inodeNum, fs.super.Inodes))
	}
	return nil
}

// inodeLocation maps a 1-based inode number to its table block and the byte
// offset of the record inside that block.
func (fs *FileSystem) inodeLocation(inodeNum uint32) (blockNo, offset uint32) {
	perBlock := fs.blockSize / simplefs.InodeSize
	index := inodeNum - 1
	blockNo = fs.super.InodeTableStart + index/perBlock
	offset = (index % perBlock) * simplefs.InodeSize
	return blockNo, offset
}

// ReadInode loads one inode record from the inode table.
func (fs *FileSystem) ReadInode(inodeNum uint32) (Inode, error) {
	if err := fs.checkInodeNum(inodeNum); err != nil {
		return Inode{}, err
	}

	blockNo, offset := fs.inodeLocation(inodeNum)
	buf := fs.blockBuf()
	if err := fs.dev.Read(blockNo, buf); err != nil {
		return Inode{}, err
	}
	return decodeInode(buf[offset : offset+simplefs.InodeSize])
}

// WriteInode stores one inode record through a read-modify-write of its
// table block, then invalidates every open handle caching the same inode.
func (fs *FileSystem) WriteInode(inodeNum uint32, ino *Inode) error {
	return fs.writeInodeExcept(inodeNum, ino, nil)
}

func (fs *FileSystem) writeInodeExcept(inodeNum uint32, ino *Inode, keep *Handle) error {
	if err := fs.checkInodeNum(inodeNum); err != nil {
		return err
	}

	fs.inodeTableMu.Lock()
	defer fs.inodeTableMu.Unlock()

	blockNo, offset := fs.inodeLocation(inodeNum)
	buf := fs.blockBuf()
	if err := fs.dev.Read(blockNo, buf); err != nil {
		return err
	}
	if err := ino.encode(buf[offset : offset+simplefs.InodeSize]); err != nil {
		return err
	}
	if err := fs.dev.Write(blockNo, buf); err != nil {
		return err
	}

	fs.table.invalidateInode(inodeNum, keep)
	return nil
}

// AllocInode reserves a fresh inode number. The table record is not touched;
// its content only matters once the bitmap bit is set and the caller writes
// a valid record.
func (fs *FileSystem) AllocInode() (uint32, error) {
	return fs.inodeAlloc.Allocate()
}

// FreeInode releases an inode number. The caller must already have freed the
// inode's blocks.
func (fs *FileSystem) FreeInode(inodeNum uint32) error {
	return fs.inodeAlloc.Free(inodeNum)
}

// MaxBlockOffset returns the number of logical block slots a file can
// address: the direct pointers plus one indirect table of blockSize/4
// entries.
func (fs *FileSystem) MaxBlockOffset() uint32 {
	return DirectPointers + fs.blockSize/4
}

// MaxFileSize returns the largest byte size a file can reach.
func (fs *FileSystem) MaxFileSize() uint32 {
	return fs.MaxBlockOffset() * fs.blockSize
}
