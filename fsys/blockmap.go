package fsys

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/zkurisu/simplefs"
)

// The block-map translates a logical file-block offset into a physical block
// number: offsets below DirectPointers live in the inode itself, the rest in
// the single-indirect table. Pointer updates to the direct array happen on
// the in-memory inode only; the caller persists the inode. Updates to the
// indirect table are written through immediately.

// AllocBlock reserves a fresh data block.
func (fs *FileSystem) AllocBlock() (uint32, error) {
	return fs.blockAlloc.Allocate()
}

// FreeBlock releases a block. The block content is not zeroed.
func (fs *FileSystem) FreeBlock(blockNo uint32) error {
	return fs.blockAlloc.Free(blockNo)
}

// CleanBlock writes a zero block, used before a block is reused for
// structured data such as an indirect table or a fresh directory block.
func (fs *FileSystem) CleanBlock(blockNo uint32) error {
	return fs.dev.Write(blockNo, fs.blockBuf())
}

func (fs *FileSystem) indirectEntries() uint32 {
	return fs.blockSize / 4
}

// readIndirect loads the indirect table block as a slice of block numbers.
func (fs *FileSystem) readIndirect(tableBlock uint32) ([]uint32, []byte, error) {
	buf := fs.blockBuf()
	if err := fs.dev.Read(tableBlock, buf); err != nil {
		return nil, nil, err
	}
	entries := make([]uint32, fs.indirectEntries())
	for i := range entries {
		entries[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return entries, buf, nil
}

// BlockAt returns the physical block backing logical offset `k`, or 0 for a
// hole or an out-of-range offset.
func (fs *FileSystem) BlockAt(ino *Inode, k uint32) (uint32, error) {
	if k < DirectPointers {
		return ino.DirectBlocks[k], nil
	}
	if k >= fs.MaxBlockOffset() {
		return 0, nil
	}
	if ino.SingleIndirect == 0 {
		return 0, nil
	}

	entries, _, err := fs.readIndirect(ino.SingleIndirect)
	if err != nil {
		return 0, err
	}
	return entries[k-DirectPointers], nil
}

// AllocBlockAt allocates a data block for logical offset `k`, which must
// currently be a hole. If `k` addresses the indirect range and no indirect
// table exists yet, one is allocated and zeroed first.
func (fs *FileSystem) AllocBlockAt(ino *Inode, k uint32) (uint32, error) {
	if k >= fs.MaxBlockOffset() {
		return 0, simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("logical block offset %d not in range [0, %d)",
				k, fs.MaxBlockOffset()))
	}

	current, err := fs.BlockAt(ino, k)
	if err != nil {
		return 0, err
	}
	if current != 0 {
		return 0, simplefs.ErrInodeOperation.WithMessage(
			fmt.Sprintf("logical block %d already maps to block %d", k, current))
	}

	if k < DirectPointers {
		blockNo, err := fs.AllocBlock()
		if err != nil {
			return 0, err
		}
		ino.DirectBlocks[k] = blockNo
		return blockNo, nil
	}

	tableCreated := false
	if ino.SingleIndirect == 0 {
		tableBlock, err := fs.AllocBlock()
		if err != nil {
			return 0, err
		}
		if err := fs.CleanBlock(tableBlock); err != nil {
			fs.FreeBlock(tableBlock)
			return 0, err
		}
		ino.SingleIndirect = tableBlock
		tableCreated = true
	}

	rollbackTable := func() {
		if tableCreated {
			fs.FreeBlock(ino.SingleIndirect)
			ino.SingleIndirect = 0
		}
	}

	blockNo, err := fs.AllocBlock()
	if err != nil {
		rollbackTable()
		return 0, err
	}

	_, buf, err := fs.readIndirect(ino.SingleIndirect)
	if err != nil {
		fs.FreeBlock(blockNo)
		rollbackTable()
		return 0, err
	}
	slot := (k - DirectPointers) * 4
	binary.LittleEndian.PutUint32(buf[slot:slot+4], blockNo)
	if err := fs.dev.Write(ino.SingleIndirect, buf); err != nil {
		fs.FreeBlock(blockNo)
		rollbackTable()
		return 0, err
	}
	return blockNo, nil
}

// FreeBlockAt releases the block at logical offset `k` and clears its
// pointer in place. Freeing a hole is a no-op; the indirect table block
// itself is only released by FreeAllBlocks.
func (fs *FileSystem) FreeBlockAt(ino *Inode, k uint32) error {
	if k >= fs.MaxBlockOffset() {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("logical block offset %d not in range [0, %d)",
				k, fs.MaxBlockOffset()))
	}

	if k < DirectPointers {
		if ino.DirectBlocks[k] == 0 {
			return nil
		}
		if err := fs.FreeBlock(ino.DirectBlocks[k]); err != nil {
			return err
		}
		ino.DirectBlocks[k] = 0
		return nil
	}

	if ino.SingleIndirect == 0 {
		return nil
	}

	entries, buf, err := fs.readIndirect(ino.SingleIndirect)
	if err != nil {
		return err
	}
	index := k - DirectPointers
	if entries[index] == 0 {
		return nil
	}
	if err := fs.FreeBlock(entries[index]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[index*4:index*4+4], 0)
	return fs.dev.Write(ino.SingleIndirect, buf)
}

// FreeAllBlocks releases every data block the inode references, walks the
// indirect table releasing each entry, then releases the table block itself.
// Pointers are left zeroed on the in-memory inode; the caller persists or
// frees the inode afterwards. Errors are collected so one bad pointer does
// not leak the remaining blocks.
func (fs *FileSystem) FreeAllBlocks(ino *Inode) error {
	var result *multierror.Error

	for i := 0; i < DirectPointers; i++ {
		if ino.DirectBlocks[i] == 0 {
			continue
		}
		if err := fs.FreeBlock(ino.DirectBlocks[i]); err != nil {
			result = multierror.Append(result, err)
		}
		ino.DirectBlocks[i] = 0
	}

	if ino.SingleIndirect != 0 {
		entries, _, err := fs.readIndirect(ino.SingleIndirect)
		if err != nil {
			result = multierror.Append(result, err)
		} else {
			for _, blockNo := range entries {
				if blockNo == 0 {
					continue
				}
				if err := fs.FreeBlock(blockNo); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
		if err := fs.FreeBlock(ino.SingleIndirect); err != nil {
			result = multierror.Append(result, err)
		}
		ino.SingleIndirect = 0
	}

	return result.ErrorOrNil()
}

// CountBlocks counts the allocated data blocks an inode references, not
// counting the indirect table block itself.
func (fs *FileSystem) CountBlocks(ino *Inode) (uint32, error) {
	count := uint32(0)
	for i := 0; i < DirectPointers; i++ {
		if ino.DirectBlocks[i] != 0 {
			count++
		}
	}

	if ino.SingleIndirect != 0 {
		entries, _, err := fs.readIndirect(ino.SingleIndirect)
		if err != nil {
			return 0, err
		}
		for _, blockNo := range entries {
			if blockNo != 0 {
				count++
			}
		}
	}
	return count, nil
}
