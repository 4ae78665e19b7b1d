package fsys

import (
	"fmt"

	"github.com/zkurisu/simplefs"
	"github.com/zkurisu/simplefs/fspath"
)

// A directory's data region is a flat array of fixed-size dirents. Removal
// never compacts: freed slots below the high-water mark stay in place and
// are reused by the next add, and FileSize keeps counting them.

// forEachDirBlock calls fn for every allocated data block of a directory, in
// logical offset order. fn returns true to stop the walk.
func (fs *FileSystem) forEachDirBlock(
	dir *Inode,
	fn func(logical, blockNo uint32, buf []byte) (bool, error),
) error {
	buf := fs.blockBuf()
	for k := uint32(0); k < fs.MaxBlockOffset(); k++ {
		blockNo, err := fs.BlockAt(dir, k)
		if err != nil {
			return err
		}
		if blockNo == 0 {
			continue
		}
		if err := fs.dev.Read(blockNo, buf); err != nil {
			return err
		}
		stop, err := fn(k, blockNo, buf)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// DirLookup scans a directory for an exact name match and returns the
// child's inode number, or 0 when the name is absent. Invalid names are
// rejected without touching the disk.
func (fs *FileSystem) DirLookup(dir *Inode, name string) (uint32, error) {
	if dir.FileType != simplefs.FTypeDirectory {
		return 0, simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("inode %d is not a directory", dir.InodeNumber))
	}
	if name != "." && name != ".." && !fspath.ValidName(name) {
		return 0, nil
	}

	found := uint32(0)
	err := fs.forEachDirBlock(dir, func(_, _ uint32, buf []byte) (bool, error) {
		for j := uint32(0); j < fs.DirentsPerBlock(); j++ {
			entry := decodeDirent(buf[j*simplefs.DirentSize:])
			if entry.InodeNum == 0 {
				continue
			}
			if entry.Name == name {
				found = entry.InodeNum
				return true, nil
			}
		}
		return false, nil
	})
	return found, err
}

// DirLookupByID is the reverse lookup: it returns the name a directory uses
// for a given child inode number.
func (fs *FileSystem) DirLookupByID(dir *Inode, childNum uint32) (string, error) {
	if dir.FileType != simplefs.FTypeDirectory {
		return "", simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("inode %d is not a directory", dir.InodeNumber))
	}

	name := ""
	found := false
	err := fs.forEachDirBlock(dir, func(_, _ uint32, buf []byte) (bool, error) {
		for j := uint32(0); j < fs.DirentsPerBlock(); j++ {
			entry := decodeDirent(buf[j*simplefs.DirentSize:])
			if entry.InodeNum == childNum {
				name = entry.Name
				found = true
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", simplefs.ErrNotFound.WithMessage(
			fmt.Sprintf("no entry for inode %d in directory %d",
				childNum, dir.InodeNumber))
	}
	return name, nil
}

// DirAdd inserts a (name, inode) entry. The slot comes from the first freed
// hole when the entry count leaves room inside the allocated blocks, and
// from a fresh zeroed block otherwise. The directory inode (size and any new
// block pointer) is persisted before returning.
func (fs *FileSystem) DirAdd(dir *Inode, name string, childNum uint32) error {
	if name != "." && name != ".." && !fspath.ValidName(name) {
		return simplefs.ErrInvalidName.WithMessage(
			fmt.Sprintf("invalid entry name %q", name))
	}
	if err := fs.checkInodeNum(childNum); err != nil {
		return err
	}

	fs.dirMu.Lock()
	defer fs.dirMu.Unlock()

	// The caller's copy may predate another thread's insert; the lock makes
	// the on-disk record authoritative.
	fresh, err := fs.ReadInode(dir.InodeNumber)
	if err != nil {
		return err
	}
	*dir = fresh

	existing, err := fs.DirLookup(dir, name)
	if err != nil {
		return err
	}
	if existing != 0 {
		return simplefs.ErrDirentExists.WithMessage(
			fmt.Sprintf("entry %q already exists", name))
	}

	var blockNo uint32
	var slot uint32
	buf := fs.blockBuf()

	if dir.FileSize%fs.blockSize == 0 {
		// Every allocated block is full; take the first unmapped logical
		// offset, back it with a clean block, and use slot 0.
		allocated := false
		for k := uint32(0); k < fs.MaxBlockOffset(); k++ {
			existing, err := fs.BlockAt(dir, k)
			if err != nil {
				return err
			}
			if existing != 0 {
				continue
			}
			blockNo, err = fs.AllocBlockAt(dir, k)
			if err != nil {
				return err
			}
			if err := fs.CleanBlock(blockNo); err != nil {
				fs.FreeBlockAt(dir, k)
				return err
			}
			allocated = true
			break
		}
		if !allocated {
			return simplefs.ErrNoSpace.WithMessage("directory is full")
		}
		slot = 0
		if err := fs.dev.Read(blockNo, buf); err != nil {
			return err
		}
	} else {
		// There is a freed slot somewhere below the high-water mark.
		found := false
		err := fs.forEachDirBlock(dir, func(_, bn uint32, blockBuf []byte) (bool, error) {
			for j := uint32(0); j < fs.DirentsPerBlock(); j++ {
				entry := decodeDirent(blockBuf[j*simplefs.DirentSize:])
				if entry.InodeNum == 0 {
					blockNo = bn
					slot = j
					copy(buf, blockBuf)
					found = true
					return true, nil
				}
			}
			return false, nil
		})
		if err != nil {
			return err
		}
		if !found {
			return simplefs.ErrInternal.WithMessage(
				fmt.Sprintf("directory %d size %d promises a free slot but none found",
					dir.InodeNumber, dir.FileSize))
		}
	}

	entry := Dirent{InodeNum: childNum, Name: name}
	entry.encode(buf[slot*simplefs.DirentSize:])
	if err := fs.dev.Write(blockNo, buf); err != nil {
		return err
	}

	dir.FileSize += simplefs.DirentSize
	return fs.WriteInode(dir.InodeNumber, dir)
}

// DirRemove frees the entry with the given name by zeroing its slot in
// place. The directory size is not decremented; the hole is reused by the
// next DirAdd.
func (fs *FileSystem) DirRemove(dir *Inode, name string) error {
	if dir.FileType != simplefs.FTypeDirectory {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("inode %d is not a directory", dir.InodeNumber))
	}

	fs.dirMu.Lock()
	defer fs.dirMu.Unlock()

	fresh, err := fs.ReadInode(dir.InodeNumber)
	if err != nil {
		return err
	}
	*dir = fresh

	removed := false
	err = fs.forEachDirBlock(dir, func(_, blockNo uint32, buf []byte) (bool, error) {
		for j := uint32(0); j < fs.DirentsPerBlock(); j++ {
			entry := decodeDirent(buf[j*simplefs.DirentSize:])
			if entry.InodeNum == 0 || entry.Name != name {
				continue
			}
			free := Dirent{}
			free.encode(buf[j*simplefs.DirentSize:])
			if err := fs.dev.Write(blockNo, buf); err != nil {
				return false, err
			}
			removed = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if !removed {
		return simplefs.ErrNotFound.WithMessage(
			fmt.Sprintf("no entry %q in directory %d", name, dir.InodeNumber))
	}
	return nil
}

// DirIsEmpty reports whether every live entry is "." or "..".
func (fs *FileSystem) DirIsEmpty(dir *Inode) (bool, error) {
	if dir.FileType != simplefs.FTypeDirectory {
		return false, simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("inode %d is not a directory", dir.InodeNumber))
	}

	empty := true
	err := fs.forEachDirBlock(dir, func(_, _ uint32, buf []byte) (bool, error) {
		for j := uint32(0); j < fs.DirentsPerBlock(); j++ {
			entry := decodeDirent(buf[j*simplefs.DirentSize:])
			if entry.InodeNum != 0 && entry.Name != "." && entry.Name != ".." {
				empty = false
				return true, nil
			}
		}
		return false, nil
	})
	return empty, err
}

// DirList yields every live entry with the type and size read from the
// child's inode.
func (fs *FileSystem) DirList(dir *Inode) ([]simplefs.DirEntry, error) {
	if dir.FileType != simplefs.FTypeDirectory {
		return nil, simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("inode %d is not a directory", dir.InodeNumber))
	}

	var entries []simplefs.DirEntry
	err := fs.forEachDirBlock(dir, func(_, _ uint32, buf []byte) (bool, error) {
		for j := uint32(0); j < fs.DirentsPerBlock(); j++ {
			entry := decodeDirent(buf[j*simplefs.DirentSize:])
			if entry.InodeNum == 0 {
				continue
			}
			child, err := fs.ReadInode(entry.InodeNum)
			if err != nil {
				return false, err
			}
			entries = append(entries, simplefs.DirEntry{
				InodeNum: entry.InodeNum,
				Name:     entry.Name,
				Type:     child.FileType,
				Size:     child.FileSize,
			})
		}
		return false, nil
	})
	return entries, err
}

// newDirectoryInode allocates an inode plus a zeroed indirect table block.
// Directories always carry the indirect table so DirAdd never has to create
// one mid-insert.
func (fs *FileSystem) newDirectoryInode() (Inode, error) {
	inodeNum, err := fs.AllocInode()
	if err != nil {
		return Inode{}, err
	}

	tableBlock, err := fs.AllocBlock()
	if err != nil {
		fs.FreeInode(inodeNum)
		return Inode{}, err
	}
	if err := fs.CleanBlock(tableBlock); err != nil {
		fs.FreeBlock(tableBlock)
		fs.FreeInode(inodeNum)
		return Inode{}, err
	}

	return Inode{
		InodeNumber:    inodeNum,
		FileType:       simplefs.FTypeDirectory,
		SingleIndirect: tableBlock,
	}, nil
}

// rollbackDirectoryInode undoes newDirectoryInode plus any entries added so
// far.
func (fs *FileSystem) rollbackDirectoryInode(dir *Inode) {
	fs.FreeAllBlocks(dir)
	fs.FreeInode(dir.InodeNumber)
}

// CreateRootDirectory builds the root: "." and ".." both point at the root
// itself. Returns the new inode number.
func (fs *FileSystem) CreateRootDirectory() (uint32, error) {
	dir, err := fs.newDirectoryInode()
	if err != nil {
		return 0, err
	}

	if err := fs.WriteInode(dir.InodeNumber, &dir); err != nil {
		fs.rollbackDirectoryInode(&dir)
		return 0, err
	}
	if err := fs.DirAdd(&dir, ".", dir.InodeNumber); err != nil {
		fs.rollbackDirectoryInode(&dir)
		return 0, err
	}
	if err := fs.DirAdd(&dir, "..", dir.InodeNumber); err != nil {
		fs.rollbackDirectoryInode(&dir)
		return 0, err
	}
	return dir.InodeNumber, nil
}

// CreateDirectory builds a fresh directory whose ".." points at the given
// parent. The parent's own entry for the new directory is the caller's job.
func (fs *FileSystem) CreateDirectory(parentNum uint32) (uint32, error) {
	if err := fs.checkInodeNum(parentNum); err != nil {
		return 0, err
	}

	dir, err := fs.newDirectoryInode()
	if err != nil {
		return 0, err
	}

	if err := fs.WriteInode(dir.InodeNumber, &dir); err != nil {
		fs.rollbackDirectoryInode(&dir)
		return 0, err
	}
	if err := fs.DirAdd(&dir, "..", parentNum); err != nil {
		fs.rollbackDirectoryInode(&dir)
		return 0, err
	}
	if err := fs.DirAdd(&dir, ".", dir.InodeNumber); err != nil {
		fs.rollbackDirectoryInode(&dir)
		return 0, err
	}
	return dir.InodeNumber, nil
}

// DeleteEmptyDirectory releases an empty directory's blocks and inode. The
// parent's entry must be removed separately.
func (fs *FileSystem) DeleteEmptyDirectory(dir *Inode) error {
	empty, err := fs.DirIsEmpty(dir)
	if err != nil {
		return err
	}
	if !empty {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("directory %d is not empty", dir.InodeNumber))
	}

	if err := fs.FreeAllBlocks(dir); err != nil {
		return err
	}
	return fs.FreeInode(dir.InodeNumber)
}
