package fsys

import (
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/zkurisu/simplefs"
	"github.com/zkurisu/simplefs/fspath"
)

// The path-level API. Absolute paths anchor at the root inode; relative
// paths anchor at the mount's working directory. Touch, and each directory
// Mkdir creates, release their own allocations when a later step fails.
// Multi-step operations keep the steps that completed before a failure:
// directories Mkdir already created, entries Rmdir already removed, and a
// destination Cp already created.

// baseInode returns the inode number a parsed path resolves against.
func (fs *FileSystem) baseInode(p fspath.Path) uint32 {
	if p.IsAbsolute {
		return simplefs.RootInodeNum
	}
	return fs.cwd.InodeNum()
}

// PathLookup walks a parsed path component by component from a base
// directory inode. It returns the final component's inode number, or 0 when
// any component is missing.
func (fs *FileSystem) PathLookup(base Inode, p fspath.Path) (uint32, error) {
	current := base
	inodeNum := current.InodeNumber
	for _, name := range p.Components {
		child, err := fs.DirLookup(&current, name)
		if err != nil {
			return 0, err
		}
		if child == 0 {
			return 0, nil
		}
		current, err = fs.ReadInode(child)
		if err != nil {
			return 0, err
		}
		inodeNum = child
	}
	return inodeNum, nil
}

// ResolvePath parses a path string and resolves it to an inode number. A
// missing interior directory fails with ErrInvalidPath; a missing final
// component fails with ErrNotFound.
func (fs *FileSystem) ResolvePath(pathStr string) (uint32, error) {
	parsed, err := fspath.Parse(pathStr)
	if err != nil {
		return 0, err
	}
	return fs.resolveParsed(parsed, pathStr)
}

func (fs *FileSystem) resolveParsed(parsed fspath.Path, pathStr string) (uint32, error) {
	base, err := fs.ReadInode(fs.baseInode(parsed))
	if err != nil {
		return 0, err
	}
	inodeNum, err := fs.PathLookup(base, parsed)
	if err != nil {
		return 0, err
	}
	if inodeNum == 0 {
		if _, err := fs.resolveParent(parsed, pathStr); err != nil {
			return 0, err
		}
		return 0, simplefs.ErrNotFound.WithMessage(
			fmt.Sprintf("%q does not exist", pathStr))
	}
	return inodeNum, nil
}

// resolveParent walks every interior component of a parsed path and returns
// the parent directory's inode. A missing or non-directory interior
// component fails with ErrInvalidPath.
func (fs *FileSystem) resolveParent(parsed fspath.Path, pathStr string) (Inode, error) {
	current, err := fs.ReadInode(fs.baseInode(parsed))
	if err != nil {
		return Inode{}, err
	}

	for _, name := range parsed.Dir().Components {
		child, err := fs.DirLookup(&current, name)
		if err != nil {
			return Inode{}, err
		}
		if child == 0 {
			return Inode{}, simplefs.ErrInvalidPath.WithMessage(
				fmt.Sprintf("%q: missing directory %q", pathStr, name))
		}
		current, err = fs.ReadInode(child)
		if err != nil {
			return Inode{}, err
		}
		if current.FileType != simplefs.FTypeDirectory {
			return Inode{}, simplefs.ErrInvalidPath.WithMessage(
				fmt.Sprintf("%q: %q is not a directory", pathStr, name))
		}
	}
	return current, nil
}

// Exists reports whether a path resolves.
func (fs *FileSystem) Exists(pathStr string) (bool, error) {
	parsed, err := fspath.Parse(pathStr)
	if err != nil {
		return false, err
	}
	base, err := fs.ReadInode(fs.baseInode(parsed))
	if err != nil {
		return false, err
	}
	inodeNum, err := fs.PathLookup(base, parsed)
	if err != nil {
		return false, err
	}
	return inodeNum != 0, nil
}

// Touch creates an empty file. The path must not already exist, must not
// end in '/', and every interior component must already be a directory.
func (fs *FileSystem) Touch(pathStr string) error {
	if strings.HasSuffix(pathStr, "/") {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("%q names a directory, touch creates files", pathStr))
	}

	parsed, err := fspath.Parse(pathStr)
	if err != nil {
		return err
	}
	if parsed.Depth() == 0 {
		return simplefs.ErrBadArgument.WithMessage("empty file name")
	}

	exists, err := fs.Exists(pathStr)
	if err != nil {
		return err
	}
	if exists {
		return simplefs.ErrDirentExists.WithMessage(
			fmt.Sprintf("%q already exists", pathStr))
	}

	parent, err := fs.resolveParent(parsed, pathStr)
	if err != nil {
		return err
	}

	inodeNum, err := fs.AllocInode()
	if err != nil {
		return err
	}
	tableBlock, err := fs.AllocBlock()
	if err != nil {
		fs.FreeInode(inodeNum)
		return err
	}
	if err := fs.CleanBlock(tableBlock); err != nil {
		fs.FreeBlock(tableBlock)
		fs.FreeInode(inodeNum)
		return err
	}

	ino := Inode{
		InodeNumber:    inodeNum,
		FileType:       simplefs.FTypeFile,
		SingleIndirect: tableBlock,
	}
	if err := fs.WriteInode(inodeNum, &ino); err != nil {
		fs.FreeBlock(tableBlock)
		fs.FreeInode(inodeNum)
		return err
	}

	if err := fs.DirAdd(&parent, parsed.Base(), inodeNum); err != nil {
		fs.FreeBlock(tableBlock)
		fs.FreeInode(inodeNum)
		return err
	}
	return nil
}

// Unlink deletes a file: frees its data blocks and indirect table, frees
// the inode, and removes the parent's entry.
func (fs *FileSystem) Unlink(pathStr string) error {
	parsed, err := fspath.Parse(pathStr)
	if err != nil {
		return err
	}

	inodeNum, err := fs.resolveParsed(parsed, pathStr)
	if err != nil {
		return err
	}
	target, err := fs.ReadInode(inodeNum)
	if err != nil {
		return err
	}
	if target.FileType != simplefs.FTypeFile {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("%q is not a file", pathStr))
	}

	parent, err := fs.resolveParent(parsed, pathStr)
	if err != nil {
		return err
	}

	// Drop the name first so a failure below can't leave a live entry
	// pointing at freed resources.
	if err := fs.DirRemove(&parent, parsed.Base()); err != nil {
		return err
	}

	var result *multierror.Error
	if err := fs.FreeAllBlocks(&target); err != nil {
		result = multierror.Append(result, err)
	}
	if err := fs.FreeInode(inodeNum); err != nil {
		result = multierror.Append(result, err)
	}
	fs.table.invalidateInode(inodeNum, nil)
	return result.ErrorOrNil()
}

// Mkdir creates a directory; missing interior components are created
// recursively.
func (fs *FileSystem) Mkdir(pathStr string) error {
	parsed, err := fspath.Parse(pathStr)
	if err != nil {
		return err
	}
	if parsed.Depth() == 0 {
		return simplefs.ErrDirentExists.WithMessage(
			fmt.Sprintf("%q already exists", parsed.String()))
	}

	exists, err := fs.Exists(pathStr)
	if err != nil {
		return err
	}
	if exists {
		return simplefs.ErrDirentExists.WithMessage(
			fmt.Sprintf("%q already exists", pathStr))
	}

	current, err := fs.ReadInode(fs.baseInode(parsed))
	if err != nil {
		return err
	}

	for _, name := range parsed.Components {
		child, err := fs.DirLookup(&current, name)
		if err != nil {
			return err
		}
		if child == 0 {
			child, err = fs.CreateDirectory(current.InodeNumber)
			if err != nil {
				return err
			}
			if err := fs.DirAdd(&current, name, child); err != nil {
				created, readErr := fs.ReadInode(child)
				if readErr == nil {
					fs.rollbackDirectoryInode(&created)
				}
				return err
			}
		} else {
			existing, err := fs.ReadInode(child)
			if err != nil {
				return err
			}
			if existing.FileType != simplefs.FTypeDirectory {
				return simplefs.ErrInvalidPath.WithMessage(
					fmt.Sprintf("%q: %q is not a directory", pathStr, name))
			}
		}
		current, err = fs.ReadInode(child)
		if err != nil {
			return err
		}
	}
	return nil
}

// Rmdir removes a directory, recursively unlinking contained files and
// removing contained subdirectories first.
func (fs *FileSystem) Rmdir(pathStr string) error {
	parsed, err := fspath.Parse(pathStr)
	if err != nil {
		return err
	}

	inodeNum, err := fs.resolveParsed(parsed, pathStr)
	if err != nil {
		return err
	}
	target, err := fs.ReadInode(inodeNum)
	if err != nil {
		return err
	}
	if target.FileType != simplefs.FTypeDirectory {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("%q is not a directory", pathStr))
	}
	if inodeNum == simplefs.RootInodeNum {
		return simplefs.ErrBadArgument.WithMessage("cannot remove the root directory")
	}

	if err := fs.removeDirectoryTree(&target); err != nil {
		return err
	}

	parent, err := fs.resolveParent(parsed, pathStr)
	if err != nil {
		return err
	}
	if err := fs.DirRemove(&parent, parsed.Base()); err != nil {
		return err
	}
	fs.table.invalidateInode(inodeNum, nil)
	return nil
}

// removeDirectoryTree empties a directory depth-first and then releases it.
func (fs *FileSystem) removeDirectoryTree(dir *Inode) error {
	entries, err := fs.DirList(dir)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}

		child, err := fs.ReadInode(entry.InodeNum)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		switch child.FileType {
		case simplefs.FTypeFile:
			if err := fs.FreeAllBlocks(&child); err != nil {
				result = multierror.Append(result, err)
			}
			if err := fs.FreeInode(entry.InodeNum); err != nil {
				result = multierror.Append(result, err)
			}
		case simplefs.FTypeDirectory:
			if err := fs.removeDirectoryTree(&child); err != nil {
				result = multierror.Append(result, err)
			}
		default:
			result = multierror.Append(result, simplefs.ErrInternal.WithMessage(
				fmt.Sprintf("entry %q points at invalid inode %d",
					entry.Name, entry.InodeNum)))
		}

		if err := fs.DirRemove(dir, entry.Name); err != nil {
			result = multierror.Append(result, err)
		}
		fs.table.invalidateInode(entry.InodeNum, nil)
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	return fs.DeleteEmptyDirectory(dir)
}

// List returns the entries of the directory at a path.
func (fs *FileSystem) List(pathStr string) ([]simplefs.DirEntry, error) {
	inodeNum, err := fs.ResolvePath(pathStr)
	if err != nil {
		return nil, err
	}
	dir, err := fs.ReadInode(inodeNum)
	if err != nil {
		return nil, err
	}
	return fs.DirList(&dir)
}

// Cat streams the whole file at a path into w.
func (fs *FileSystem) Cat(pathStr string, w io.Writer) error {
	fh, err := fs.Open(pathStr, simplefs.O_RDONLY)
	if err != nil {
		return err
	}
	defer fh.Close()

	size, err := fh.Size()
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	buf := make([]byte, size)
	bytesRead, err := fh.Read(buf)
	if err != nil {
		return err
	}
	if bytesRead != size {
		return simplefs.ErrInternal.WithMessage(
			fmt.Sprintf("read %d of %d bytes from %q", bytesRead, size, pathStr))
	}
	if _, err := w.Write(buf); err != nil {
		return simplefs.ErrDiskIO.WrapError(err)
	}
	return nil
}

// StatPath describes the object at a path.
func (fs *FileSystem) StatPath(pathStr string) (simplefs.FileStat, error) {
	inodeNum, err := fs.ResolvePath(pathStr)
	if err != nil {
		return simplefs.FileStat{}, err
	}
	ino, err := fs.ReadInode(inodeNum)
	if err != nil {
		return simplefs.FileStat{}, err
	}
	blocks, err := fs.CountBlocks(&ino)
	if err != nil {
		return simplefs.FileStat{}, err
	}
	return simplefs.FileStat{
		InodeNum: inodeNum,
		Type:     ino.FileType,
		Size:     ino.FileSize,
		Blocks:   blocks,
	}, nil
}

// Cp copies src to dst. A file source is created with Touch and its
// allocated blocks replicated one by one; a directory source is created
// empty with Mkdir and only its direct content blocks are copied, with no
// deep recursion.
func (fs *FileSystem) Cp(srcPath, dstPath string) error {
	srcNum, err := fs.ResolvePath(srcPath)
	if err != nil {
		return err
	}
	src, err := fs.ReadInode(srcNum)
	if err != nil {
		return err
	}

	switch src.FileType {
	case simplefs.FTypeFile:
		err = fs.Touch(dstPath)
	case simplefs.FTypeDirectory:
		err = fs.Mkdir(dstPath)
	default:
		return simplefs.ErrInternal.WithMessage(
			fmt.Sprintf("%q has invalid type", srcPath))
	}
	if err != nil {
		return err
	}

	dstNum, err := fs.ResolvePath(dstPath)
	if err != nil {
		return err
	}
	dst, err := fs.ReadInode(dstNum)
	if err != nil {
		return err
	}

	buf := fs.blockBuf()
	for k := uint32(0); k < fs.MaxBlockOffset(); k++ {
		srcBlock, err := fs.BlockAt(&src, k)
		if err != nil {
			return err
		}
		if srcBlock == 0 {
			continue
		}
		if err := fs.dev.Read(srcBlock, buf); err != nil {
			return err
		}

		dstBlock, err := fs.BlockAt(&dst, k)
		if err != nil {
			return err
		}
		if dstBlock == 0 {
			dstBlock, err = fs.AllocBlockAt(&dst, k)
			if err != nil {
				return err
			}
		}
		if err := fs.dev.Write(dstBlock, buf); err != nil {
			return err
		}
	}

	dst.FileSize = src.FileSize
	return fs.WriteInode(dstNum, &dst)
}
