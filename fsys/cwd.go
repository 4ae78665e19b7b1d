package fsys

import (
	"fmt"
	"sync"

	"github.com/zkurisu/simplefs"
	"github.com/zkurisu/simplefs/fspath"
)

// WorkingDir is the mount's current-directory state. Relative paths passed
// to the API resolve against it. It is owned by the FileSystem, not a
// process-wide global, so two mounts never share a working directory.
type WorkingDir struct {
	fs *FileSystem

	mu       sync.RWMutex
	inodeNum uint32
	path     fspath.Path
}

func newWorkingDir(fs *FileSystem) *WorkingDir {
	return &WorkingDir{
		fs:       fs,
		inodeNum: simplefs.RootInodeNum,
		path:     fspath.Path{IsAbsolute: true},
	}
}

// InodeNum returns the current directory's inode number.
func (wd *WorkingDir) InodeNum() uint32 {
	wd.mu.RLock()
	defer wd.mu.RUnlock()
	return wd.inodeNum
}

// Path returns the current directory as an absolute path.
func (wd *WorkingDir) Path() fspath.Path {
	wd.mu.RLock()
	defer wd.mu.RUnlock()
	return wd.path
}

// Chdir moves the working directory. The target must resolve to a
// directory.
func (wd *WorkingDir) Chdir(pathStr string) error {
	parsed, err := fspath.Parse(pathStr)
	if err != nil {
		return err
	}

	inodeNum, err := wd.fs.ResolvePath(pathStr)
	if err != nil {
		return err
	}
	ino, err := wd.fs.ReadInode(inodeNum)
	if err != nil {
		return err
	}
	if ino.FileType != simplefs.FTypeDirectory {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("%q is not a directory", pathStr))
	}

	wd.mu.Lock()
	defer wd.mu.Unlock()

	if parsed.IsAbsolute {
		wd.path = parsed
	} else {
		merged, err := fspath.Merge(wd.path, parsed)
		if err != nil {
			return err
		}
		wd.path = merged
	}
	wd.inodeNum = inodeNum
	return nil
}
