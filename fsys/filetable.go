package fsys

import (
	"fmt"
	"sync"

	"github.com/zkurisu/simplefs"
)

// MaxOpenFiles bounds the number of simultaneously open handles per mount.
const MaxOpenFiles = 1024

// openFileTable is the fixed-slot registry of open handles. It is owned by
// the mount state rather than being process-global, so two mounted images
// never share limits or invalidation traffic.
type openFileTable struct {
	mu      sync.Mutex
	handles [MaxOpenFiles]*Handle
	used    uint32
}

func newOpenFileTable() *openFileTable {
	return &openFileTable{}
}

func (table *openFileTable) register(fh *Handle) error {
	table.mu.Lock()
	defer table.mu.Unlock()

	for i := range table.handles {
		if table.handles[i] == nil {
			table.handles[i] = fh
			table.used++
			return nil
		}
	}
	return simplefs.ErrTooManyOpenFiles.WithMessage(
		fmt.Sprintf("open-file table is full (%d handles)", MaxOpenFiles))
}

func (table *openFileTable) unregister(fh *Handle) {
	table.mu.Lock()
	defer table.mu.Unlock()

	for i := range table.handles {
		if table.handles[i] == fh {
			table.handles[i] = nil
			table.used--
			return
		}
	}
}

func (table *openFileTable) count() uint32 {
	table.mu.Lock()
	defer table.mu.Unlock()
	return table.used
}

// invalidateInode drops the cached inode on every handle for `inodeNum`
// except `keep` (the handle that just wrote the fresh value). Only the cache
// flag is touched, so no handle lock is needed and writers on two handles of
// the same inode cannot deadlock against each other.
func (table *openFileTable) invalidateInode(inodeNum uint32, keep *Handle) {
	table.mu.Lock()
	defer table.mu.Unlock()

	for _, fh := range table.handles {
		if fh == nil || fh == keep || fh.inodeNum != inodeNum {
			continue
		}
		fh.cacheValid.Store(false)
	}
}
