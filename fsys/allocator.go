package fsys

import (
	"fmt"
	"sync"

	"github.com/zkurisu/simplefs"
)

// Allocator hands out 1-based unit numbers (inode numbers or block numbers)
// backed by a bitmap. First-fit, no rotation cursor. The internal mutex
// serializes scans and updates so two concurrent allocations can never return
// the same unit.
type Allocator struct {
	mu    sync.Mutex
	bits  Bitmap
	total uint32
}

func newAllocator(total uint32) *Allocator {
	return &Allocator{
		bits:  NewBitmap(total),
		total: total,
	}
}

func allocatorFromBytes(raw []byte, total uint32) (*Allocator, error) {
	bits, err := BitmapFromBytes(raw, total)
	if err != nil {
		return nil, err
	}
	return &Allocator{bits: bits, total: total}, nil
}

// Allocate scans for the first free unit, marks it used, and returns its
// 1-based number.
func (alloc *Allocator) Allocate() (uint32, error) {
	alloc.mu.Lock()
	defer alloc.mu.Unlock()

	for i := uint32(0); i < alloc.total; i++ {
		used, err := alloc.bits.Get(i)
		if err != nil {
			return 0, err
		}
		if !used {
			if err := alloc.bits.Set(i); err != nil {
				return 0, err
			}
			return i + 1, nil
		}
	}
	return 0, simplefs.ErrNoSpace.WithMessage(
		fmt.Sprintf("all %d units allocated", alloc.total))
}

// Free clears the bit for a 1-based unit number. The unit's content is left
// untouched.
func (alloc *Allocator) Free(unit uint32) error {
	if unit < 1 || unit > alloc.total {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("unit %d not in range [1, %d]", unit, alloc.total))
	}

	alloc.mu.Lock()
	defer alloc.mu.Unlock()
	return alloc.bits.Clear(unit - 1)
}

// MarkUsed sets the bit for a 1-based unit number without scanning. Format
// uses it to reserve the metadata prefix.
func (alloc *Allocator) MarkUsed(unit uint32) error {
	if unit < 1 || unit > alloc.total {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("unit %d not in range [1, %d]", unit, alloc.total))
	}

	alloc.mu.Lock()
	defer alloc.mu.Unlock()
	return alloc.bits.Set(unit - 1)
}

// InUse reports whether a 1-based unit number is allocated.
func (alloc *Allocator) InUse(unit uint32) (bool, error) {
	if unit < 1 || unit > alloc.total {
		return false, simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("unit %d not in range [1, %d]", unit, alloc.total))
	}

	alloc.mu.Lock()
	defer alloc.mu.Unlock()
	return alloc.bits.Get(unit - 1)
}

// FreeCount walks the bitmap and counts unallocated units.
func (alloc *Allocator) FreeCount() uint32 {
	alloc.mu.Lock()
	defer alloc.mu.Unlock()

	free := uint32(0)
	for i := uint32(0); i < alloc.total; i++ {
		used, err := alloc.bits.Get(i)
		if err == nil && !used {
			free++
		}
	}
	return free
}

// Total returns the number of units managed.
func (alloc *Allocator) Total() uint32 {
	return alloc.total
}

// Bytes returns the backing bitmap bytes for flushing at unmount.
func (alloc *Allocator) Bytes() []byte {
	alloc.mu.Lock()
	defer alloc.mu.Unlock()
	return alloc.bits.Bytes()
}
