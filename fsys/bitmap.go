package fsys

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/zkurisu/simplefs"
)

// Bitmap is a dense 0/1 array with bounds-checked access. Bit ordering within
// a byte is LSB-first. It carries no locking of its own; the allocators
// serialize access.
type Bitmap struct {
	bits  bitmap.Bitmap
	total uint32
}

// NewBitmap creates a zeroed bitmap holding `total` bits.
func NewBitmap(total uint32) Bitmap {
	return Bitmap{
		bits:  bitmap.New(int(total)),
		total: total,
	}
}

// BitmapFromBytes wraps raw on-disk bytes as a bitmap of `total` bits. The
// byte slice must hold at least ceil(total/8) bytes.
func BitmapFromBytes(raw []byte, total uint32) (Bitmap, error) {
	if uint32(len(raw))*8 < total {
		return Bitmap{}, simplefs.ErrBitmapOperation.WithMessage(
			fmt.Sprintf("%d bytes cannot hold %d bits", len(raw), total))
	}
	return Bitmap{bits: bitmap.Bitmap(raw), total: total}, nil
}

func (bm Bitmap) checkIndex(i uint32) error {
	if i >= bm.total {
		return simplefs.ErrBitmapOperation.WithMessage(
			fmt.Sprintf("bit index %d not in range [0, %d)", i, bm.total))
	}
	return nil
}

func (bm Bitmap) Get(i uint32) (bool, error) {
	if err := bm.checkIndex(i); err != nil {
		return false, err
	}
	return bm.bits.Get(int(i)), nil
}

func (bm Bitmap) Set(i uint32) error {
	if err := bm.checkIndex(i); err != nil {
		return err
	}
	bm.bits.Set(int(i), true)
	return nil
}

func (bm Bitmap) Clear(i uint32) error {
	if err := bm.checkIndex(i); err != nil {
		return err
	}
	bm.bits.Set(int(i), false)
	return nil
}

func (bm Bitmap) ClearAll() {
	for i := uint32(0); i < bm.total; i++ {
		bm.bits.Set(int(i), false)
	}
}

// Total returns the number of bits.
func (bm Bitmap) Total() uint32 {
	return bm.total
}

// Bytes returns the backing storage without copying, for flushing to disk.
func (bm Bitmap) Bytes() []byte {
	return bm.bits.Data(false)
}
