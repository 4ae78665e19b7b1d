// Package disk provides the fixed-size block-addressable backing store for
// the file system. A Device is a view of an image file (or any stream) as a
// sequence of equally sized blocks. Block numbers are 1-based; 0 is the
// "no block" sentinel used by the layers above.
package disk

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/xaionaro-go/bytesextra"
	"github.com/zkurisu/simplefs"
)

// MaxDisks is the number of conventional image slots.
const MaxDisks = 10

// ImagePath returns the conventional image file location for a disk slot.
func ImagePath(diskID uint8) string {
	return fmt.Sprintf("/tmp/disk%d.img", diskID)
}

// Device is a block-oriented handle on an image. All I/O goes through a
// single mutex so concurrent callers never interleave seek/transfer pairs.
type Device struct {
	stream     io.ReadWriteSeeker
	closer     io.Closer
	blockSize  uint32
	blockCount uint32
	id         uint8
	mu         sync.Mutex
}

// Attach opens the image file for a disk slot and verifies its size is an
// exact multiple of the block size.
func Attach(blockSize uint32, diskID uint8) (*Device, error) {
	if diskID >= MaxDisks {
		return nil, simplefs.ErrAttach.WithMessage(
			fmt.Sprintf("disk id %d not in range [0, %d)", diskID, MaxDisks))
	}
	if blockSize < simplefs.MinBlockSize {
		return nil, simplefs.ErrAttach.WithMessage(
			fmt.Sprintf("block size %d below minimum %d",
				blockSize, simplefs.MinBlockSize))
	}

	file, err := os.OpenFile(ImagePath(diskID), os.O_RDWR, 0)
	if err != nil {
		return nil, simplefs.ErrAttach.WrapError(err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, simplefs.ErrAttach.WrapError(err)
	}
	if info.Size() == 0 || info.Size()%int64(blockSize) != 0 {
		file.Close()
		return nil, simplefs.ErrAttach.WithMessage(
			fmt.Sprintf("image size %d is not a non-zero multiple of block size %d",
				info.Size(), blockSize))
	}

	return &Device{
		stream:     file,
		closer:     file,
		blockSize:  blockSize,
		blockCount: uint32(info.Size() / int64(blockSize)),
		id:         diskID,
	}, nil
}

// FromStream wraps any ReadWriteSeeker as a Device, inferring the block count
// from the stream length.
func FromStream(stream io.ReadWriteSeeker, blockSize uint32) (*Device, error) {
	if blockSize < simplefs.MinBlockSize {
		return nil, simplefs.ErrAttach.WithMessage(
			fmt.Sprintf("block size %d below minimum %d",
				blockSize, simplefs.MinBlockSize))
	}

	end, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, simplefs.ErrAttach.WrapError(err)
	}
	if end == 0 || end%int64(blockSize) != 0 {
		return nil, simplefs.ErrAttach.WithMessage(
			fmt.Sprintf("stream size %d is not a non-zero multiple of block size %d",
				end, blockSize))
	}

	closer, _ := stream.(io.Closer)
	return &Device{
		stream:     stream,
		closer:     closer,
		blockSize:  blockSize,
		blockCount: uint32(end / int64(blockSize)),
	}, nil
}

// FromSlice wraps an in-memory byte slice as a Device. Useful for tests and
// for callers that build images without touching the host file system.
func FromSlice(storage []byte, blockSize uint32) (*Device, error) {
	return FromStream(bytesextra.NewReadWriteSeeker(storage), blockSize)
}

// Preallocate creates (or overwrites) a zero-filled image file for a disk
// slot, sized blockCount * blockSize bytes.
func Preallocate(diskID uint8, blockCount, blockSize uint32) error {
	if diskID >= MaxDisks {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("disk id %d not in range [0, %d)", diskID, MaxDisks))
	}
	if blockCount == 0 || blockSize < simplefs.MinBlockSize {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("bad geometry: %d blocks of %d bytes", blockCount, blockSize))
	}

	file, err := os.OpenFile(
		ImagePath(diskID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return simplefs.ErrDiskIO.WrapError(err)
	}
	defer file.Close()

	if err := file.Truncate(int64(blockCount) * int64(blockSize)); err != nil {
		return simplefs.ErrDiskIO.WrapError(err)
	}
	return nil
}

// Detach closes the underlying image. The device must not be used afterwards.
func (dev *Device) Detach() error {
	if dev.closer == nil {
		return nil
	}
	if err := dev.closer.Close(); err != nil {
		return simplefs.ErrDetach.WrapError(err)
	}
	return nil
}

// BlockSize returns the size of one block, in bytes.
func (dev *Device) BlockSize() uint32 {
	return dev.blockSize
}

// TotalBlocks returns the number of blocks on the device.
func (dev *Device) TotalBlocks() uint32 {
	return dev.blockCount
}

// ID returns the disk slot this device was attached from (0 for streams).
func (dev *Device) ID() uint8 {
	return dev.id
}

func (dev *Device) checkTransfer(blockNo uint32, buf []byte) error {
	if blockNo < 1 || blockNo > dev.blockCount {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("bad block number %d, want [1, %d]", blockNo, dev.blockCount))
	}
	if uint32(len(buf)) != dev.blockSize {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("buffer is %d bytes, want exactly %d", len(buf), dev.blockSize))
	}
	return nil
}

// Read fills buf with the contents of one block. buf must be exactly one
// block in size.
func (dev *Device) Read(blockNo uint32, buf []byte) error {
	if err := dev.checkTransfer(blockNo, buf); err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	offset := int64(blockNo-1) * int64(dev.blockSize)
	if _, err := dev.stream.Seek(offset, io.SeekStart); err != nil {
		return simplefs.ErrDiskIO.WrapError(err)
	}
	if _, err := io.ReadFull(dev.stream, buf); err != nil {
		return simplefs.ErrDiskIO.WithMessage(
			fmt.Sprintf("short read on block %d: %s", blockNo, err))
	}
	return nil
}

// Write stores buf into one block. buf must be exactly one block in size.
func (dev *Device) Write(blockNo uint32, buf []byte) error {
	if err := dev.checkTransfer(blockNo, buf); err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	offset := int64(blockNo-1) * int64(dev.blockSize)
	if _, err := dev.stream.Seek(offset, io.SeekStart); err != nil {
		return simplefs.ErrDiskIO.WrapError(err)
	}
	if _, err := dev.stream.Write(buf); err != nil {
		return simplefs.ErrDiskIO.WithMessage(
			fmt.Sprintf("write failed on block %d: %s", blockNo, err))
	}
	return nil
}

// ReadRange reads blocks start..end (inclusive) into buf, stopping on the
// first error. buf must hold (end - start + 1) blocks.
func (dev *Device) ReadRange(start, end uint32, buf []byte) error {
	if err := dev.checkRange(start, end, buf); err != nil {
		return err
	}
	for n := start; n <= end; n++ {
		chunk := buf[(n-start)*dev.blockSize : (n-start+1)*dev.blockSize]
		if err := dev.Read(n, chunk); err != nil {
			return err
		}
	}
	return nil
}

// WriteRange writes blocks start..end (inclusive) from buf, stopping on the
// first error.
func (dev *Device) WriteRange(start, end uint32, buf []byte) error {
	if err := dev.checkRange(start, end, buf); err != nil {
		return err
	}
	for n := start; n <= end; n++ {
		chunk := buf[(n-start)*dev.blockSize : (n-start+1)*dev.blockSize]
		if err := dev.Write(n, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (dev *Device) checkRange(start, end uint32, buf []byte) error {
	if start < 1 || end < start || end > dev.blockCount {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("bad block range [%d, %d], device has [1, %d]",
				start, end, dev.blockCount))
	}
	want := (end - start + 1) * dev.blockSize
	if uint32(len(buf)) != want {
		return simplefs.ErrBadArgument.WithMessage(
			fmt.Sprintf("buffer is %d bytes, want exactly %d", len(buf), want))
	}
	return nil
}
