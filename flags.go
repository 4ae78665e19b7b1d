package simplefs

import "fmt"

// IOFlags is the bit mask a file is opened with.
type IOFlags uint32

const (
	O_RDONLY = IOFlags(0x00)
	O_WRONLY = IOFlags(0x01)
	O_RDWR   = IOFlags(0x02)
	O_CREATE = IOFlags(0x04)
	O_APPEND = IOFlags(0x08)
	O_TRUNC  = IOFlags(0x10)
)

// O_ACCMODE masks out the mutually exclusive access-mode bits.
const O_ACCMODE = IOFlags(0x03)

const allIOFlags = O_RDONLY | O_WRONLY | O_RDWR | O_CREATE | O_APPEND | O_TRUNC

func (flags IOFlags) AccessMode() IOFlags {
	return flags & O_ACCMODE
}

func (flags IOFlags) Read() bool {
	mode := flags.AccessMode()
	return mode == O_RDONLY || mode == O_RDWR
}

func (flags IOFlags) Write() bool {
	mode := flags.AccessMode()
	return mode == O_WRONLY || mode == O_RDWR
}

func (flags IOFlags) Append() bool {
	return flags&O_APPEND != 0
}

func (flags IOFlags) Truncate() bool {
	return flags&O_TRUNC != 0
}

func (flags IOFlags) Create() bool {
	return flags&O_CREATE != 0
}

// Validate rejects unknown bits, an invalid access mode, RDONLY combined with
// APPEND or TRUNC, and APPEND combined with TRUNC.
func (flags IOFlags) Validate() error {
	if flags&^allIOFlags != 0 {
		return ErrInvalidFileFlags.WithMessage(
			fmt.Sprintf("unknown flag bits in %#04x", uint32(flags)))
	}

	mode := flags.AccessMode()
	if mode != O_RDONLY && mode != O_WRONLY && mode != O_RDWR {
		return ErrInvalidFileFlags.WithMessage(
			fmt.Sprintf("invalid access mode %#04x", uint32(mode)))
	}

	if mode == O_RDONLY && flags&(O_APPEND|O_TRUNC) != 0 {
		return ErrInvalidFileFlags.WithMessage(
			"O_RDONLY conflicts with O_APPEND/O_TRUNC")
	}

	if flags.Append() && flags.Truncate() {
		return ErrInvalidFileFlags.WithMessage(
			"O_APPEND and O_TRUNC are mutually exclusive")
	}
	return nil
}

// Whence selects the origin for Seek.
type Whence uint8

const (
	SeekSet = Whence(0)
	SeekCur = Whence(1)
	SeekEnd = Whence(2)
)

func (w Whence) Validate() error {
	if w > SeekEnd {
		return ErrInvalidWhence.WithMessage(
			fmt.Sprintf("invalid seek origin %d", w))
	}
	return nil
}
