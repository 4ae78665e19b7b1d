package fsys

import (
	"bytes"
	"encoding/binary"

	"github.com/noxer/bytewriter"
	"github.com/zkurisu/simplefs"
)

// Dirent is one fixed 256-byte directory entry: a 4-byte inode number
// followed by a NUL-terminated name. InodeNum 0 marks a free slot.
type Dirent struct {
	InodeNum uint32
	Name     string
}

// DirentsPerBlock returns how many directory entries fit in one block.
func (fs *FileSystem) DirentsPerBlock() uint32 {
	return fs.blockSize / simplefs.DirentSize
}

func decodeDirent(data []byte) Dirent {
	name := data[4:simplefs.DirentSize]
	if idx := bytes.IndexByte(name, 0); idx >= 0 {
		name = name[:idx]
	}
	return Dirent{
		InodeNum: binary.LittleEndian.Uint32(data[0:4]),
		Name:     string(name),
	}
}

func (de *Dirent) encode(buf []byte) {
	for i := 0; i < simplefs.DirentSize; i++ {
		buf[i] = 0
	}
	writer := bytewriter.New(buf)
	binary.Write(writer, binary.LittleEndian, de.InodeNum)
	writer.Write([]byte(de.Name))
}
