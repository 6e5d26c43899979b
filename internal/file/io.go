package file

import (
	"github.com/U-interrupt/sel4service/internal/bio"
	"github.com/U-interrupt/sel4service/internal/diskfmt"
	"github.com/U-interrupt/sel4service/internal/fserrors"
)

// DevSW is the two-entry device-switch table (spec.md §9, "Polymorphic
// device dispatch"): devsw[major] gives the Read/Write implementation
// for a device-backed file.
type DevSW interface {
	Read(f *File, dst []byte) (int32, error)
	Write(f *File, src []byte) (int32, error)
}

var devsw = map[int16]DevSW{}

// RegisterDevice installs the device-switch entry for major.
func RegisterDevice(major int16, sw DevSW) {
	devsw[major] = sw
}

// Read reads up to len(dst) bytes from f, which must be readable.
func (f *File) Read(dst []byte) (int32, error) {
	if !f.Readable {
		return -1, fserrors.ErrInval
	}

	switch f.Kind {
	case Device:
		sw, ok := devsw[f.Major]
		if !ok {
			return -1, fserrors.ErrInval
		}
		return sw.Read(f, dst)

	case Inode:
		if err := f.Ino.Ilock(); err != nil {
			return -1, err
		}
		defer f.Ino.Iunlock()

		n, err := f.Ino.Readi(dst, f.Off, uint32(len(dst)))
		if err != nil {
			return -1, err
		}
		f.Off += n
		return int32(n), nil

	default:
		return -1, fserrors.ErrInval
	}
}

// Write writes len(src) bytes to f, which must be writable. Large
// writes are chunked to bio.MaxOpBlocks*BSize per inode-layer call, the
// way the reference implementation bounds each write so a future
// journaling transaction stays within log capacity.
func (f *File) Write(src []byte) (int32, error) {
	if !f.Writable {
		return -1, fserrors.ErrInval
	}

	switch f.Kind {
	case Device:
		sw, ok := devsw[f.Major]
		if !ok {
			return -1, fserrors.ErrInval
		}
		return sw.Write(f, src)

	case Inode:
		const maxPerOp = bio.MaxOpBlocks * diskfmt.BSize

		var total int32
		for off := 0; off < len(src); {
			n := len(src) - off
			if n > maxPerOp {
				n = maxPerOp
			}

			if err := f.Ino.Ilock(); err != nil {
				return total, err
			}
			written, err := f.Ino.Writei(src[off:off+n], f.Off, uint32(n))
			f.Ino.Iunlock()
			if err != nil {
				return total, err
			}
			if written < 0 {
				return total, fserrors.ErrNoSpc
			}

			f.Off += uint32(written)
			total += written
			off += int(written)

			if int(written) < n {
				break
			}
		}
		return total, nil

	default:
		return -1, fserrors.ErrInval
	}
}

// Seek whence values, matching the wire protocol's FS_LSEEK semantics.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Seek repositions f's offset. Negative results are rejected.
func (f *File) Seek(off int64, whence int) (int64, error) {
	if f.Kind != Inode {
		return -1, fserrors.ErrInval
	}

	var newOff int64
	switch whence {
	case SeekSet:
		newOff = off
	case SeekCur:
		newOff = int64(f.Off) + off
	case SeekEnd:
		if err := f.Ino.Ilock(); err != nil {
			return -1, err
		}
		newOff = int64(f.Ino.Size) + off
		f.Ino.Iunlock()
	default:
		return -1, fserrors.ErrInval
	}

	if newOff < 0 {
		return -1, fserrors.ErrInval
	}

	f.Off = uint32(newOff)
	return newOff, nil
}
