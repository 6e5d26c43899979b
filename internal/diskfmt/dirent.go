package diskfmt

import (
	"encoding/binary"
	"bytes"
)

// DirentSize is the on-disk size of a directory entry: a u16 inode
// number followed by a DirSiz-byte, null-padded name.
const DirentSize = 2 + DirSiz

// Dirent is one slot of a directory file's contents. Inum == 0 marks a
// free/tombstone slot (invariant: a dirent with inum == 0 is free).
type Dirent struct {
	Inum uint16
	Name [DirSiz]byte
}

// SetName copies name into the entry, truncating without a trailing
// NUL if name is exactly DirSiz bytes or longer — this matches the
// on-disk behavior callers of strncmp(name, DIRSIZ) rely on.
func (de *Dirent) SetName(name string) {
	de.Name = [DirSiz]byte{}
	copy(de.Name[:], name)
}

// NameString returns the entry's name, trimmed at the first NUL (or
// the full DirSiz bytes if the name was truncation-length).
func (de *Dirent) NameString() string {
	n := bytes.IndexByte(de.Name[:], 0)
	if n < 0 {
		n = DirSiz
	}
	return string(de.Name[:n])
}

// NameEquals compares name against the entry using the same semantics
// as the reference strncmp(·, DIRSIZ): compare up to DirSiz bytes,
// with a shorter name expected to be NUL-padded in the slot.
func (de *Dirent) NameEquals(name string) bool {
	var want [DirSiz]byte
	copy(want[:], name)
	return want == de.Name
}

// Encode serializes the entry into a DirentSize-byte buffer.
func (de *Dirent) Encode() []byte {
	buf := make([]byte, DirentSize)
	binary.LittleEndian.PutUint16(buf[0:2], de.Inum)
	copy(buf[2:], de.Name[:])
	return buf
}

// DecodeDirent parses a DirentSize-byte buffer produced by Encode.
func DecodeDirent(buf []byte) Dirent {
	var de Dirent
	de.Inum = binary.LittleEndian.Uint16(buf[0:2])
	copy(de.Name[:], buf[2:2+DirSiz])
	return de
}
