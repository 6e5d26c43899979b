package diskfmt

import "encoding/binary"

// DinodeSize is the packed on-disk size of a Dinode: four i16 fields,
// one u32, and NAddrs u32 addresses. (2*4 + 4 + 13*4 = 64 bytes.)
const DinodeSize = 2*4 + 4 + NAddrs*4

// Dinode is the on-disk inode record. Type == TypeFree means the slot
// is unallocated; every other Type means it is allocated (invariant 4).
type Dinode struct {
	Type  InodeType
	Major int16
	Minor int16
	NLink int16
	Size  uint32
	Addrs [NAddrs]uint32
}

// Encode writes the dinode into a DinodeSize-byte buffer.
func (d *Dinode) Encode() []byte {
	buf := make([]byte, DinodeSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(d.Type))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(d.Major))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(d.Minor))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(d.NLink))
	binary.LittleEndian.PutUint32(buf[8:12], d.Size)
	for i, a := range d.Addrs {
		off := 12 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], a)
	}
	return buf
}

// DecodeDinode parses a DinodeSize-byte buffer produced by Encode.
func DecodeDinode(buf []byte) Dinode {
	var d Dinode
	d.Type = InodeType(int16(binary.LittleEndian.Uint16(buf[0:2])))
	d.Major = int16(binary.LittleEndian.Uint16(buf[2:4]))
	d.Minor = int16(binary.LittleEndian.Uint16(buf[4:6]))
	d.NLink = int16(binary.LittleEndian.Uint16(buf[6:8]))
	d.Size = binary.LittleEndian.Uint32(buf[8:12])
	for i := range d.Addrs {
		off := 12 + i*4
		d.Addrs[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return d
}

// DinodeAt returns the byte offset of inode inum within its block.
func DinodeAt(inum uint32) int {
	return int(inum%IPB) * DinodeSize
}

// PutDinode encodes d in place at inum's offset within a block buffer.
func PutDinode(block []byte, inum uint32, d *Dinode) {
	off := DinodeAt(inum)
	copy(block[off:off+DinodeSize], d.Encode())
}

// GetDinode decodes the dinode at inum's offset within a block buffer.
func GetDinode(block []byte, inum uint32) Dinode {
	off := DinodeAt(inum)
	return DecodeDinode(block[off : off+DinodeSize])
}
