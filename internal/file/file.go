// Package file implements the open-file table and per-client
// file-descriptor table (spec.md §4.5): filealloc/filedup/fileclose,
// fileread/filewrite/fileseek/filestat, and fd allocation.
package file

import (
	"sync"

	"github.com/U-interrupt/sel4service/internal/fserrors"
	"github.com/U-interrupt/sel4service/internal/inode"
	"github.com/U-interrupt/sel4service/metrics"
)

// Kind is the closed set of open-file variants (spec.md §3, "Open
// file"). The zero value is None.
type Kind int

const (
	None Kind = iota
	Pipe
	Inode
	Device
)

// File is one entry in the open-file table.
type File struct {
	mu sync.Mutex

	Kind     Kind
	Ref      int
	Readable bool
	Writable bool

	Ino *inode.Inode // for Kind == Inode or Device
	Off uint32       // for Kind == Inode

	Major int16 // for Kind == Device
}

// NFile is the fixed size of the global open-file table.
const NFile = 100

// Table is the fixed-size open-file table.
type Table struct {
	mu    sync.Mutex
	files [NFile]File
}

// NewTable builds an empty open-file table.
func NewTable() *Table {
	return &Table{}
}

// Alloc returns the first globally free file slot with Ref == 1, Kind
// == None. Returns nil on exhaustion.
func (t *Table) Alloc() *File {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.files {
		f := &t.files[i]
		if f.Ref == 0 {
			f.Ref = 1
			f.Kind = None
			f.Readable = false
			f.Writable = false
			f.Ino = nil
			f.Off = 0
			t.occupancyLocked()
			return f
		}
	}
	return nil
}

func (t *Table) occupancyLocked() {
	n := 0
	for i := range t.files {
		if t.files[i].Ref > 0 {
			n++
		}
	}
	metrics.FileTableOccupancy.Set(float64(n))
}

// Dup increments f's reference count and returns f itself.
func (t *Table) Dup(f *File) *File {
	t.mu.Lock()
	defer t.mu.Unlock()

	if f.Ref < 1 {
		panic("file: dup of closed file")
	}
	f.Ref++
	return f
}

// Close decrements f's reference count, reclaiming the slot (and
// dropping its inode reference, for Inode/Device kinds) when it
// reaches zero.
func (t *Table) Close(f *File) error {
	t.mu.Lock()
	if f.Ref < 1 {
		t.mu.Unlock()
		panic("file: close of already-closed file")
	}
	f.Ref--
	ref := f.Ref
	t.occupancyLocked()
	t.mu.Unlock()

	if ref > 0 {
		return nil
	}

	kind, ino := f.Kind, f.Ino
	f.Kind = None
	f.Ino = nil

	if (kind == Inode || kind == Device) && ino != nil {
		return ino.Iput()
	}
	return nil
}

// Stat is the user-visible metadata returned by filestat/stati. Mode
// is computed as Type<<14, a deliberate non-POSIX quirk inherited from
// the reference implementation (spec.md §9).
type Stat struct {
	Dev   uint32
	Ino   uint32
	Mode  uint32
	NLink int16
	Size  uint32
}

// StatInode fills out a Stat for an already-locked inode.
func StatInode(ip *inode.Inode) Stat {
	return Stat{
		Dev:   ip.Dev,
		Ino:   ip.Inum,
		Mode:  uint32(ip.Type) << 14,
		NLink: ip.NLink,
		Size:  ip.Size,
	}
}

// Fstat locks f's inode, builds its Stat, and unlocks.
func (f *File) Fstat() (Stat, error) {
	if f.Kind != Inode && f.Kind != Device {
		return Stat{}, fserrors.ErrInval
	}
	if err := f.Ino.Ilock(); err != nil {
		return Stat{}, err
	}
	defer f.Ino.Iunlock()
	return StatInode(f.Ino), nil
}
