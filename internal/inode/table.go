// Package inode implements the in-memory inode table and its
// allocator, ilock/iput lifecycle, bmap, itrunc, readi, and writei
// (spec.md §4.2). It is the server's only path to on-disk inode state;
// every other package that needs an inode goes through a *Table.
package inode

import (
	"fmt"
	"sync"

	"github.com/U-interrupt/sel4service/internal/bio"
	"github.com/U-interrupt/sel4service/internal/diskfmt"
	"github.com/U-interrupt/sel4service/internal/xlog"
	"github.com/U-interrupt/sel4service/metrics"
)

// NInode is the fixed size of the in-memory inode table.
const NInode = 50

// RootIno is the inode number of the filesystem root.
const RootIno = 1

// Inode is the in-memory representation of a dinode, plus the table
// bookkeeping (spec.md §3, "In-memory inode"). Ref protects table
// residency; Valid is false until the first Ilock loads on-disk
// contents (invariant 3).
type Inode struct {
	mu sync.Mutex

	table *Table

	Dev   uint32
	Inum  uint32
	Ref   int
	Valid bool

	Type  diskfmt.InodeType
	Major int16
	Minor int16
	NLink int16
	Size  uint32
	Addrs [diskfmt.NAddrs]uint32
}

// Table is the fixed-size array of live in-memory inodes, plus the
// disk-facing dependencies ialloc/ilock/iupdate need.
type Table struct {
	mu    sync.Mutex
	slots [NInode]Inode

	Cache *bio.Cache
	SB    *diskfmt.SuperBlock
	Dev   uint32
}

// NewTable builds an empty inode table bound to cache/sb/dev.
func NewTable(cache *bio.Cache, sb *diskfmt.SuperBlock, dev uint32) *Table {
	t := &Table{Cache: cache, SB: sb, Dev: dev}
	for i := range t.slots {
		t.slots[i].table = t
	}
	return t
}

// Get returns the live in-memory inode for (dev, inum), incrementing
// its reference count, allocating a table slot on first reference. It
// performs no disk I/O (spec.md: "iget ... No disk I/O"). Panics if the
// table is full, since that is unrecoverable under the single-client
// contract (spec.md §7).
func (t *Table) Get(dev, inum uint32) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()

	var free *Inode
	for i := range t.slots {
		ip := &t.slots[i]
		if ip.Ref > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.Ref++
			return ip
		}
		if free == nil && ip.Ref == 0 {
			free = ip
		}
	}

	if free == nil {
		panic("inode: table full")
	}

	free.Dev = dev
	free.Inum = inum
	free.Ref = 1
	free.Valid = false
	t.occupancyLocked()

	return free
}

func (t *Table) occupancyLocked() {
	n := 0
	for i := range t.slots {
		if t.slots[i].Ref > 0 {
			n++
		}
	}
	metrics.InodeTableOccupancy.Set(float64(n))
}

// Owner returns the table ip belongs to, so other packages (dirfs) can
// mint sibling inode references without holding their own table
// pointer.
func (ip *Inode) Owner() *Table {
	return ip.table
}

// Ilock locks ip and, on the first lock since it was gotten, loads its
// fields from the containing on-disk block.
func (ip *Inode) Ilock() error {
	ip.mu.Lock()

	if ip.Valid {
		return nil
	}

	buf, err := ip.table.Cache.BRead(ip.Dev, ip.table.SB.IBlock(ip.Inum))
	if err != nil {
		ip.mu.Unlock()
		return err
	}

	d := diskfmt.GetDinode(buf.Data[:], ip.Inum)
	ip.table.Cache.BRelse(buf)

	if d.Type == diskfmt.TypeFree {
		// An allocation race: iget handed out a slot for an inode the
		// disk still marks free. Fatal per spec.md §7.
		panic(fmt.Sprintf("inode: ilock on free dinode %d", ip.Inum))
	}

	ip.Type = d.Type
	ip.Major = d.Major
	ip.Minor = d.Minor
	ip.NLink = d.NLink
	ip.Size = d.Size
	ip.Addrs = d.Addrs
	ip.Valid = true

	return nil
}

// Iunlock releases the per-inode lock taken by Ilock.
func (ip *Inode) Iunlock() {
	ip.mu.Unlock()
}

// Iupdate writes ip's mutable fields back to its containing block.
func (ip *Inode) Iupdate() error {
	buf, err := ip.table.Cache.BRead(ip.Dev, ip.table.SB.IBlock(ip.Inum))
	if err != nil {
		return err
	}
	defer ip.table.Cache.BRelse(buf)

	d := diskfmt.Dinode{
		Type:  ip.Type,
		Major: ip.Major,
		Minor: ip.Minor,
		NLink: ip.NLink,
		Size:  ip.Size,
		Addrs: ip.Addrs,
	}
	diskfmt.PutDinode(buf.Data[:], ip.Inum, &d)

	return ip.table.Cache.BWrite(buf)
}

// Iput drops one reference to ip. If this was the last reference and
// the inode is both valid and unlinked (NLink == 0), its resources are
// reclaimed: contents are truncated, the on-disk type is cleared, and
// Valid is reset so a future Ilock reloads from scratch.
func (ip *Inode) Iput() error {
	t := ip.table

	t.mu.Lock()
	lastRef := ip.Ref == 1
	t.mu.Unlock()

	if lastRef && ip.Valid && ip.NLink == 0 {
		xlog.Debugf("inode: reclaiming inode %d (nlink reached 0)", ip.Inum)
		ip.Ilock()
		if err := ip.itrunc(); err != nil {
			ip.Iunlock()
			return err
		}
		ip.Type = diskfmt.TypeFree
		if err := ip.Iupdate(); err != nil {
			ip.Iunlock()
			return err
		}
		ip.Valid = false
		ip.Iunlock()
	}

	t.mu.Lock()
	ip.Ref--
	t.occupancyLocked()
	t.mu.Unlock()

	return nil
}
