package inode

import (
	"github.com/U-interrupt/sel4service/internal/diskfmt"
	"github.com/U-interrupt/sel4service/internal/xlog"
)

// Ialloc walks inodes 1..NInodes looking for the first on-disk dinode
// with Type == TypeFree, claims it for typ, and returns it via Get
// (so the caller must Ilock before reading it). Returns nil if none
// are free.
func (t *Table) Ialloc(typ diskfmt.InodeType) (*Inode, error) {
	for inum := uint32(1); inum < t.SB.NInodes; inum++ {
		buf, err := t.Cache.BRead(t.Dev, t.SB.IBlock(inum))
		if err != nil {
			return nil, err
		}

		d := diskfmt.GetDinode(buf.Data[:], inum)
		if d.Type == diskfmt.TypeFree {
			var zeroed diskfmt.Dinode
			zeroed.Type = typ
			diskfmt.PutDinode(buf.Data[:], inum, &zeroed)

			if err := t.Cache.BWrite(buf); err != nil {
				t.Cache.BRelse(buf)
				return nil, err
			}
			t.Cache.BRelse(buf)

			xlog.Debugf("inode: allocated inode %d as %v", inum, typ)
			return t.Get(t.Dev, inum), nil
		}

		t.Cache.BRelse(buf)
	}

	return nil, nil
}
