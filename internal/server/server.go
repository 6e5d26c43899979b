// Package server implements the filesystem server's syscall dispatch
// layer (spec.md §3 "Filesystem server", §4.6): it owns the buffer
// cache, inode table, and open-file table, and turns incoming wire
// requests into calls against internal/inode, internal/dirfs, and
// internal/file.
package server

import (
	"github.com/U-interrupt/sel4service/internal/bio"
	"github.com/U-interrupt/sel4service/internal/diskfmt"
	"github.com/U-interrupt/sel4service/internal/file"
	"github.com/U-interrupt/sel4service/internal/inode"
	"github.com/U-interrupt/sel4service/internal/mkfs"
	"github.com/U-interrupt/sel4service/internal/xlog"
)

// Server holds every piece of mutable filesystem state for one
// ramdisk-backed device: the buffer cache, the superblock, the inode
// table, and the global open-file table. A Server talks to exactly one
// Client at a time under this service's single-client contract.
type Server struct {
	Cache  *bio.Cache
	SB     *diskfmt.SuperBlock
	Inodes *inode.Table
	Files  *file.Table
	Root   *inode.Inode
}

// Options configures New.
type Options struct {
	TotalBlocks uint32 // image size in blocks, used only when formatting fresh
	NInodes     uint32 // inode count, used only when formatting fresh
	Seed        *mkfs.Manifest
}

// New builds a Server over dev. It calls fsinit: if dev already holds a
// valid superblock (magic matches), the existing image's layout is
// reused; otherwise a fresh image is formatted via internal/mkfs. This
// mirrors xv6's binit+iinit+fsinit boot sequence, adapted for a
// service that may be restarted against a ramdisk that already has
// content (spec.md §4.8, fsinit).
func New(dev bio.Device, opts Options) (*Server, error) {
	cache := bio.NewCache(dev)

	sb, table, err := fsinit(cache, opts)
	if err != nil {
		return nil, err
	}

	root := table.Get(mkfs.Dev, inode.RootIno)

	s := &Server{
		Cache:  cache,
		SB:     sb,
		Inodes: table,
		Files:  file.NewTable(),
		Root:   root,
	}

	if opts.Seed != nil {
		if err := mkfs.Seed(table, root, opts.Seed); err != nil {
			return nil, err
		}
	}

	xlog.Infof("server: ready, root inum %d, %d blocks, %d inodes", root.Inum, sb.Size, sb.NInodes)
	return s, nil
}

// fsinit reads block 1 looking for a valid superblock; if found, it
// trusts the on-disk layout and builds a table against it directly
// (no reformat, no data loss). Otherwise it formats a fresh image via
// mkfs.Build.
func fsinit(cache *bio.Cache, opts Options) (*diskfmt.SuperBlock, *inode.Table, error) {
	buf, err := cache.BRead(mkfs.Dev, 1)
	if err != nil {
		return nil, nil, err
	}
	existing, decodeErr := diskfmt.DecodeSuperBlock(buf.Data[:])
	cache.BRelse(buf)

	if decodeErr == nil {
		xlog.Infof("fsinit: found existing image (%d blocks, %d inodes)", existing.Size, existing.NInodes)
		return existing, inode.NewTable(cache, existing, mkfs.Dev), nil
	}

	total := opts.TotalBlocks
	if total == 0 {
		total = 1024
	}
	xlog.Infof("fsinit: no existing image, formatting %d blocks", total)
	return buildFresh(cache, total, opts.NInodes)
}

func buildFresh(cache *bio.Cache, totalBlocks, nInodes uint32) (*diskfmt.SuperBlock, *inode.Table, error) {
	table, sb, err := mkfs.Build(cache, totalBlocks, nInodes)
	if err != nil {
		return nil, nil, err
	}
	return sb, table, nil
}
