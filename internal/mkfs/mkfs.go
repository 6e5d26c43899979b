// Package mkfs builds a fresh on-disk image: it lays out the
// superblock and bitmap, zeroes the inode region, and creates the root
// directory with "." and ".." entries (spec.md §4.8, invariants 7-8).
// internal/server's fsinit calls Build when the ramdisk does not
// already hold a valid superblock.
package mkfs

import (
	"fmt"

	"github.com/U-interrupt/sel4service/internal/bio"
	"github.com/U-interrupt/sel4service/internal/diskfmt"
	"github.com/U-interrupt/sel4service/internal/dirfs"
	"github.com/U-interrupt/sel4service/internal/inode"
	"github.com/U-interrupt/sel4service/internal/xlog"
)

// Dev is the single device number this service ever addresses.
const Dev = 1

// Build formats a fresh image of totalBlocks blocks on dev through
// cache: it writes the superblock, zeroes the inode and bitmap
// regions, marks the boot/superblock/log/inode/bitmap blocks used, and
// creates the root directory inode (inode.RootIno) with "." and ".."
// both pointing at itself. It returns the resulting inode table, ready
// for use by internal/server.
func Build(cache *bio.Cache, totalBlocks, nInodes uint32) (*inode.Table, *diskfmt.SuperBlock, error) {
	sb := diskfmt.ComputeLayout(totalBlocks, nInodes)

	sbBuf, err := cache.BRead(Dev, 1)
	if err != nil {
		return nil, nil, err
	}
	copy(sbBuf.Data[:diskfmt.SuperBlockDiskSize], sb.Encode())
	if err := cache.BWrite(sbBuf); err != nil {
		cache.BRelse(sbBuf)
		return nil, nil, err
	}
	cache.BRelse(sbBuf)

	nInodeBlocks := (sb.NInodes + diskfmt.IPB - 1) / diskfmt.IPB
	for bn := sb.InodeStart; bn < sb.InodeStart+nInodeBlocks; bn++ {
		if err := zeroBlock(cache, bn); err != nil {
			return nil, nil, err
		}
	}

	for bn := sb.BmapStart; bn < dataStart(sb); bn++ {
		if err := zeroBlock(cache, bn); err != nil {
			return nil, nil, err
		}
	}

	// Mark every metadata block (boot, superblock, log, inodes, bitmap)
	// used in the bitmap, mirroring the reference mkfs's balloc walk
	// over the reserved region.
	meta := dataStart(sb)
	for b := uint32(0); b < meta; b++ {
		if err := markUsed(cache, sb, b); err != nil {
			return nil, nil, err
		}
	}

	table := inode.NewTable(cache, sb, Dev)

	root, err := table.Ialloc(diskfmt.TypeDir)
	if err != nil {
		return nil, nil, err
	}
	if root == nil {
		return nil, nil, fmt.Errorf("mkfs: no free inodes for root directory")
	}
	if root.Inum != inode.RootIno {
		return nil, nil, fmt.Errorf("mkfs: root directory got inum %d, want %d", root.Inum, inode.RootIno)
	}

	if err := root.Ilock(); err != nil {
		return nil, nil, err
	}
	root.NLink = 1
	if err := root.Iupdate(); err != nil {
		root.Iunlock()
		return nil, nil, err
	}

	if err := dirfs.Link(root, ".", root.Inum); err != nil {
		root.Iunlock()
		return nil, nil, err
	}
	if err := dirfs.Link(root, "..", root.Inum); err != nil {
		root.Iunlock()
		return nil, nil, err
	}

	// Root is its own parent, so "..", unlike a real child's, doesn't
	// bump nlink: the reference mkfs leaves the root directory at
	// nlink=1. It does round the size up to a full block, though.
	root.Size = ((root.Size / diskfmt.BSize) + 1) * diskfmt.BSize
	if err := root.Iupdate(); err != nil {
		root.Iunlock()
		return nil, nil, err
	}
	root.Iunlock()

	xlog.Infof("mkfs: built image of %d blocks, %d inodes, root at inum %d", sb.Size, sb.NInodes, root.Inum)

	return table, sb, nil
}

// dataStart returns the first data block, derived from sb.Size the
// same way ComputeLayout derived sb.BmapStart's partner.
func dataStart(sb *diskfmt.SuperBlock) uint32 {
	nBitmapBlocks := (sb.Size + diskfmt.BSize*8 - 1) / (diskfmt.BSize * 8)
	return sb.BmapStart + nBitmapBlocks
}

func zeroBlock(cache *bio.Cache, bn uint32) error {
	buf, err := cache.BRead(Dev, bn)
	if err != nil {
		return err
	}
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	err = cache.BWrite(buf)
	cache.BRelse(buf)
	return err
}

func markUsed(cache *bio.Cache, sb *diskfmt.SuperBlock, b uint32) error {
	buf, err := cache.BRead(Dev, sb.BBlock(b))
	if err != nil {
		return err
	}
	bi := b % (diskfmt.BSize * 8)
	byteIdx := bi / 8
	mask := byte(1 << (bi % 8))
	buf.Data[byteIdx] |= mask
	err = cache.BWrite(buf)
	cache.BRelse(buf)
	return err
}
