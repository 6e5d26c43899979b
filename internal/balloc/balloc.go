// Package balloc implements the free-data-block bitmap allocator
// (spec.md §4.3): one bit per block of the image, indexed by global
// block number and packed into bitmap blocks that follow the inode
// region. mkfs marks the metadata blocks' bits used.
package balloc

import (
	"fmt"

	"github.com/U-interrupt/sel4service/internal/bio"
	"github.com/U-interrupt/sel4service/internal/diskfmt"
)

// Alloc scans the bitmap blocks from block 0 up to sb.Size, allocates
// the first free data block it finds, zero-fills it, and returns its
// global block number. Returns 0 on exhaustion (spec.md invariant 5).
func Alloc(cache *bio.Cache, dev uint32, sb *diskfmt.SuperBlock) (uint32, error) {
	for b := uint32(0); b < sb.Size; b += diskfmt.BSize * 8 {
		buf, err := cache.BRead(dev, sb.BBlock(b))
		if err != nil {
			return 0, err
		}

		for bi := uint32(0); bi < diskfmt.BSize*8 && b+bi < sb.Size; bi++ {
			byteIdx := bi / 8
			mask := byte(1 << (bi % 8))
			if buf.Data[byteIdx]&mask != 0 {
				continue
			}

			// Found a free bit: claim it.
			buf.Data[byteIdx] |= mask
			if err := cache.BWrite(buf); err != nil {
				cache.BRelse(buf)
				return 0, err
			}
			cache.BRelse(buf)

			blockno := b + bi
			if err := zero(cache, dev, blockno); err != nil {
				return 0, err
			}
			return blockno, nil
		}

		cache.BRelse(buf)
	}

	return 0, nil
}

// Free clears the bit for block b. It panics on a double-free, which
// the spec calls out as a fatal programming-error condition.
func Free(cache *bio.Cache, dev uint32, sb *diskfmt.SuperBlock, b uint32) error {
	buf, err := cache.BRead(dev, sb.BBlock(b))
	if err != nil {
		return err
	}
	defer cache.BRelse(buf)

	bi := b % (diskfmt.BSize * 8)
	byteIdx := bi / 8
	mask := byte(1 << (bi % 8))

	if buf.Data[byteIdx]&mask == 0 {
		panic(fmt.Sprintf("balloc: double free of block %d", b))
	}
	buf.Data[byteIdx] &^= mask

	return cache.BWrite(buf)
}

func zero(cache *bio.Cache, dev uint32, blockno uint32) error {
	buf, err := cache.BRead(dev, blockno)
	if err != nil {
		return err
	}
	defer cache.BRelse(buf)

	for i := range buf.Data {
		buf.Data[i] = 0
	}
	return cache.BWrite(buf)
}
