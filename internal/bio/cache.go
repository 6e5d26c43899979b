// Package bio implements the block buffer cache (BIO layer, spec.md
// §4.1): a fixed slab of buffers arranged as a doubly-linked LRU list,
// addressed by index rather than pointer so the arena is a single flat
// array (spec.md §9, "Arenas + indices").
package bio

import (
	"fmt"
	"sync"

	"github.com/U-interrupt/sel4service/internal/diskfmt"
	"github.com/U-interrupt/sel4service/metrics"
)

// MaxOpBlocks bounds how many distinct blocks one high-level file
// operation may touch; it sizes the cache the way the reference
// implementation does (NBUF = MaxOpBlocks*3) and also bounds
// internal/file's write chunking.
const MaxOpBlocks = 10

// NBuf is the fixed number of cache slots.
const NBuf = MaxOpBlocks * 3

// head is the sentinel index: bufs[head] doesn't exist, it's a virtual
// anchor. We represent it as index NBuf within the next/prev arrays,
// which are sized NBuf+1.
const head = NBuf

// Buf is one cached copy of a device block.
type Buf struct {
	Dev     uint32
	Blockno uint32
	Valid   bool // contents loaded from device
	Disk    bool // device currently owns this buffer (log/journaling hook)
	RefCnt  int
	Data    [diskfmt.BSize]byte
}

// Cache is the fixed buffer pool. Zero value is not usable; use
// NewCache.
type Cache struct {
	mu     sync.Mutex
	dev    Device
	bufs   [NBuf]Buf
	next   [NBuf + 1]int // next[i]: less-recently-used neighbor of i (next[head] is the MRU entry)
	prev   [NBuf + 1]int // prev[i]: more-recently-used neighbor of i (prev[head] is the LRU entry)
	inited [NBuf]bool
}

// NewCache builds an empty cache backed by dev.
func NewCache(dev Device) *Cache {
	c := &Cache{dev: dev}
	// Empty circular list: head.next == head, head.prev == head.
	c.next[head] = head
	c.prev[head] = head
	for i := 0; i < NBuf; i++ {
		c.pushFront(i)
	}
	return c
}

// pushFront links buffer i in as the most-recently-used entry.
// LOCKS_REQUIRED(c.mu)
func (c *Cache) pushFront(i int) {
	n := c.next[head]
	c.next[head] = i
	c.prev[i] = head
	c.next[i] = n
	c.prev[n] = i
}

// unlink removes buffer i from wherever it currently sits in the list.
// LOCKS_REQUIRED(c.mu)
func (c *Cache) unlink(i int) {
	p, n := c.prev[i], c.next[i]
	c.next[p] = n
	c.prev[n] = p
}

// moveToFront re-links buffer i as most-recently-used.
// LOCKS_REQUIRED(c.mu)
func (c *Cache) moveToFront(i int) {
	c.unlink(i)
	c.pushFront(i)
}

// BRead returns the buffer for (dev, blockno), pinning it (RefCnt++).
// Callers must call BRelse when done. If the block isn't already
// cached, the least-recently-used unreferenced buffer is evicted and
// reloaded from the device.
func (c *Cache) BRead(dev, blockno uint32) (*Buf, error) {
	c.mu.Lock()

	// Is the block already cached?
	for i := c.next[head]; i != head; i = c.next[i] {
		b := &c.bufs[i]
		if c.inited[i] && b.Dev == dev && b.Blockno == blockno {
			b.RefCnt++
			c.moveToFront(i)
			c.mu.Unlock()
			metrics.BufferCacheHits.Inc()
			return b, nil
		}
	}

	metrics.BufferCacheMisses.Inc()

	// Evict the least-recently-used buffer with RefCnt == 0, scanning
	// from the tail (head.prev) backward.
	for i := c.prev[head]; i != head; i = c.prev[i] {
		b := &c.bufs[i]
		if b.RefCnt == 0 {
			b.Dev = dev
			b.Blockno = blockno
			b.Valid = false
			b.Disk = false
			b.RefCnt = 1
			c.inited[i] = true
			c.moveToFront(i)
			c.mu.Unlock()

			metrics.BufferEvictions.Inc()
			if err := c.dev.ReadBlock(dev, blockno, b.Data[:]); err != nil {
				return nil, fmt.Errorf("bio: read block %d: %w", blockno, err)
			}
			b.Valid = true

			return b, nil
		}
	}

	c.mu.Unlock()
	// Every buffer pinned: this is a programming error under the
	// single-client contract (spec.md §4.1 failure semantics).
	panic("bio: no free buffers")
}

// BRelse unpins b. When its reference count hits zero it becomes the
// most-recently-used entry (eligible for reuse, but still warm).
func (c *Cache) BRelse(b *Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b.RefCnt <= 0 {
		panic("bio: release of unreferenced buffer")
	}
	b.RefCnt--

	if b.RefCnt == 0 {
		i := c.indexOf(b)
		c.moveToFront(i)
	}
}

// BWrite synchronously writes b's contents to its (dev, blockno),
// without touching its reference count or list position.
func (c *Cache) BWrite(b *Buf) error {
	if err := c.dev.WriteBlock(b.Dev, b.Blockno, b.Data[:]); err != nil {
		return fmt.Errorf("bio: write block %d: %w", b.Blockno, err)
	}
	return nil
}

// BPin and BUnpin adjust the reference count without affecting list
// position or ownership; they exist for a future logging layer to pin
// blocks that must survive eviction across a transaction (spec.md §5).
func (c *Cache) BPin(b *Buf) {
	c.mu.Lock()
	b.RefCnt++
	c.mu.Unlock()
}

func (c *Cache) BUnpin(b *Buf) {
	c.mu.Lock()
	b.RefCnt--
	c.mu.Unlock()
}

func (c *Cache) indexOf(b *Buf) int {
	for idx := range c.bufs {
		if &c.bufs[idx] == b {
			return idx
		}
	}
	panic("bio: buffer not owned by this cache")
}
