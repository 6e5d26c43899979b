package transport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SharedPage is one page of memory mapped MAP_SHARED|MAP_ANON: the
// same trick this package uses to stand in for the page seL4 would
// grant across address spaces when there's no kernel underneath to
// actually do the granting. Two independent goroutines playing the
// roles of "app" and "fs-server" read and write the same bytes.
type SharedPage struct {
	data []byte
}

// NewSharedPage mmaps size bytes (rounded up to whole pages by the
// kernel) for shared read/write access.
func NewSharedPage(size int) (*SharedPage, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("transport: mmap shared page: %w", err)
	}
	return &SharedPage{data: data}, nil
}

// Bytes exposes the backing slice for direct reads/writes.
func (p *SharedPage) Bytes() []byte {
	return p.data
}

// Close unmaps the page.
func (p *SharedPage) Close() error {
	return unix.Munmap(p.data)
}
