// Package ramdisk implements the ramdisk device collaborator described
// in spec.md §4.7 and §6: a contiguous byte array standing in for
// physically contiguous frames, addressed by block number. Init,
// ReadBlock and WriteBlock play the roles of DISK_INIT/DISK_READ/
// DISK_WRITE; the server's buffer cache calls them directly in-process,
// not over a transport, and the wire package defines no DISK_* labels.
package ramdisk

import (
	"fmt"

	"github.com/U-interrupt/sel4service/internal/diskfmt"
	"github.com/U-interrupt/sel4service/internal/xlog"
)

// MaxSize is the largest backing store this device will allocate,
// matching the spec's MAX_RAMDISK_SIZE.
const MaxSize = 256 * 1024 * 1024

// Device is the ramdisk's in-memory backing storage. The reference
// implementation doesn't range-check block numbers because it trusts
// its caller; this port adds the bounds check the spec recommends.
type Device struct {
	storage []byte
}

// New allocates a ramdisk of the given size in bytes, clamped to
// MaxSize.
func New(sizeBytes int) *Device {
	if sizeBytes <= 0 || sizeBytes > MaxSize {
		sizeBytes = MaxSize
	}
	return &Device{storage: make([]byte, sizeBytes)}
}

// Init acknowledges DISK_INIT; there is nothing to do for an in-memory
// backing store.
func (d *Device) Init() error {
	xlog.Infof("ramdisk: initialized with %d bytes", len(d.storage))
	return nil
}

// ReadBlock copies one BSize block from the backing store into data.
// dev is accepted for bio.Device interface compatibility but this
// ramdisk only ever serves a single device.
func (d *Device) ReadBlock(dev uint32, blockno uint32, data []byte) error {
	start, end, err := d.blockRange(blockno)
	if err != nil {
		return err
	}
	copy(data, d.storage[start:end])
	return nil
}

// WriteBlock copies one BSize block from data into the backing store.
func (d *Device) WriteBlock(dev uint32, blockno uint32, data []byte) error {
	start, end, err := d.blockRange(blockno)
	if err != nil {
		return err
	}
	copy(d.storage[start:end], data)
	return nil
}

func (d *Device) blockRange(blockno uint32) (int, int, error) {
	start := int(blockno) * diskfmt.BSize
	end := start + diskfmt.BSize
	if start < 0 || end > len(d.storage) {
		return 0, 0, fmt.Errorf("ramdisk: block %d out of range (capacity %d blocks)", blockno, len(d.storage)/diskfmt.BSize)
	}
	return start, end, nil
}

// Blocks returns the device's capacity in blocks.
func (d *Device) Blocks() uint32 {
	return uint32(len(d.storage) / diskfmt.BSize)
}

// Export copies the entire backing store out, for mkfs to persist an
// image to a regular file.
func (d *Device) Export() []byte {
	out := make([]byte, len(d.storage))
	copy(out, d.storage)
	return out
}

// Load replaces the backing store's contents from data, truncating or
// zero-padding to the device's existing size.
func (d *Device) Load(data []byte) {
	n := copy(d.storage, data)
	for i := n; i < len(d.storage); i++ {
		d.storage[i] = 0
	}
}
