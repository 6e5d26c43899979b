package file

import "github.com/U-interrupt/sel4service/internal/fserrors"

// NOFile is the size of a client's fd table.
const NOFile = 16

// FirstFD is the first fd fdalloc may hand out; 0-2 are reserved for
// stdio and are never allocated (spec.md invariant 10).
const FirstFD = 3

// FDTable is one client's fixed array of open-file slots.
type FDTable struct {
	slots [NOFile]*File
}

// Alloc finds the first free slot in [FirstFD, NOFile) and stores f
// there, returning the fd. Returns -1 on exhaustion.
func (t *FDTable) Alloc(f *File) int {
	for fd := FirstFD; fd < NOFile; fd++ {
		if t.slots[fd] == nil {
			t.slots[fd] = f
			return fd
		}
	}
	return -1
}

// Get returns the file at fd, or an error if fd is out of range or
// unallocated.
func (t *FDTable) Get(fd int) (*File, error) {
	if fd < FirstFD || fd >= NOFile || t.slots[fd] == nil {
		return nil, fserrors.ErrBadFD
	}
	return t.slots[fd], nil
}

// Clear nulls the slot at fd without touching the file's ref count;
// callers are expected to fileclose separately (spec.md FS_CLOSE: "Zero
// the fd slot; fileclose").
func (t *FDTable) Clear(fd int) {
	if fd >= 0 && fd < NOFile {
		t.slots[fd] = nil
	}
}
