// Package dirfs implements directory contents management and path
// resolution (spec.md §4.4): dirlookup, dirlink, the skipelem path
// tokenizer, and namex/namei/nameiparent.
package dirfs

import (
	"github.com/U-interrupt/sel4service/internal/diskfmt"
	"github.com/U-interrupt/sel4service/internal/fserrors"
	"github.com/U-interrupt/sel4service/internal/inode"
)

// Lookup scans dp's entries for name and returns the referenced child
// inode (via Table.Get; caller must Ilock) and the byte offset of the
// matching entry. dp must be a directory and already locked by the
// caller. Returns fserrors.ErrNoEnt on a miss.
func Lookup(dp *inode.Inode, name string) (*inode.Inode, uint32, error) {
	if dp.Type != diskfmt.TypeDir {
		panic("dirfs: Lookup called on non-directory")
	}

	var de diskfmt.Dirent
	buf := make([]byte, diskfmt.DirentSize)

	for off := uint32(0); off < dp.Size; off += diskfmt.DirentSize {
		n, err := dp.Readi(buf, off, diskfmt.DirentSize)
		if err != nil {
			return nil, 0, err
		}
		if n != diskfmt.DirentSize {
			break
		}

		de = diskfmt.DecodeDirent(buf)
		if de.Inum == 0 {
			continue
		}
		if de.NameEquals(name) {
			child := lookupTable(dp).Get(dp.Dev, uint32(de.Inum))
			return child, off, nil
		}
	}

	return nil, 0, fserrors.ErrNoEnt
}

// Link adds (name -> inum) to dp's contents. Refuses if name is
// already present; reuses the first free (Inum == 0) slot if one
// exists, otherwise appends.
func Link(dp *inode.Inode, name string, inum uint32) error {
	if _, _, err := Lookup(dp, name); err == nil {
		return fserrors.ErrExist
	}

	var de diskfmt.Dirent
	buf := make([]byte, diskfmt.DirentSize)

	off := uint32(0)
	for ; off < dp.Size; off += diskfmt.DirentSize {
		n, err := dp.Readi(buf, off, diskfmt.DirentSize)
		if err != nil {
			return err
		}
		if n != diskfmt.DirentSize {
			return fserrors.ErrInval
		}
		de = diskfmt.DecodeDirent(buf)
		if de.Inum == 0 {
			break
		}
	}

	de = diskfmt.Dirent{Inum: uint16(inum)}
	de.SetName(name)

	n, err := dp.Writei(de.Encode(), off, diskfmt.DirentSize)
	if err != nil {
		return err
	}
	if n != diskfmt.DirentSize {
		return fserrors.ErrNoSpc
	}
	return nil
}

// Unlink clears the entry at the given byte offset within dp.
func Unlink(dp *inode.Inode, off uint32) error {
	var de diskfmt.Dirent
	n, err := dp.Writei(de.Encode(), off, diskfmt.DirentSize)
	if err != nil {
		return err
	}
	if n != diskfmt.DirentSize {
		return fserrors.ErrNoSpc
	}
	return nil
}

// lookupTable recovers the owning *inode.Table from an inode so this
// package doesn't need its own copy of the table pointer.
func lookupTable(ip *inode.Inode) *inode.Table {
	return ip.Owner()
}
