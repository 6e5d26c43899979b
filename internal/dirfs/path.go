package dirfs

import (
	"github.com/U-interrupt/sel4service/internal/diskfmt"
	"github.com/U-interrupt/sel4service/internal/fserrors"
	"github.com/U-interrupt/sel4service/internal/inode"
)

// Skipelem is the canonical xv6 path tokenizer. It skips leading
// slashes, copies up to diskfmt.DirSiz bytes of the next path element
// into name, and returns the remainder. ok is false when path has no
// more elements ("" or all slashes). Elements of length >= DirSiz are
// truncated without a trailing NUL, matching on-disk dirent storage.
func Skipelem(path string) (name, rest string, ok bool) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i == len(path) {
		return "", "", false
	}

	start := i
	for i < len(path) && path[i] != '/' {
		i++
	}
	elem := path[start:i]

	if len(elem) >= diskfmt.DirSiz {
		name = elem[:diskfmt.DirSiz]
	} else {
		name = elem
	}

	for i < len(path) && path[i] == '/' {
		i++
	}
	rest = path[i:]

	return name, rest, true
}

// Namex resolves path starting from root (if path is absolute) or from
// a fresh reference to cwd (if relative). When wantParent is true and
// the path has a final element, it returns the parent directory,
// unlocked, and name is set to the final element; the final component
// itself is not required to exist. Otherwise it returns the resolved
// target, unlocked and referenced.
func Namex(table *inode.Table, root, cwd *inode.Inode, path string, wantParent bool) (ip *inode.Inode, name string, err error) {
	if len(path) > 0 && path[0] == '/' {
		ip = table.Get(root.Dev, root.Inum)
	} else {
		ip = table.Get(cwd.Dev, cwd.Inum)
	}

	var elem string
	rest := path
	var ok bool

	for {
		elem, rest, ok = Skipelem(rest)
		if !ok {
			break
		}

		if err = ip.Ilock(); err != nil {
			ip.Iput()
			return nil, "", err
		}
		if ip.Type != diskfmt.TypeDir {
			ip.Iunlock()
			ip.Iput()
			return nil, "", fserrors.ErrNotDir
		}

		if wantParent {
			if next, _, ok2 := Skipelem(rest); !ok2 || next == "" {
				ip.Iunlock()
				return ip, elem, nil
			}
		}

		child, _, lerr := Lookup(ip, elem)
		ip.Iunlock()
		if lerr != nil {
			ip.Iput()
			return nil, "", lerr
		}

		ip.Iput()
		ip = child
	}

	if wantParent {
		ip.Iput()
		return nil, "", fserrors.ErrNoEnt
	}

	return ip, "", nil
}

// Namei resolves path to its target inode.
func Namei(table *inode.Table, root, cwd *inode.Inode, path string) (*inode.Inode, error) {
	ip, _, err := Namex(table, root, cwd, path, false)
	return ip, err
}

// NameiParent resolves path to its parent directory, returning the
// final path element's name.
func NameiParent(table *inode.Table, root, cwd *inode.Inode, path string) (*inode.Inode, string, error) {
	return Namex(table, root, cwd, path, true)
}
