// Package fserrors defines the sentinel errors internal packages return.
// Only the dispatcher (internal/server/dispatch.go) maps these to the
// wire protocol's negative-errno convention; everywhere else in the
// tree these are ordinary Go errors, per spec.md's error taxonomy.
package fserrors

import "errors"

var (
	// ErrInval covers bad opcodes, bad fds, and paths that are too long.
	ErrInval = errors.New("invalid argument")
	// ErrNoEnt means path resolution failed to find the target.
	ErrNoEnt = errors.New("no such file or directory")
	// ErrExist means create() found the target name already present.
	ErrExist = errors.New("file exists")
	// ErrNoSpc covers inode table, file table, fd table, block, and
	// inode exhaustion.
	ErrNoSpc = errors.New("no space left")
	// ErrNotDir means a directory-only operation was attempted on a
	// non-directory inode.
	ErrNotDir = errors.New("not a directory")
	// ErrIsDir means a file-only operation was attempted on a directory.
	ErrIsDir = errors.New("is a directory")
	// ErrNotEmpty means unlink was attempted on a non-empty directory.
	ErrNotEmpty = errors.New("directory not empty")
	// ErrBadFD means an fd argument does not name an open file.
	ErrBadFD = errors.New("bad file descriptor")
	// ErrPerm covers refusing to unlink "." or "..".
	ErrPerm = errors.New("operation not permitted")
)

// Errno maps a sentinel error to the wire protocol's negative errno
// convention. Unrecognized errors map to -EINVAL's numeric value so the
// client always sees a negative code rather than an ambiguous zero.
func Errno(err error) int64 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNoEnt):
		return -2
	case errors.Is(err, ErrBadFD):
		return -9
	case errors.Is(err, ErrExist):
		return -17
	case errors.Is(err, ErrNotDir):
		return -20
	case errors.Is(err, ErrIsDir):
		return -21
	case errors.Is(err, ErrInval):
		return -22
	case errors.Is(err, ErrNoSpc):
		return -28
	case errors.Is(err, ErrNotEmpty):
		return -39
	case errors.Is(err, ErrPerm):
		return -1
	default:
		return -22
	}
}
