package server

import (
	"github.com/U-interrupt/sel4service/internal/diskfmt"
	"github.com/U-interrupt/sel4service/internal/dirfs"
	"github.com/U-interrupt/sel4service/internal/file"
	"github.com/U-interrupt/sel4service/internal/fserrors"
	"github.com/U-interrupt/sel4service/internal/inode"
)

// O_* flags, matching the wire protocol's FS_OPEN argument encoding.
const (
	ORdOnly = 0x000
	OWrOnly = 0x001
	ORdWr   = 0x002
	OCreate = 0x200
	OTrunc  = 0x400
)

// create resolves path's parent, and either creates a new dinode of
// typ (file/dir/device) there or, for an existing plain-file target,
// reopens it in place — mirroring xv6's create(), including returning
// ip locked and referenced on success. Any other existing target
// (directory, device, or a file when typ isn't TypeFile) is reported
// as fserrors.ErrExist.
func (s *Server) create(c *Client, path string, typ diskfmt.InodeType, major, minor int16) (*inode.Inode, error) {
	dp, name, err := dirfs.NameiParent(s.Inodes, s.Root, c.Cwd, path)
	if err != nil {
		return nil, err
	}

	if err := dp.Ilock(); err != nil {
		dp.Iput()
		return nil, err
	}

	if ip, _, lerr := dirfs.Lookup(dp, name); lerr == nil {
		dp.Iunlock()
		dp.Iput()
		if err := ip.Ilock(); err != nil {
			ip.Iput()
			return nil, err
		}
		if typ == diskfmt.TypeFile && ip.Type == diskfmt.TypeFile {
			return ip, nil
		}
		ip.Iunlock()
		ip.Iput()
		return nil, fserrors.ErrExist
	}

	ip, err := s.Inodes.Ialloc(typ)
	if err != nil {
		dp.Iunlock()
		dp.Iput()
		return nil, err
	}
	if ip == nil {
		dp.Iunlock()
		dp.Iput()
		return nil, fserrors.ErrNoSpc
	}

	if err := ip.Ilock(); err != nil {
		dp.Iunlock()
		dp.Iput()
		return nil, err
	}
	ip.Major = major
	ip.Minor = minor
	ip.NLink = 1
	if err := ip.Iupdate(); err != nil {
		ip.Iunlock()
		dp.Iunlock()
		dp.Iput()
		return nil, err
	}

	if typ == diskfmt.TypeDir {
		dp.NLink++
		if err := dp.Iupdate(); err != nil {
			ip.Iunlock()
			dp.Iunlock()
			dp.Iput()
			return nil, err
		}
		if err := dirfs.Link(ip, ".", ip.Inum); err != nil {
			ip.Iunlock()
			dp.Iunlock()
			dp.Iput()
			return nil, err
		}
		if err := dirfs.Link(ip, "..", dp.Inum); err != nil {
			ip.Iunlock()
			dp.Iunlock()
			dp.Iput()
			return nil, err
		}
	}

	if err := dirfs.Link(dp, name, ip.Inum); err != nil {
		ip.Iunlock()
		dp.Iunlock()
		dp.Iput()
		return nil, err
	}

	dp.Iunlock()
	dp.Iput()

	return ip, nil
}

// Open implements FS_OPEN: resolve/create path per flags, allocate an
// open-file-table entry and an fd, and return the fd.
func (s *Server) Open(c *Client, path string, flags int) (int, error) {
	var ip *inode.Inode
	var err error

	if flags&OCreate != 0 {
		ip, err = s.create(c, path, diskfmt.TypeFile, 0, 0)
		if err != nil {
			return -1, err
		}
	} else {
		ip, err = dirfs.Namei(s.Inodes, s.Root, c.Cwd, path)
		if err != nil {
			return -1, err
		}
		if err := ip.Ilock(); err != nil {
			ip.Iput()
			return -1, err
		}
		if ip.Type == diskfmt.TypeDir && flags != ORdOnly {
			ip.Iunlock()
			ip.Iput()
			return -1, fserrors.ErrIsDir
		}
	}

	f := s.Files.Alloc()
	if f == nil {
		ip.Iunlock()
		ip.Iput()
		return -1, fserrors.ErrNoSpc
	}

	f.Readable = flags&OWrOnly == 0
	f.Writable = flags&OWrOnly != 0 || flags&ORdWr != 0

	if ip.Type == diskfmt.TypeDevice {
		f.Kind = file.Device
		f.Major = ip.Major
	} else {
		f.Kind = file.Inode
	}
	f.Ino = ip

	if flags&OTrunc != 0 && ip.Type == diskfmt.TypeFile {
		if err := truncInode(ip); err != nil {
			ip.Iunlock()
			s.Files.Close(f)
			return -1, err
		}
	}
	ip.Iunlock()

	fd := c.FDs.Alloc(f)
	if fd < 0 {
		s.Files.Close(f)
		return -1, fserrors.ErrNoSpc
	}
	return fd, nil
}

// Close implements FS_CLOSE.
func (s *Server) Close(c *Client, fd int) error {
	f, err := c.FDs.Get(fd)
	if err != nil {
		return err
	}
	c.FDs.Clear(fd)
	return s.Files.Close(f)
}

// Read implements FS_READ: read from fd's current offset.
func (s *Server) Read(c *Client, fd int, dst []byte) (int32, error) {
	f, err := c.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	return f.Read(dst)
}

// Write implements FS_WRITE: write at fd's current offset.
func (s *Server) Write(c *Client, fd int, src []byte) (int32, error) {
	f, err := c.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	return f.Write(src)
}

// Pread implements FS_PREAD: read at an explicit offset without
// disturbing fd's seek position.
func (s *Server) Pread(c *Client, fd int, dst []byte, off uint32) (int32, error) {
	f, err := c.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	if f.Kind != file.Inode {
		return -1, fserrors.ErrInval
	}
	if err := f.Ino.Ilock(); err != nil {
		return -1, err
	}
	defer f.Ino.Iunlock()
	n, err := f.Ino.Readi(dst, off, uint32(len(dst)))
	return int32(n), err
}

// Pwrite implements FS_PWRITE: write at an explicit offset without
// disturbing fd's seek position.
func (s *Server) Pwrite(c *Client, fd int, src []byte, off uint32) (int32, error) {
	f, err := c.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	if f.Kind != file.Inode {
		return -1, fserrors.ErrInval
	}
	if err := f.Ino.Ilock(); err != nil {
		return -1, err
	}
	n, err := f.Ino.Writei(src, off, uint32(len(src)))
	f.Ino.Iunlock()
	return n, err
}

// Lseek implements FS_LSEEK.
func (s *Server) Lseek(c *Client, fd int, off int64, whence int) (int64, error) {
	f, err := c.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	return f.Seek(off, whence)
}

// Fstat implements FS_FSTAT.
func (s *Server) Fstat(c *Client, fd int) (file.Stat, error) {
	f, err := c.FDs.Get(fd)
	if err != nil {
		return file.Stat{}, err
	}
	return f.Fstat()
}

// Lstat implements FS_LSTAT: stat by path instead of fd.
func (s *Server) Lstat(c *Client, path string) (file.Stat, error) {
	ip, err := dirfs.Namei(s.Inodes, s.Root, c.Cwd, path)
	if err != nil {
		return file.Stat{}, err
	}
	if err := ip.Ilock(); err != nil {
		ip.Iput()
		return file.Stat{}, err
	}
	st := file.StatInode(ip)
	ip.Iunlock()
	ip.Iput()
	return st, nil
}

// Unlink implements FS_UNLINK: remove name from its parent directory,
// refusing "." and ".." (fserrors.ErrPerm) and non-empty directories
// (fserrors.ErrNotEmpty).
func (s *Server) Unlink(c *Client, path string) error {
	dp, name, err := dirfs.NameiParent(s.Inodes, s.Root, c.Cwd, path)
	if err != nil {
		return err
	}

	if name == "." || name == ".." {
		dp.Iput()
		return fserrors.ErrPerm
	}

	if err := dp.Ilock(); err != nil {
		dp.Iput()
		return err
	}

	ip, off, err := dirfs.Lookup(dp, name)
	if err != nil {
		dp.Iunlock()
		dp.Iput()
		return err
	}

	if err := ip.Ilock(); err != nil {
		dp.Iunlock()
		dp.Iput()
		ip.Iput()
		return err
	}

	if ip.Type == diskfmt.TypeDir && !dirEmpty(ip) {
		ip.Iunlock()
		ip.Iput()
		dp.Iunlock()
		dp.Iput()
		return fserrors.ErrNotEmpty
	}

	if err := dirfs.Unlink(dp, off); err != nil {
		ip.Iunlock()
		ip.Iput()
		dp.Iunlock()
		dp.Iput()
		return err
	}

	if ip.Type == diskfmt.TypeDir {
		dp.NLink--
		if err := dp.Iupdate(); err != nil {
			ip.Iunlock()
			ip.Iput()
			dp.Iunlock()
			dp.Iput()
			return err
		}
	}
	dp.Iunlock()
	dp.Iput()

	ip.NLink--
	err = ip.Iupdate()
	ip.Iunlock()
	ip.Iput()
	return err
}

// Getcwd implements FS_GETCWD.
func (s *Server) Getcwd(c *Client) string {
	return c.CwdPath
}

// Chdir implements FS_CHDIR.
func (s *Server) Chdir(c *Client, path string) error {
	ip, err := dirfs.Namei(s.Inodes, s.Root, c.Cwd, path)
	if err != nil {
		return err
	}
	if err := ip.Ilock(); err != nil {
		ip.Iput()
		return err
	}
	if ip.Type != diskfmt.TypeDir {
		ip.Iunlock()
		ip.Iput()
		return fserrors.ErrNotDir
	}
	ip.Iunlock()

	c.Cwd.Iput()
	c.Cwd = ip
	c.CwdPath = resolveCwdPath(c.CwdPath, path)
	return nil
}

// Mkdir implements FS_MKDIR.
func (s *Server) Mkdir(c *Client, path string) error {
	ip, err := s.create(c, path, diskfmt.TypeDir, 0, 0)
	if err != nil {
		return err
	}
	ip.Iunlock()
	ip.Iput()
	return nil
}

// Mknod implements FS_MKNOD: create a device special file.
func (s *Server) Mknod(c *Client, path string, major, minor int16) error {
	ip, err := s.create(c, path, diskfmt.TypeDevice, major, minor)
	if err != nil {
		return err
	}
	ip.Iunlock()
	ip.Iput()
	return nil
}

// Link implements FS_LINK: add a new name for an existing file.
// Directories may not be hard-linked.
func (s *Server) Link(c *Client, oldPath, newPath string) error {
	ip, err := dirfs.Namei(s.Inodes, s.Root, c.Cwd, oldPath)
	if err != nil {
		return err
	}

	if err := ip.Ilock(); err != nil {
		ip.Iput()
		return err
	}
	if ip.Type == diskfmt.TypeDir {
		ip.Iunlock()
		ip.Iput()
		return fserrors.ErrPerm
	}
	ip.NLink++
	err = ip.Iupdate()
	ip.Iunlock()
	if err != nil {
		ip.Iput()
		return err
	}

	dp, name, err := dirfs.NameiParent(s.Inodes, s.Root, c.Cwd, newPath)
	if err != nil {
		ip.Ilock()
		ip.NLink--
		ip.Iupdate()
		ip.Iunlock()
		ip.Iput()
		return err
	}

	if err := dp.Ilock(); err != nil {
		dp.Iput()
		ip.Iput()
		return err
	}
	if err := dirfs.Link(dp, name, ip.Inum); err != nil {
		dp.Iunlock()
		dp.Iput()
		ip.Ilock()
		ip.NLink--
		ip.Iupdate()
		ip.Iunlock()
		ip.Iput()
		return err
	}
	dp.Iunlock()
	dp.Iput()
	ip.Iput()
	return nil
}

// Dup implements FS_DUP: share oldFd's open-file-table entry under a
// new fd.
func (s *Server) Dup(c *Client, oldFd int) (int, error) {
	f, err := c.FDs.Get(oldFd)
	if err != nil {
		return -1, err
	}
	dup := s.Files.Dup(f)
	fd := c.FDs.Alloc(dup)
	if fd < 0 {
		s.Files.Close(dup)
		return -1, fserrors.ErrNoSpc
	}
	return fd, nil
}

// dirEmpty reports whether dp (already locked) contains only "." and
// "..".
func dirEmpty(dp *inode.Inode) bool {
	var de diskfmt.Dirent
	buf := make([]byte, diskfmt.DirentSize)
	for off := uint32(2 * diskfmt.DirentSize); off < dp.Size; off += diskfmt.DirentSize {
		n, err := dp.Readi(buf, off, diskfmt.DirentSize)
		if err != nil || n != diskfmt.DirentSize {
			return err == nil
		}
		de = diskfmt.DecodeDirent(buf)
		if de.Inum != 0 {
			return false
		}
	}
	return true
}

// truncInode resets ip's contents to empty, for O_TRUNC.
// LOCKS_REQUIRED(ip)
func truncInode(ip *inode.Inode) error {
	return ip.Itrunc()
}

// resolveCwdPath produces the new canonical cwd path string after a
// successful chdir, without re-walking the filesystem: absolute inputs
// replace the path outright; relative inputs are joined and
// lexically cleaned of "." and ".." elements.
func resolveCwdPath(cur, target string) string {
	var elems []string
	if len(target) == 0 || target[0] != '/' {
		for _, e := range splitPath(cur) {
			elems = append(elems, e)
		}
	}
	for _, e := range splitPath(target) {
		switch e {
		case ".":
		case "..":
			if len(elems) > 0 {
				elems = elems[:len(elems)-1]
			}
		default:
			elems = append(elems, e)
		}
	}

	if len(elems) == 0 {
		return "/"
	}
	out := ""
	for _, e := range elems {
		out += "/" + e
	}
	return out
}

func splitPath(p string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				out = append(out, p[start:i])
			}
			start = i + 1
		}
	}
	return out
}
