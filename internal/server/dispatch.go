package server

import (
	"encoding/binary"
	"strings"

	"github.com/U-interrupt/sel4service/internal/file"
	"github.com/U-interrupt/sel4service/internal/fserrors"
	"github.com/U-interrupt/sel4service/internal/wire"
	"github.com/U-interrupt/sel4service/internal/xlog"
	"github.com/U-interrupt/sel4service/metrics"
)

// argint and argaddr name the two ways a request's fixed Args register
// file is read, mirroring the reference implementation's
// argint/argaddr/argstr trio even though this service has no actual
// trapframe to decode — it keeps the dispatch table's shape familiar.
func argint(req *wire.Request, i int) int64 {
	return int64(req.Args[i])
}

func argaddr(req *wire.Request, i int) uint32 {
	return uint32(req.Args[i])
}

// argstr reads a NUL-terminated string out of the request payload.
func argstr(req *wire.Request) string {
	return req.GetString()
}

// Dispatch turns one incoming request into a response, running the
// requested operation against s on behalf of c. It never panics on bad
// input from the wire: unknown opcodes and malformed arguments both
// come back as FS_RET with a negative errno.
func Dispatch(s *Server, c *Client, req *wire.Request) *wire.Response {
	start := req.Label
	resp := &wire.Response{Label: wire.FS_RET}

	stop := metrics.Time(metrics.RequestDuration.WithLabelValues(start.String()))
	defer stop()
	defer func() {
		result := "ok"
		if resp.Ret < 0 {
			result = "error"
		}
		metrics.RequestsTotal.WithLabelValues(start.String(), result).Inc()
	}()

	switch req.Label {
	case wire.FS_OPEN:
		path := argstr(req)
		flags := int(argint(req, 0))
		fd, err := s.Open(c, path, flags)
		resp.Ret = combine(int64(fd), err)

	case wire.FS_CLOSE:
		fd := int(argint(req, 0))
		resp.Ret = fserrors.Errno(s.Close(c, fd))

	case wire.FS_READ:
		fd := int(argint(req, 0))
		n := int(argint(req, 1))
		n = clampPayload(n)
		got, err := s.Read(c, fd, resp.Payload[:n])
		resp.Ret = combine(int64(got), err)

	case wire.FS_WRITE:
		fd := int(argint(req, 0))
		n := int(argint(req, 1))
		n = clampPayload(n)
		got, err := s.Write(c, fd, req.Payload[:n])
		resp.Ret = combine(int64(got), err)

	case wire.FS_PREAD:
		fd := int(argint(req, 0))
		n := clampPayload(int(argint(req, 1)))
		off := argaddr(req, 2)
		got, err := s.Pread(c, fd, resp.Payload[:n], off)
		resp.Ret = combine(int64(got), err)

	case wire.FS_PWRITE:
		fd := int(argint(req, 0))
		n := clampPayload(int(argint(req, 1)))
		off := argaddr(req, 2)
		got, err := s.Pwrite(c, fd, req.Payload[:n], off)
		resp.Ret = combine(int64(got), err)

	case wire.FS_LSEEK:
		fd := int(argint(req, 0))
		off := int64(req.Args[1])
		whence := int(argint(req, 2))
		newOff, err := s.Lseek(c, fd, off, whence)
		resp.Ret = combine(newOff, err)

	case wire.FS_FSTAT:
		fd := int(argint(req, 0))
		st, err := s.Fstat(c, fd)
		if err == nil {
			encodeStat(resp.Payload[:], st)
		}
		resp.Ret = fserrors.Errno(err)

	case wire.FS_LSTAT:
		path := argstr(req)
		st, err := s.Lstat(c, path)
		if err == nil {
			encodeStat(resp.Payload[:], st)
		}
		resp.Ret = fserrors.Errno(err)

	case wire.FS_UNLINK:
		path := argstr(req)
		resp.Ret = fserrors.Errno(s.Unlink(c, path))

	case wire.FS_GETCWD:
		cwd := s.Getcwd(c)
		n := copy(resp.Payload[:], cwd)
		if n < len(resp.Payload) {
			resp.Payload[n] = 0
		}
		resp.Ret = int64(len(cwd))

	case wire.FS_CHDIR:
		path := argstr(req)
		resp.Ret = fserrors.Errno(s.Chdir(c, path))

	case wire.FS_MKDIR:
		path := argstr(req)
		resp.Ret = fserrors.Errno(s.Mkdir(c, path))

	case wire.FS_MKNOD:
		major := int16(argint(req, 0))
		minor := int16(argint(req, 1))
		path := argstr(req)
		resp.Ret = fserrors.Errno(s.Mknod(c, path, major, minor))

	case wire.FS_LINK:
		oldPath, newPath := splitTwoStrings(req)
		resp.Ret = fserrors.Errno(s.Link(c, oldPath, newPath))

	case wire.FS_DUP:
		oldFd := int(argint(req, 0))
		fd, err := s.Dup(c, oldFd)
		resp.Ret = combine(int64(fd), err)

	default:
		xlog.Warnf("dispatch: unknown opcode %v", req.Label)
		resp.Ret = fserrors.Errno(fserrors.ErrInval)
	}

	return resp
}

// combine folds a successful numeric result and an error into the
// wire's single Ret field: errors always win, and take precedence over
// whatever partial count the operation returned.
func combine(n int64, err error) int64 {
	if err != nil {
		return fserrors.Errno(err)
	}
	return n
}

func clampPayload(n int) int {
	if n < 0 {
		return 0
	}
	if n > wire.MaxPayload {
		return wire.MaxPayload
	}
	return n
}

// splitTwoStrings reads FS_LINK's two NUL-terminated path arguments,
// packed back to back in the payload.
func splitTwoStrings(req *wire.Request) (string, string) {
	full := string(req.Payload[:])
	parts := strings.SplitN(full, "\x00", 3)
	oldPath := ""
	newPath := ""
	if len(parts) > 0 {
		oldPath = parts[0]
	}
	if len(parts) > 1 {
		newPath = parts[1]
	}
	return oldPath, newPath
}

const statDiskSize = 4 + 4 + 4 + 2 + 4

func encodeStat(buf []byte, st file.Stat) {
	binary.LittleEndian.PutUint32(buf[0:4], st.Dev)
	binary.LittleEndian.PutUint32(buf[4:8], st.Ino)
	binary.LittleEndian.PutUint32(buf[8:12], st.Mode)
	binary.LittleEndian.PutUint16(buf[12:14], uint16(st.NLink))
	binary.LittleEndian.PutUint32(buf[14:18], st.Size)
}
