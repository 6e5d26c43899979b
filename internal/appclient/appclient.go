// Package appclient is the demonstration application-side client
// (spec.md §3 "Application"): a thin syscall-shaped API — Open, Read,
// Write, Seek, Stat, and friends — that marshals each call into a
// wire.Request, sends it over whichever transport.Transport the caller
// wired up, and unmarshals the wire.Response back into Go return
// values and an error.
package appclient

import (
	"encoding/binary"
	"fmt"

	"github.com/U-interrupt/sel4service/internal/fserrors"
	"github.com/U-interrupt/sel4service/internal/transport"
	"github.com/U-interrupt/sel4service/internal/wire"
)

// Open flags, matching internal/server's FS_OPEN argument encoding.
const (
	ORdOnly = 0x000
	OWrOnly = 0x001
	ORdWr   = 0x002
	OCreate = 0x200
	OTrunc  = 0x400
)

// Client is an application's handle onto the filesystem server,
// reached over t.
type Client struct {
	t transport.Transport
}

// New wraps an already-connected transport.
func New(t transport.Transport) *Client {
	return &Client{t: t}
}

func (c *Client) call(label wire.Label, args [4]uint64, payload []byte) (*wire.Response, error) {
	req := &wire.Request{Label: label, Args: args}
	if payload != nil {
		copy(req.Payload[:], payload)
	}
	resp, err := c.t.Call(req)
	if err != nil {
		return nil, fmt.Errorf("appclient: transport: %w", err)
	}
	return resp, nil
}

func errFromRet(ret int64) error {
	if ret >= 0 {
		return nil
	}
	switch ret {
	case -2:
		return fserrors.ErrNoEnt
	case -9:
		return fserrors.ErrBadFD
	case -17:
		return fserrors.ErrExist
	case -20:
		return fserrors.ErrNotDir
	case -21:
		return fserrors.ErrIsDir
	case -28:
		return fserrors.ErrNoSpc
	case -39:
		return fserrors.ErrNotEmpty
	case -1:
		return fserrors.ErrPerm
	default:
		return fserrors.ErrInval
	}
}

// Open implements FS_OPEN.
func (c *Client) Open(path string, flags int) (int, error) {
	resp, err := c.call(wire.FS_OPEN, [4]uint64{uint64(flags)}, []byte(path))
	if err != nil {
		return -1, err
	}
	if resp.Ret < 0 {
		return -1, errFromRet(resp.Ret)
	}
	return int(resp.Ret), nil
}

// Close implements FS_CLOSE.
func (c *Client) Close(fd int) error {
	resp, err := c.call(wire.FS_CLOSE, [4]uint64{uint64(fd)}, nil)
	if err != nil {
		return err
	}
	return errFromRet(resp.Ret)
}

// Read implements FS_READ, reading up to len(buf) bytes.
func (c *Client) Read(fd int, buf []byte) (int, error) {
	n := len(buf)
	if n > wire.MaxPayload {
		n = wire.MaxPayload
	}
	resp, err := c.call(wire.FS_READ, [4]uint64{uint64(fd), uint64(n)}, nil)
	if err != nil {
		return 0, err
	}
	if resp.Ret < 0 {
		return 0, errFromRet(resp.Ret)
	}
	copy(buf, resp.Payload[:resp.Ret])
	return int(resp.Ret), nil
}

// Write implements FS_WRITE.
func (c *Client) Write(fd int, buf []byte) (int, error) {
	n := len(buf)
	if n > wire.MaxPayload {
		n = wire.MaxPayload
	}
	resp, err := c.call(wire.FS_WRITE, [4]uint64{uint64(fd), uint64(n)}, buf[:n])
	if err != nil {
		return 0, err
	}
	if resp.Ret < 0 {
		return 0, errFromRet(resp.Ret)
	}
	return int(resp.Ret), nil
}

// Pread implements FS_PREAD.
func (c *Client) Pread(fd int, buf []byte, off uint32) (int, error) {
	n := len(buf)
	if n > wire.MaxPayload {
		n = wire.MaxPayload
	}
	resp, err := c.call(wire.FS_PREAD, [4]uint64{uint64(fd), uint64(n), uint64(off)}, nil)
	if err != nil {
		return 0, err
	}
	if resp.Ret < 0 {
		return 0, errFromRet(resp.Ret)
	}
	copy(buf, resp.Payload[:resp.Ret])
	return int(resp.Ret), nil
}

// Pwrite implements FS_PWRITE.
func (c *Client) Pwrite(fd int, buf []byte, off uint32) (int, error) {
	n := len(buf)
	if n > wire.MaxPayload {
		n = wire.MaxPayload
	}
	resp, err := c.call(wire.FS_PWRITE, [4]uint64{uint64(fd), uint64(n), uint64(off)}, buf[:n])
	if err != nil {
		return 0, err
	}
	if resp.Ret < 0 {
		return 0, errFromRet(resp.Ret)
	}
	return int(resp.Ret), nil
}

// Seek implements FS_LSEEK.
func (c *Client) Seek(fd int, off int64, whence int) (int64, error) {
	resp, err := c.call(wire.FS_LSEEK, [4]uint64{uint64(fd), uint64(off), uint64(whence)}, nil)
	if err != nil {
		return -1, err
	}
	if resp.Ret < 0 {
		return -1, errFromRet(resp.Ret)
	}
	return resp.Ret, nil
}

// Stat mirrors internal/file.Stat for the wire-decoded result of
// FS_FSTAT/FS_LSTAT.
type Stat struct {
	Dev   uint32
	Ino   uint32
	Mode  uint32
	NLink int16
	Size  uint32
}

func decodeStat(buf []byte) Stat {
	return Stat{
		Dev:   binary.LittleEndian.Uint32(buf[0:4]),
		Ino:   binary.LittleEndian.Uint32(buf[4:8]),
		Mode:  binary.LittleEndian.Uint32(buf[8:12]),
		NLink: int16(binary.LittleEndian.Uint16(buf[12:14])),
		Size:  binary.LittleEndian.Uint32(buf[14:18]),
	}
}

// Fstat implements FS_FSTAT.
func (c *Client) Fstat(fd int) (Stat, error) {
	resp, err := c.call(wire.FS_FSTAT, [4]uint64{uint64(fd)}, nil)
	if err != nil {
		return Stat{}, err
	}
	if resp.Ret < 0 {
		return Stat{}, errFromRet(resp.Ret)
	}
	return decodeStat(resp.Payload[:]), nil
}

// Lstat implements FS_LSTAT.
func (c *Client) Lstat(path string) (Stat, error) {
	resp, err := c.call(wire.FS_LSTAT, [4]uint64{}, []byte(path))
	if err != nil {
		return Stat{}, err
	}
	if resp.Ret < 0 {
		return Stat{}, errFromRet(resp.Ret)
	}
	return decodeStat(resp.Payload[:]), nil
}

// Unlink implements FS_UNLINK.
func (c *Client) Unlink(path string) error {
	resp, err := c.call(wire.FS_UNLINK, [4]uint64{}, []byte(path))
	if err != nil {
		return err
	}
	return errFromRet(resp.Ret)
}

// Getcwd implements FS_GETCWD.
func (c *Client) Getcwd() (string, error) {
	resp, err := c.call(wire.FS_GETCWD, [4]uint64{}, nil)
	if err != nil {
		return "", err
	}
	if resp.Ret < 0 {
		return "", errFromRet(resp.Ret)
	}
	return decodePayloadString(resp.Payload[:]), nil
}

func decodePayloadString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// Chdir implements FS_CHDIR.
func (c *Client) Chdir(path string) error {
	resp, err := c.call(wire.FS_CHDIR, [4]uint64{}, []byte(path))
	if err != nil {
		return err
	}
	return errFromRet(resp.Ret)
}

// Mkdir implements FS_MKDIR.
func (c *Client) Mkdir(path string) error {
	resp, err := c.call(wire.FS_MKDIR, [4]uint64{}, []byte(path))
	if err != nil {
		return err
	}
	return errFromRet(resp.Ret)
}

// Mknod implements FS_MKNOD.
func (c *Client) Mknod(path string, major, minor int16) error {
	resp, err := c.call(wire.FS_MKNOD, [4]uint64{uint64(major), uint64(minor)}, []byte(path))
	if err != nil {
		return err
	}
	return errFromRet(resp.Ret)
}

// Link implements FS_LINK: oldPath and newPath travel NUL-separated in
// a single payload.
func (c *Client) Link(oldPath, newPath string) error {
	payload := append([]byte(oldPath), 0)
	payload = append(payload, []byte(newPath)...)
	resp, err := c.call(wire.FS_LINK, [4]uint64{}, payload)
	if err != nil {
		return err
	}
	return errFromRet(resp.Ret)
}

// Dup implements FS_DUP.
func (c *Client) Dup(oldFd int) (int, error) {
	resp, err := c.call(wire.FS_DUP, [4]uint64{uint64(oldFd)}, nil)
	if err != nil {
		return -1, err
	}
	if resp.Ret < 0 {
		return -1, errFromRet(resp.Ret)
	}
	return int(resp.Ret), nil
}
