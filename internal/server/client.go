package server

import (
	"github.com/U-interrupt/sel4service/internal/file"
	"github.com/U-interrupt/sel4service/internal/inode"
)

// Client is the server's per-connection state (spec.md §3, "Client"):
// a fixed fd table and a current working directory, both inode
// reference and canonical path string. One Client exists per transport
// endpoint; this service's single-client contract (spec.md §7) means a
// Server normally owns exactly one, but the type itself carries no
// such assumption.
type Client struct {
	FDs file.FDTable

	Cwd     *inode.Inode
	CwdPath string
}

// NewClient builds a client rooted at root, with cwd set to root too.
func NewClient(table *inode.Table, root *inode.Inode) *Client {
	return &Client{
		Cwd:     table.Get(root.Dev, root.Inum),
		CwdPath: "/",
	}
}

// Close releases the client's cwd reference and every still-open fd,
// mirroring process exit in the reference implementation.
func (c *Client) Close(ft *file.Table) error {
	for fd := file.FirstFD; fd < file.NOFile; fd++ {
		if f, err := c.FDs.Get(fd); err == nil {
			c.FDs.Clear(fd)
			if err := ft.Close(f); err != nil {
				return err
			}
		}
	}
	return c.Cwd.Iput()
}
