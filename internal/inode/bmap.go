package inode

import (
	"fmt"

	"github.com/U-interrupt/sel4service/internal/balloc"
	"github.com/U-interrupt/sel4service/internal/diskfmt"
)

// Bmap returns the device block number backing file block bn,
// allocating it on demand (both direct slots and, beyond NDirect, the
// single indirect block). Returns 0 if balloc is exhausted. Panics if
// bn is beyond diskfmt.MaxFile, which the caller (Writei) must prevent.
func (ip *Inode) Bmap(bn uint32) (uint32, error) {
	if bn < diskfmt.NDirect {
		addr := ip.Addrs[bn]
		if addr == 0 {
			a, err := balloc.Alloc(ip.table.Cache, ip.Dev, ip.table.SB)
			if err != nil || a == 0 {
				return 0, err
			}
			addr = a
			ip.Addrs[bn] = addr
		}
		return addr, nil
	}

	bn -= diskfmt.NDirect
	if bn < diskfmt.NIndirect {
		indAddr := ip.Addrs[diskfmt.NDirect]
		if indAddr == 0 {
			a, err := balloc.Alloc(ip.table.Cache, ip.Dev, ip.table.SB)
			if err != nil || a == 0 {
				return 0, err
			}
			indAddr = a
			ip.Addrs[diskfmt.NDirect] = indAddr
		}

		buf, err := ip.table.Cache.BRead(ip.Dev, indAddr)
		if err != nil {
			return 0, err
		}
		defer ip.table.Cache.BRelse(buf)

		off := bn * 4
		addr := leUint32(buf.Data[off : off+4])
		if addr == 0 {
			a, err := balloc.Alloc(ip.table.Cache, ip.Dev, ip.table.SB)
			if err != nil || a == 0 {
				return 0, err
			}
			addr = a
			putLeUint32(buf.Data[off:off+4], addr)
			if err := ip.table.Cache.BWrite(buf); err != nil {
				return 0, err
			}
		}
		return addr, nil
	}

	panic(fmt.Sprintf("inode: bmap block %d out of range", bn+diskfmt.NDirect))
}

// Itrunc frees all of ip's data blocks (direct, indirect-pointed-to,
// and the indirect block itself) and resets Size to 0. Exported for
// O_TRUNC opens; Iput's reclaim path uses it too.
// LOCKS_REQUIRED(ip)
func (ip *Inode) Itrunc() error {
	return ip.itrunc()
}

func (ip *Inode) itrunc() error {
	for i := 0; i < diskfmt.NDirect; i++ {
		if ip.Addrs[i] != 0 {
			if err := balloc.Free(ip.table.Cache, ip.Dev, ip.table.SB, ip.Addrs[i]); err != nil {
				return err
			}
			ip.Addrs[i] = 0
		}
	}

	if ip.Addrs[diskfmt.NDirect] != 0 {
		buf, err := ip.table.Cache.BRead(ip.Dev, ip.Addrs[diskfmt.NDirect])
		if err != nil {
			return err
		}
		for i := 0; i < diskfmt.NIndirect; i++ {
			addr := leUint32(buf.Data[i*4 : i*4+4])
			if addr != 0 {
				if err := balloc.Free(ip.table.Cache, ip.Dev, ip.table.SB, addr); err != nil {
					ip.table.Cache.BRelse(buf)
					return err
				}
			}
		}
		ip.table.Cache.BRelse(buf)

		if err := balloc.Free(ip.table.Cache, ip.Dev, ip.table.SB, ip.Addrs[diskfmt.NDirect]); err != nil {
			return err
		}
		ip.Addrs[diskfmt.NDirect] = 0
	}

	ip.Size = 0
	return ip.Iupdate()
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
