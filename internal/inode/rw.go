package inode

import "github.com/U-interrupt/sel4service/internal/diskfmt"

// Readi copies up to n bytes starting at off into dst, clipped so the
// read never runs past Size. Returns 0 if off is beyond Size or the
// arithmetic would overflow.
// LOCKS_REQUIRED(ip)
func (ip *Inode) Readi(dst []byte, off, n uint32) (uint32, error) {
	if off > ip.Size || off+n < off {
		return 0, nil
	}
	if off+n > ip.Size {
		n = ip.Size - off
	}

	var tot uint32
	for tot < n {
		blockno, err := ip.Bmap(off / diskfmt.BSize)
		if err != nil {
			return tot, err
		}
		if blockno == 0 {
			break
		}

		buf, err := ip.table.Cache.BRead(ip.Dev, blockno)
		if err != nil {
			return tot, err
		}

		boff := off % diskfmt.BSize
		m := n - tot
		if avail := diskfmt.BSize - boff; m > avail {
			m = avail
		}
		copy(dst[tot:tot+m], buf.Data[boff:boff+m])
		ip.table.Cache.BRelse(buf)

		tot += m
		off += m
	}

	return tot, nil
}

// Writei writes n bytes from src starting at off, extending Size (and
// allocating blocks on demand, including through holes) as needed.
// Rejects writes whose arithmetic would overflow or whose end exceeds
// diskfmt.MaxFile*BSize. Always calls Iupdate on success because Bmap
// may have allocated blocks even if Size didn't change.
// LOCKS_REQUIRED(ip)
func (ip *Inode) Writei(src []byte, off, n uint32) (int32, error) {
	if off+n < off {
		return -1, nil
	}
	if uint64(off)+uint64(n) > uint64(diskfmt.MaxFile)*diskfmt.BSize {
		return -1, nil
	}

	var tot uint32
	for tot < n {
		blockno, err := ip.Bmap(off / diskfmt.BSize)
		if err != nil {
			return int32(tot), err
		}
		if blockno == 0 {
			break
		}

		buf, err := ip.table.Cache.BRead(ip.Dev, blockno)
		if err != nil {
			return int32(tot), err
		}

		boff := off % diskfmt.BSize
		m := n - tot
		if avail := diskfmt.BSize - boff; m > avail {
			m = avail
		}
		copy(buf.Data[boff:boff+m], src[tot:tot+m])
		werr := ip.table.Cache.BWrite(buf)
		ip.table.Cache.BRelse(buf)
		if werr != nil {
			return int32(tot), werr
		}

		tot += m
		off += m
	}

	if off > ip.Size {
		ip.Size = off
	}
	if err := ip.Iupdate(); err != nil {
		return int32(tot), err
	}

	return int32(tot), nil
}
