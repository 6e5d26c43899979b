package mkfs

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/U-interrupt/sel4service/internal/diskfmt"
	"github.com/U-interrupt/sel4service/internal/dirfs"
	"github.com/U-interrupt/sel4service/internal/inode"
)

// Manifest describes a directory tree to preload into a freshly built
// image, for demo/test fixtures that want deterministic starting
// content instead of an empty root.
type Manifest struct {
	Files []SeedFile `yaml:"files"`
}

// SeedFile is one entry: a path relative to the root directory and the
// literal bytes to write there. Parent directories are created as
// plain files' parents must already exist — Dir entries create them.
type SeedFile struct {
	Path    string `yaml:"path"`
	Dir     bool   `yaml:"dir"`
	Content string `yaml:"content"`
}

// LoadManifest reads and parses a YAML seed manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Seed applies a manifest against table, starting from root. Entries
// are applied in order, so a file's parent directory entry must appear
// before it.
func Seed(table *inode.Table, root *inode.Inode, m *Manifest) error {
	for _, f := range m.Files {
		if f.Dir {
			if err := seedMkdir(table, root, f.Path); err != nil {
				return err
			}
			continue
		}
		if err := seedFile(table, root, f.Path, []byte(f.Content)); err != nil {
			return err
		}
	}
	return nil
}

func seedMkdir(table *inode.Table, root *inode.Inode, path string) error {
	dp, name, err := dirfs.NameiParent(table, root, root, path)
	if err != nil {
		return err
	}

	dir, err := table.Ialloc(diskfmt.TypeDir)
	if err != nil {
		dp.Iput()
		return err
	}

	if err := dir.Ilock(); err != nil {
		dp.Iput()
		return err
	}
	dir.NLink = 1
	if err := dirfs.Link(dir, ".", dir.Inum); err != nil {
		dir.Iunlock()
		dp.Iput()
		return err
	}
	if err := dirfs.Link(dir, "..", dp.Inum); err != nil {
		dir.Iunlock()
		dp.Iput()
		return err
	}
	if err := dir.Iupdate(); err != nil {
		dir.Iunlock()
		dp.Iput()
		return err
	}
	dir.Iunlock()

	if err := dp.Ilock(); err != nil {
		dp.Iput()
		return err
	}
	if err := dirfs.Link(dp, name, dir.Inum); err != nil {
		dp.Iunlock()
		dp.Iput()
		return err
	}
	dp.NLink++
	err = dp.Iupdate()
	dp.Iunlock()
	dp.Iput()
	return err
}

func seedFile(table *inode.Table, root *inode.Inode, path string, content []byte) error {
	dp, name, err := dirfs.NameiParent(table, root, root, path)
	if err != nil {
		return err
	}

	fp, err := table.Ialloc(diskfmt.TypeFile)
	if err != nil {
		dp.Iput()
		return err
	}

	if err := fp.Ilock(); err != nil {
		dp.Iput()
		return err
	}
	fp.NLink = 1
	if _, err := fp.Writei(content, 0, uint32(len(content))); err != nil {
		fp.Iunlock()
		dp.Iput()
		return err
	}
	fp.Iunlock()

	if err := dp.Ilock(); err != nil {
		dp.Iput()
		return err
	}
	err = dirfs.Link(dp, name, fp.Inum)
	dp.Iunlock()
	dp.Iput()
	return err
}
