package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/U-interrupt/sel4service/cfg"
	"github.com/U-interrupt/sel4service/internal/bio"
	"github.com/U-interrupt/sel4service/internal/mkfs"
	"github.com/U-interrupt/sel4service/internal/ramdisk"
	"github.com/U-interrupt/sel4service/internal/xlog"
)

var mkfsOutPath string

var mkfsCmd = &cobra.Command{
	Use:   "mkfs",
	Short: "Format a fresh image and write it to a file",
	RunE:  runMkfs,
}

func init() {
	mkfsCmd.Flags().StringVar(&mkfsOutPath, "out", "fs.img", "Output image path.")
	rootCmd.AddCommand(mkfsCmd)
}

func runMkfs(cmd *cobra.Command, args []string) error {
	c := cfg.Resolve()
	if err := c.Validate(); err != nil {
		return err
	}
	initLogging(c.Logging)

	dev := ramdisk.New(c.Disk.SizeBytes)
	if err := dev.Init(); err != nil {
		return err
	}

	cache := bio.NewCache(dev)
	table, sb, err := mkfs.Build(cache, dev.Blocks(), uint32(c.Disk.NInodes))
	if err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}
	xlog.Infof("mkfs: formatted %d blocks, %d inodes", sb.Size, sb.NInodes)

	if c.SeedFile != "" {
		m, err := mkfs.LoadManifest(c.SeedFile)
		if err != nil {
			return fmt.Errorf("mkfs: loading seed file: %w", err)
		}
		root := table.Get(mkfs.Dev, 1)
		if err := mkfs.Seed(table, root, m); err != nil {
			return fmt.Errorf("mkfs: seeding: %w", err)
		}
	}

	return os.WriteFile(mkfsOutPath, dev.Export(), 0o644)
}
