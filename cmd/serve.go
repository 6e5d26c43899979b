package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/U-interrupt/sel4service/cfg"
	"github.com/U-interrupt/sel4service/internal/mkfs"
	"github.com/U-interrupt/sel4service/internal/ramdisk"
	"github.com/U-interrupt/sel4service/internal/server"
	"github.com/U-interrupt/sel4service/internal/transport"
	"github.com/U-interrupt/sel4service/internal/wire"
	"github.com/U-interrupt/sel4service/internal/xlog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the filesystem server over the configured transport",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	c := cfg.Resolve()
	if err := c.Validate(); err != nil {
		return err
	}

	initLogging(c.Logging)

	var g errgroup.Group
	if c.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(c.Metrics.Addr) })
	}

	var seed *mkfs.Manifest
	if c.SeedFile != "" {
		m, err := mkfs.LoadManifest(c.SeedFile)
		if err != nil {
			return fmt.Errorf("serve: loading seed file: %w", err)
		}
		seed = m
	}

	dev := ramdisk.New(c.Disk.SizeBytes)
	if err := dev.Init(); err != nil {
		return err
	}

	srv, err := server.New(dev, server.Options{
		TotalBlocks: dev.Blocks(),
		NInodes:     uint32(c.Disk.NInodes),
		Seed:        seed,
	})
	if err != nil {
		return fmt.Errorf("serve: building server: %w", err)
	}

	client := server.NewClient(srv.Inodes, srv.Root)
	handle := func(req *wire.Request) *wire.Response {
		return server.Dispatch(srv, client, req)
	}

	g.Go(func() error { return runTransport(c.Transport, handle) })
	return g.Wait()
}

func runTransport(tc cfg.TransportConfig, handle transport.Handler) error {
	switch tc.Kind {
	case "rendezvous":
		r := transport.NewRendezvous()
		xlog.Infof("serve: listening on rendezvous transport")
		r.Serve(handle)
		return nil

	case "polled":
		p, err := transport.NewPolled()
		if err != nil {
			return err
		}
		xlog.Infof("serve: listening on polled transport")
		return p.Serve(context.Background(), handle)

	case "uintr":
		u := transport.NewUIntr()
		xlog.Infof("serve: listening on uintr transport, badge %s", u.Badge())
		u.Serve(handle)
		return nil

	default:
		return fmt.Errorf("serve: unknown transport kind %q", tc.Kind)
	}
}

func initLogging(lc cfg.LoggingConfig) {
	level := map[string]slog.Level{
		"trace": xlog.LevelTrace,
		"debug": xlog.LevelDebug,
		"info":  xlog.LevelInfo,
		"warn":  xlog.LevelWarn,
		"error": xlog.LevelError,
	}[lc.Level]

	xlog.Init(xlog.Options{Format: lc.Format, Level: level})
}

func serveMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	xlog.Infof("serve: metrics listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
