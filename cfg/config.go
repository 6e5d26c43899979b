// Package cfg defines this service's configuration surface and how it
// is bound to command-line flags and an optional config file, the way
// the teacher's own cfg package layers spf13/viper over spf13/pflag.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one server process.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Disk      DiskConfig      `yaml:"disk"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	SeedFile  string          `yaml:"seed-file"`
}

// TransportConfig selects and tunes the IPC discipline the server
// listens on.
type TransportConfig struct {
	// Kind is one of "rendezvous", "polled", "uintr".
	Kind string `yaml:"kind"`

	// PollIntervalMicros is read from config but not passed to any
	// transport: the polled transport's server-side poll interval is
	// fixed at 50µs in transport.NewPolled.
	PollIntervalMicros int `yaml:"poll-interval-micros"`
}

// DiskConfig sizes the ramdisk and the image built/loaded onto it.
type DiskConfig struct {
	SizeBytes int `yaml:"size-bytes"`
	NInodes   int `yaml:"n-inodes"`
}

// LoggingConfig mirrors the teacher's debug/logging knobs, adapted to
// this service's xlog wrapper.
type LoggingConfig struct {
	Format string `yaml:"format"` // "text" or "json"
	Level  string `yaml:"level"`  // "trace", "debug", "info", "warn", "error"
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// BindFlags registers every configuration knob on flagSet and binds it
// into viper, so flags, a config file, and defaults all resolve
// through the same viper.Get* calls.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("transport.kind", "rendezvous", "IPC discipline: rendezvous, polled, or uintr.")
	flagSet.Int("transport.poll-interval-micros", 50, "Polled transport poll interval; not applied (the polled transport uses a fixed 50µs interval).")

	flagSet.Int("disk.size-bytes", 1024*1024, "Ramdisk backing-store size in bytes.")
	flagSet.Int("disk.n-inodes", 200, "Number of inodes to format into a fresh image.")

	flagSet.String("logging.format", "text", "Log output format: text or json.")
	flagSet.String("logging.level", "info", "Log level: trace, debug, info, warn, error.")

	flagSet.Bool("metrics.enabled", false, "Serve Prometheus metrics.")
	flagSet.String("metrics.addr", ":9100", "Address to serve Prometheus metrics on.")

	flagSet.String("seed-file", "", "Optional YAML manifest to preload into a freshly formatted image.")

	for _, name := range []string{
		"transport.kind", "transport.poll-interval-micros",
		"disk.size-bytes", "disk.n-inodes",
		"logging.format", "logging.level",
		"metrics.enabled", "metrics.addr",
		"seed-file",
	} {
		if err := viper.BindPFlag(name, flagSet.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

// Resolve builds a Config from viper's current bound state (flags,
// config file, and defaults, in that precedence order).
func Resolve() Config {
	return Config{
		Transport: TransportConfig{
			Kind:               viper.GetString("transport.kind"),
			PollIntervalMicros: viper.GetInt("transport.poll-interval-micros"),
		},
		Disk: DiskConfig{
			SizeBytes: viper.GetInt("disk.size-bytes"),
			NInodes:   viper.GetInt("disk.n-inodes"),
		},
		Logging: LoggingConfig{
			Format: viper.GetString("logging.format"),
			Level:  viper.GetString("logging.level"),
		},
		Metrics: MetricsConfig{
			Enabled: viper.GetBool("metrics.enabled"),
			Addr:    viper.GetString("metrics.addr"),
		},
		SeedFile: viper.GetString("seed-file"),
	}
}
