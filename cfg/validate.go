package cfg

import "fmt"

// Validate rejects configuration combinations the server can't act on.
// It mirrors the teacher's cfg.Validate in spirit: a single pass of
// independent checks, each returning as soon as it finds a problem.
func (c Config) Validate() error {
	switch c.Transport.Kind {
	case "rendezvous", "polled", "uintr":
	default:
		return fmt.Errorf("cfg: unknown transport.kind %q (want rendezvous, polled, or uintr)", c.Transport.Kind)
	}

	if c.Disk.SizeBytes <= 0 {
		return fmt.Errorf("cfg: disk.size-bytes must be positive, got %d", c.Disk.SizeBytes)
	}
	if c.Disk.NInodes <= 0 {
		return fmt.Errorf("cfg: disk.n-inodes must be positive, got %d", c.Disk.NInodes)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("cfg: unknown logging.format %q (want text or json)", c.Logging.Format)
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("cfg: unknown logging.level %q", c.Logging.Level)
	}

	return nil
}
