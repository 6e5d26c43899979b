// Command sel4service runs the filesystem server, its mkfs image
// builder, and a demo shell client, all over the transport disciplines
// described in cfg and internal/transport.
package main

import (
	"os"

	"github.com/U-interrupt/sel4service/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
