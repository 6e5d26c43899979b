package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/U-interrupt/sel4service/cfg"
	"github.com/U-interrupt/sel4service/internal/appclient"
	"github.com/U-interrupt/sel4service/internal/ramdisk"
	"github.com/U-interrupt/sel4service/internal/server"
	"github.com/U-interrupt/sel4service/internal/transport"
	"github.com/U-interrupt/sel4service/internal/wire"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Run an in-process demo: server and a line-oriented client sharing a transport",
	RunE:  runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	c := cfg.Resolve()
	if err := c.Validate(); err != nil {
		return err
	}
	initLogging(c.Logging)

	dev := ramdisk.New(c.Disk.SizeBytes)
	if err := dev.Init(); err != nil {
		return err
	}

	srv, err := server.New(dev, server.Options{
		TotalBlocks: dev.Blocks(),
		NInodes:     uint32(c.Disk.NInodes),
	})
	if err != nil {
		return err
	}

	client := server.NewClient(srv.Inodes, srv.Root)
	handle := func(req *wire.Request) *wire.Response {
		return server.Dispatch(srv, client, req)
	}

	switch c.Transport.Kind {
	case "rendezvous":
		r := transport.NewRendezvous()
		go r.Serve(handle)
		return runREPL(appclient.New(r))

	case "polled":
		p, err := transport.NewPolled()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		go p.Serve(ctx, handle)
		return runREPL(appclient.New(p))

	case "uintr":
		u := transport.NewUIntr()
		go u.Serve(handle)
		return runREPL(appclient.New(u))

	default:
		return fmt.Errorf("shell: unknown transport kind %q", c.Transport.Kind)
	}
}

// runREPL reads one command per line from stdin: open/close/read/write/
// stat/mkdir/unlink/cd/pwd/quit, reporting errors inline rather
// than aborting, so a demo session can keep going after a mistake.
func runREPL(ac *appclient.Client) error {
	fds := map[string]int{}
	sc := bufio.NewScanner(os.Stdin)
	fmt.Println("sel4service shell. Commands: open|write|read|stat|mkdir|unlink|cd|pwd|close|quit")

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return nil

		case "open":
			if len(fields) < 2 {
				fmt.Println("usage: open <path> [create]")
				continue
			}
			flags := appclient.ORdWr
			if len(fields) > 2 && fields[2] == "create" {
				flags |= appclient.OCreate
			}
			fd, err := ac.Open(fields[1], flags)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fds[fields[1]] = fd
			fmt.Println("fd", fd)

		case "write":
			if len(fields) < 3 {
				fmt.Println("usage: write <path> <text>")
				continue
			}
			fd, ok := fds[fields[1]]
			if !ok {
				fmt.Println("not open:", fields[1])
				continue
			}
			text := strings.Join(fields[2:], " ")
			n, err := ac.Write(fd, []byte(text))
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("wrote", n, "bytes")

		case "read":
			if len(fields) < 2 {
				fmt.Println("usage: read <path> [n]")
				continue
			}
			fd, ok := fds[fields[1]]
			if !ok {
				fmt.Println("not open:", fields[1])
				continue
			}
			n := 64
			if len(fields) > 2 {
				if parsed, err := strconv.Atoi(fields[2]); err == nil {
					n = parsed
				}
			}
			buf := make([]byte, n)
			got, err := ac.Read(fd, buf)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("%q\n", buf[:got])

		case "stat":
			if len(fields) < 2 {
				fmt.Println("usage: stat <path>")
				continue
			}
			st, err := ac.Lstat(fields[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("ino=%d mode=0x%x nlink=%d size=%d\n", st.Ino, st.Mode, st.NLink, st.Size)

		case "mkdir":
			if len(fields) < 2 {
				fmt.Println("usage: mkdir <path>")
				continue
			}
			if err := ac.Mkdir(fields[1]); err != nil {
				fmt.Println("error:", err)
			}

		case "unlink":
			if len(fields) < 2 {
				fmt.Println("usage: unlink <path>")
				continue
			}
			if err := ac.Unlink(fields[1]); err != nil {
				fmt.Println("error:", err)
			}

		case "cd":
			if len(fields) < 2 {
				fmt.Println("usage: cd <path>")
				continue
			}
			if err := ac.Chdir(fields[1]); err != nil {
				fmt.Println("error:", err)
			}

		case "pwd":
			cwd, err := ac.Getcwd()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println(cwd)

		case "close":
			if len(fields) < 2 {
				fmt.Println("usage: close <path>")
				continue
			}
			fd, ok := fds[fields[1]]
			if !ok {
				fmt.Println("not open:", fields[1])
				continue
			}
			if err := ac.Close(fd); err != nil {
				fmt.Println("error:", err)
				continue
			}
			delete(fds, fields[1])

		default:
			fmt.Println("unknown command:", fields[0])
		}
	}

	return sc.Err()
}
