package fileserver

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const shellPrompt = "ftp> "

// RunShell reads commands from in and executes them until "exit" or end of input.
// Results are printed to out. It returns an error when the connection to the
// server fails. The client is closed when RunShell returns.
func (c *Client) RunShell(in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, shellPrompt)
		if !sc.Scan() {
			fmt.Fprintln(out)
			if err := sc.Err(); err != nil {
				c.Close()
				return err
			}
			return c.exitShell(out)
		}
		args := strings.Fields(sc.Text())
		if len(args) == 0 {
			continue
		}

		var err error
		switch cmd := strings.ToLower(args[0]); cmd {
		case "exit", "quit":
			return c.exitShell(out)
		case "put":
			err = c.shellPut(out, args[1:])
		case "get":
			err = c.shellGet(out, args[1:])
		case "help":
			printHelp(out)
		default:
			fmt.Fprintf(out, "unknown command %q, try \"help\"\n", cmd)
		}
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			if isFatal(err) {
				c.Close()
				return err
			}
		}
	}
}

func (c *Client) exitShell(out io.Writer) error {
	err := c.Exit()
	fmt.Fprintln(out, "Closing connection")
	return err
}

func (c *Client) shellPut(out io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: put <path>", ErrInvalidArguments)
	}
	stats, err := c.Put(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sent %s (%s in %d chunks)\n", args[0], common.StorageSize(stats.Bytes), stats.Chunks)
	return nil
}

func (c *Client) shellGet(out io.Writer, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: usage: get <remote-name> [local-path]", ErrInvalidArguments)
	}
	var local string
	if len(args) == 2 {
		local = args[1]
	}
	dest, stats, err := c.Get(args[0], local)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "received %s (%s in %d chunks)\n", dest, common.StorageSize(stats.Bytes), stats.Chunks)
	return nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "commands:")
	fmt.Fprintln(out, "  put <path>                      upload a file")
	fmt.Fprintln(out, "  get <remote-name> [local-path]  download a file")
	fmt.Fprintln(out, "  exit                            close the connection")
}
