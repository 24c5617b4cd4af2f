package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/TheAppgineer/zpbuild/internal/client"
	"github.com/TheAppgineer/zpbuild/internal/protocol"
)

// Represents the 'zpbuild status' command.
type StatusCmd struct{}

// Executes the status command.
func (c *StatusCmd) Run(ctx context.Context, g *Globals) error {
	res, err := client.Dial(g.Socket).Status(ctx)
	if err != nil {
		return err
	}
	printStatus(os.Stdout, res)
	return nil
}

func printStatus(w io.Writer, res *protocol.StatusResult) {
	fmt.Fprintf(w, "version: %s\n", res.Version)
	fmt.Fprintf(w, "pid:     %d\n", res.Pid)
	fmt.Fprintf(w, "uptime:  %s\n", res.Uptime)
	fmt.Fprintf(w, "builds:  %d\n", res.Builds)
}

// Represents the 'zpbuild shutdown' command.
type ShutdownCmd struct{}

// Executes the shutdown command.
func (c *ShutdownCmd) Run(ctx context.Context, g *Globals) error {
	return client.Dial(g.Socket).Shutdown(ctx)
}
