package cli

import (
	"context"
	"log/slog"

	"github.com/TheAppgineer/zpbuild/internal/server"
)

// Represents the 'zpbuild start' command.
type StartCmd struct {
	RuntimeFlags

	SocketGroup string `help:"Group granted access to the socket." default:"${socket_group}" env:"ZPBUILD_SOCKET_GROUP"`
	PIDFile     string `name:"pid-file" help:"Override the default PID file path." type:"path" placeholder:"PATH" env:"ZPBUILD_PID_FILE"`
}

// Executes the start command.
//
// Starts the daemon on a Unix domain socket and blocks until the context is
// cancelled (e.g. via SIGINT or SIGTERM) or a client requests shutdown.
func (c *StartCmd) Run(ctx context.Context, g *Globals) error {
	srv, err := server.New(server.Config{
		SocketPath:          g.Socket,
		SocketGroup:         c.SocketGroup,
		PIDFile:             c.PIDFile,
		ContainerdAddress:   c.ContainerdAddress,
		ContainerdNamespace: c.Namespace,
		Snapshotter:         c.Snapshotter,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("daemon is running", "namespace", c.Namespace, "snapshotter", c.Snapshotter)

	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}

	slog.Info("shutting down")
	return srv.Stop()
}
