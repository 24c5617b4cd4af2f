// Package client talks to the zpbuild daemon over its Unix socket.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/TheAppgineer/zpbuild/internal/errx"
	"github.com/TheAppgineer/zpbuild/internal/paths"
	"github.com/TheAppgineer/zpbuild/internal/protocol"
)

var (
	ErrUnavailable = errors.New("daemon unavailable")
	ErrExchange    = errors.New("daemon exchange failed")
)

// Daemon connection settings. Every call opens its own connection.
type Client struct {
	socketPath string
}

// Returns a client for the daemon listening on socketPath. An empty path
// uses the default socket.
func Dial(socketPath string) *Client {
	if socketPath == "" {
		socketPath = paths.Socket()
	}
	return &Client{socketPath: socketPath}
}

// Builds an image. Cancelling ctx closes the connection, which makes the
// daemon abort the build.
func (c *Client) Build(ctx context.Context, req protocol.BuildRequest) (*protocol.BuildResult, error) {
	var res protocol.BuildResult
	if err := c.call(ctx, protocol.CmdBuild, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Verifies an exported archive.
func (c *Client) Verify(ctx context.Context, req protocol.VerifyRequest) (*protocol.VerifyResult, error) {
	var res protocol.VerifyResult
	if err := c.call(ctx, protocol.CmdVerify, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Removes checkpoint images.
func (c *Client) PruneCache(ctx context.Context, req protocol.CachePruneRequest) (*protocol.CachePruneResult, error) {
	var res protocol.CachePruneResult
	if err := c.call(ctx, protocol.CmdCachePrune, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Queries daemon status.
func (c *Client) Status(ctx context.Context) (*protocol.StatusResult, error) {
	var res protocol.StatusResult
	if err := c.call(ctx, protocol.CmdStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.call(ctx, protocol.CmdShutdown, nil, nil)
}

// Performs one request-response exchange.
//
// A [protocol.CmdError] response is returned as a [*protocol.RemoteError].
func (c *Client) call(ctx context.Context, cmd protocol.Command, payload, out any) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return errx.Wrapf(ErrUnavailable, "%s: %w", c.socketPath, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	line, err := protocol.Encode(cmd, payload)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(line, protocol.Delimiter)); err != nil {
		return c.exchangeError(ctx, err)
	}

	resp, err := bufio.NewReader(conn).ReadBytes(protocol.Delimiter)
	if err != nil {
		return c.exchangeError(ctx, err)
	}

	env, raw, err := protocol.Decode(resp)
	if err != nil {
		return err
	}

	switch env.Command {
	case protocol.CmdOK:
	case protocol.CmdError:
		e, err := protocol.DecodePayload[protocol.ErrorResult](raw)
		if err != nil {
			return err
		}
		return &protocol.RemoteError{Message: e.Message}
	default:
		return errx.Wrapf(ErrExchange, "unexpected response %q", env.Command)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	// Fields added by newer daemons are ignored.
	if err := json.Unmarshal(raw, out); err != nil {
		return errx.Wrap(protocol.ErrDecode, err)
	}
	return nil
}

// Prefers the context error over the connection error it caused.
func (c *Client) exchangeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errx.Wrap(ErrExchange, err)
}
