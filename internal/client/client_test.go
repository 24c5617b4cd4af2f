package client

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheAppgineer/zpbuild/internal/paths"
	"github.com/TheAppgineer/zpbuild/internal/protocol"
)

// Serves every connection with respond, which receives the request line.
func fakeDaemon(t *testing.T, respond func(req []byte) string) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "zpc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	socket := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				req, err := bufio.NewReader(conn).ReadBytes(protocol.Delimiter)
				if err != nil {
					return
				}
				if resp := respond(req); resp != "" {
					conn.Write([]byte(resp + "\n"))
				} else {
					// Hold the connection until the client gives up.
					conn.Read(make([]byte, 1))
				}
			}()
		}
	}()

	return socket
}

func TestDialDefault(t *testing.T) {
	require.Equal(t, paths.Socket(), Dial("").socketPath)
	require.Equal(t, "/tmp/x.sock", Dial("/tmp/x.sock").socketPath)
}

func TestUnavailable(t *testing.T) {
	c := Dial(filepath.Join(t.TempDir(), "none.sock"))
	_, err := c.Status(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPruneCacheRequest(t *testing.T) {
	reqs := make(chan []byte, 1)
	socket := fakeDaemon(t, func(req []byte) string {
		reqs <- req
		return `{"version":1,"command":"ok","payload":{"removed":["zpbuild-cache/app:1"],"extra":true}}`
	})

	res, err := Dial(socket).PruneCache(context.Background(), protocol.CachePruneRequest{Resource: "app"})
	require.NoError(t, err)
	require.Equal(t, []string{"zpbuild-cache/app:1"}, res.Removed)

	env, payload, err := protocol.Decode(<-reqs)
	require.NoError(t, err)
	require.Equal(t, protocol.CmdCachePrune, env.Command)
	require.JSONEq(t, `{"resource":"app"}`, string(payload))
}

func TestRemoteError(t *testing.T) {
	socket := fakeDaemon(t, func([]byte) string {
		return `{"version":1,"command":"error","payload":{"message":"build failed: step 3"}}`
	})

	_, err := Dial(socket).Build(context.Background(), protocol.BuildRequest{})
	var remote *protocol.RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "build failed: step 3", remote.Message)
}

func TestUnexpectedResponse(t *testing.T) {
	socket := fakeDaemon(t, func([]byte) string {
		return `{"version":1,"command":"build"}`
	})

	err := Dial(socket).Shutdown(context.Background())
	require.ErrorIs(t, err, ErrExchange)
}

func TestVersionMismatch(t *testing.T) {
	socket := fakeDaemon(t, func([]byte) string {
		return `{"version":2,"command":"ok"}`
	})

	_, err := Dial(socket).Status(context.Background())
	require.ErrorIs(t, err, protocol.ErrVersion)
}

func TestCancel(t *testing.T) {
	socket := fakeDaemon(t, func([]byte) string { return "" })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Dial(socket).Build(ctx, protocol.BuildRequest{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestClosedWithoutResponse(t *testing.T) {
	dir, err := os.MkdirTemp("", "zpc")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	socket := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", socket)
	require.NoError(t, err)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	_, err = Dial(socket).Status(context.Background())
	require.ErrorIs(t, err, ErrExchange)
	require.False(t, strings.Contains(err.Error(), "daemon:"))
}
