// Package server implements the zpbuild daemon.
//
// The daemon owns the containerd connection and listens on a Unix domain
// socket for JSON-encoded commands from the zpbuild CLI. Each connection
// carries a single request-response exchange: the client sends a
// newline-delimited JSON envelope, the server dispatches the command, and
// writes the result back before closing the connection. Closing the
// connection early cancels the command.
//
// Supported commands build images, verify exported archives, prune the
// checkpoint cache, query daemon status and initiate shutdown. Build
// commands are delegated to the build package, which in turn uses the
// runtime package for container operations against containerd.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    ContainerdAddress:   "/run/containerd/containerd.sock",
//	    ContainerdNamespace: "zpbuild",
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
