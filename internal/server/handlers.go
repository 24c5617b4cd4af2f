package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/TheAppgineer/zpbuild/internal"
	"github.com/TheAppgineer/zpbuild/internal/build"
	"github.com/TheAppgineer/zpbuild/internal/errx"
	"github.com/TheAppgineer/zpbuild/internal/inspect"
	"github.com/TheAppgineer/zpbuild/internal/protocol"
)

// Handles a build command.
//
// Receives an expanded recipe from the CLI and executes it against the
// container runtime.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		s.fail(conn, err)
		return
	}
	if s.runtime == nil {
		s.fail(conn, errx.Wrapf(ErrServer, "no container runtime"))
		return
	}
	if req.Recipe == nil {
		s.fail(conn, errx.Wrapf(ErrServer, "build request has no recipe"))
		return
	}
	if err := req.Recipe.Validate(); err != nil {
		s.fail(conn, err)
		return
	}

	var created time.Time
	if req.SourceDateEpoch > 0 {
		created = time.Unix(req.SourceDateEpoch, 0)
	}

	result, err := build.Run(ctx, s.runtime, build.Options{
		Recipe:          req.Recipe,
		Resource:        req.Resource,
		Output:          req.Output,
		Root:            req.Root,
		Image:           req.Image,
		Platforms:       req.Platforms,
		Cache:           req.Cache,
		SourceDateEpoch: created,
	})
	if err != nil {
		s.fail(conn, err)
		return
	}

	s.mu.Lock()
	s.builds++
	s.mu.Unlock()

	s.respond(conn, protocol.CmdOK, &protocol.BuildResult{
		Output:    result.Output,
		Images:    result.Images,
		CacheHits: result.CacheHits,
		Committed: result.Committed,
	})
}

// Handles a verify command.
//
// Opens an exported archive and checks it against the expectation.
// Violations are a successful result; only unreadable archives fail.
func (s *Server) handleVerify(conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.VerifyRequest](payload)
	if err != nil {
		s.fail(conn, err)
		return
	}

	res, err := verifyArchive(req.Archive, req.Expect)
	if err != nil {
		s.fail(conn, err)
		return
	}
	s.respond(conn, protocol.CmdOK, res)
}

func verifyArchive(archive string, exp inspect.Expectation) (*protocol.VerifyResult, error) {
	img, err := inspect.Open(archive)
	if err != nil {
		return nil, err
	}

	res := &protocol.VerifyResult{Violations: inspect.Verify(img, exp)}

	d, err := inspect.BinaryDigest(img, exp.Binary)
	switch {
	case err == nil:
		res.BinaryDigest = d.String()
	case !errors.Is(err, inspect.ErrNotFound):
		return nil, err
	}
	return res, nil
}

// Handles a cache-prune command.
//
// Removes checkpoint images of one resource, or of all resources when no
// resource is given.
func (s *Server) handleCachePrune(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.CachePruneRequest](payload)
	if err != nil {
		s.fail(conn, err)
		return
	}
	if s.runtime == nil {
		s.fail(conn, errx.Wrapf(ErrServer, "no container runtime"))
		return
	}

	imgs, err := s.runtime.ListImages(ctx, build.CacheImagePrefix(req.Resource))
	if err != nil {
		s.fail(conn, err)
		return
	}

	removed := make([]string, 0, len(imgs))
	for _, img := range imgs {
		if !req.DryRun {
			if err := s.runtime.DestroyImage(ctx, img.Name); err != nil {
				s.fail(conn, err)
				return
			}
		}
		removed = append(removed, img.Name)
	}

	slog.Info("cache pruned", "images", len(removed), "dry-run", req.DryRun)
	s.respond(conn, protocol.CmdOK, &protocol.CachePruneResult{Removed: removed})
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	builds := s.builds
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, protocol.CmdOK, &protocol.StatusResult{
		Running: true,
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  uptime.String(),
		Builds:  builds,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go func() {
		s.Stop()
	}()
}
