package runtime

import (
	"context"
	"io"
	"path"

	"github.com/TheAppgineer/zpbuild/internal/errx"
)

// Creates a directory inside the container, including parents. The
// directory is owned by root.
func (c *Container) MkdirAll(ctx context.Context, dir string) error {
	return c.mustExec(ctx, "mkdir", nil, nil, "mkdir", "-p", dir)
}

// Extracts the tar stream r into destDir. Extraction runs as root with
// --same-owner so the ownership recorded in the stream is kept.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return c.mustExec(ctx, "tar extract", r, nil, "tar", "xf", "-", "--same-owner", "-C", destDir)
}

// Streams the file or directory at p as a tar archive whose single top-level
// entry is the base name of p. Ownership and modes are preserved.
func (c *Container) CopyFrom(ctx context.Context, w io.Writer, p string) error {
	return c.mustExec(ctx, "tar archive", nil, w, "tar", "cf", "-", "--numeric-owner", "-C", path.Dir(p), path.Base(p))
}

// Runs args as root and fails with desc and the stderr tail on a non-zero
// exit.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, stdout io.Writer, args ...string) error {
	exitCode, stderr, err := c.execCommand(ctx, stdin, stdout, nil, "", &Root, args...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return errx.Wrapf(ErrRuntime, "%s failed with exit code %d (%s)", desc, exitCode, stderr)
	}
	return nil
}
