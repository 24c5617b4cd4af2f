package build

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/TheAppgineer/zpbuild/internal/errx"
	"github.com/TheAppgineer/zpbuild/internal/manifest"
	"github.com/TheAppgineer/zpbuild/internal/runtime"
)

// Executes a copy operation, transferring files into the container.
//
// The copy string has the format "src dest" for host copies, or "stage:src
// dest" for cross-stage copies. Host sources are resolved relative to the
// build context and land owned by owner. Cross-stage sources are read from a
// named stage container's filesystem and keep their ownership.
func (x *stageExec) executeCopy(ctx context.Context, copyStr, workdir string, owner runtime.User) error {
	src, dest, err := parseCopy(copyStr, workdir)
	if err != nil {
		return errx.Wrap(ErrCopy, err)
	}

	if destDir := path.Dir(dest); destDir != "" {
		if err := x.ctr.MkdirAll(ctx, destDir); err != nil {
			return errx.Wrap(ErrCopy, err)
		}
	}

	if stage, p, ok := manifest.ParseStageSource(src); ok {
		return x.executeStageCopy(ctx, stage, p, dest)
	}

	return x.executeHostCopy(ctx, hostPath(x.root, src), dest, owner)
}

// Resolves a host copy source against the build context.
func hostPath(root, src string) string {
	if filepath.IsAbs(src) {
		return src
	}
	return filepath.Join(root, src)
}

// Copies a file or directory from the host into the container.
func (x *stageExec) executeHostCopy(ctx context.Context, src, dest string, owner runtime.User) error {
	info, err := os.Stat(src)
	if err != nil {
		return errx.Wrap(ErrCopy, err)
	}

	slog.Debug("copy", "src", src, "dest", dest, "dir", info.IsDir(), "owner", owner)

	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		var writeErr error

		if info.IsDir() {
			writeErr = writeDirToTar(tw, src, path.Base(dest), owner)
		} else {
			writeErr = writeFileToTar(tw, src, path.Base(dest), owner)
		}

		if err := tw.Close(); writeErr == nil {
			writeErr = err
		}
		pw.CloseWithError(writeErr)
	}()

	if err := x.ctr.CopyTo(ctx, pr, path.Dir(dest)); err != nil {
		pr.CloseWithError(err)
		return errx.Wrap(ErrCopy, err)
	}

	return nil
}

// Copies a path from a named stage container into the target container.
//
// The tar stream is piped directly from the source container's CopyFrom
// to the target container's CopyTo.
func (x *stageExec) executeStageCopy(ctx context.Context, stage, p, dest string) error {
	srcCtr, ok := x.stages[stage]
	if !ok {
		return errx.Wrapf(ErrCopy, "unknown stage %q", stage)
	}

	slog.Debug("cross-stage copy", "stage", stage, "src", p, "dest", dest)

	if path.Base(p) != path.Base(dest) {
		return x.renamingStageCopy(ctx, srcCtr, p, dest)
	}

	pr, pw := io.Pipe()

	errc := make(chan error, 1)
	go func() {
		err := srcCtr.CopyFrom(ctx, pw, p)
		pw.CloseWithError(err)
		errc <- err
	}()

	if err := x.ctr.CopyTo(ctx, pr, path.Dir(dest)); err != nil {
		pr.CloseWithError(err)
		<-errc
		return errx.Wrap(ErrCopy, err)
	}

	if err := <-errc; err != nil {
		return errx.Wrap(ErrCopy, err)
	}

	return nil
}

// Copies a path between stages when the destination has a different base
// name, rewriting the archive names on the fly.
func (x *stageExec) renamingStageCopy(ctx context.Context, srcCtr *runtime.Container, p, dest string) error {
	archived, aw := io.Pipe()
	renamed, rw := io.Pipe()

	errc := make(chan error, 2)
	go func() {
		err := srcCtr.CopyFrom(ctx, aw, p)
		aw.CloseWithError(err)
		errc <- err
	}()
	go func() {
		err := renameTar(archived, rw, path.Base(p), path.Base(dest))
		archived.CloseWithError(err)
		rw.CloseWithError(err)
		errc <- err
	}()

	err := x.ctr.CopyTo(ctx, renamed, path.Dir(dest))
	if err != nil {
		renamed.CloseWithError(err)
	}
	for range 2 {
		if e := <-errc; err == nil {
			err = e
		}
	}
	if err != nil {
		return errx.Wrap(ErrCopy, err)
	}
	return nil
}

// Rewrites the leading path component of every entry from old to new.
func renameTar(r io.Reader, w io.Writer, from, to string) error {
	tr := tar.NewReader(r)
	tw := tar.NewWriter(w)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		name := path.Clean(hdr.Name)
		switch {
		case name == from:
			hdr.Name = to
		case len(name) > len(from) && name[:len(from)+1] == from+"/":
			hdr.Name = to + name[len(from):]
		default:
			return fmt.Errorf("unexpected archive entry %q", hdr.Name)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return err
		}
	}
	return tw.Close()
}

// Parses a copy string into source and destination paths.
//
// The string must contain exactly two whitespace-separated tokens. If dest
// is not absolute, it is joined with workdir.
func parseCopy(s, workdir string) (src, dest string, err error) {
	src, dest, ok := manifest.SplitCopy(s)
	if !ok {
		return "", "", fmt.Errorf("expected source and destination, got %q", s)
	}

	if !path.IsAbs(dest) {
		if workdir == "" {
			return "", "", fmt.Errorf("relative dest %q requires workdir", dest)
		}
		dest = path.Join(workdir, dest)
	}

	return src, path.Clean(dest), nil
}

// Builds a tar header for a host file owned by owner inside the container.
func tarHeader(info os.FileInfo, name string, owner runtime.User) (*tar.Header, error) {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return nil, err
	}
	header.Name = name
	header.Uid = int(owner.UID)
	header.Gid = int(owner.GID)
	header.Uname = ""
	header.Gname = ""
	return header, nil
}

// Writes a single file to a tar writer with the given archive name.
func writeFileToTar(tw *tar.Writer, hostPath, name string, owner runtime.User) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return err
	}

	header, err := tarHeader(info, name, owner)
	if err != nil {
		return err
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// Writes a directory tree to a tar writer rooted at the given archive prefix.
func writeDirToTar(tw *tar.Writer, hostDir, prefix string, owner runtime.User) error {
	return filepath.WalkDir(hostDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(hostDir, p)
		if err != nil {
			return err
		}

		archivePath := filepath.ToSlash(filepath.Join(prefix, relPath))
		return writeTarEntry(tw, p, archivePath, d, owner)
	})
}

// Writes a single file or directory entry to a tar writer.
func writeTarEntry(tw *tar.Writer, hostPath, archivePath string, d os.DirEntry, owner runtime.User) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(hostPath); err != nil {
			return err
		}
	}

	header, err := tarHeader(info, archivePath, owner)
	if err != nil {
		return err
	}
	header.Linkname = link

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(hostPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	}

	return nil
}
