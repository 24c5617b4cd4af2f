package inspect

import (
	"archive/tar"
	"errors"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/TheAppgineer/zpbuild/internal/errx"
)

// Prefix of overlay whiteout entries in a layer.
const whiteoutPrefix = ".wh."

// A filesystem entry within a layer.
type Entry struct {
	Path     string        // Slash-separated path relative to the root.
	Type     byte          // Tar type flag.
	Mode     fs.FileMode   // Permission and type bits.
	UID      int           // Owner user ID.
	GID      int           // Owner group ID.
	Size     int64         // Size in bytes for regular files.
	Linkname string        // Link target for links.
	Digest   digest.Digest // Content digest for regular files.
}

// Whether the entry is a regular file with any execute bit set.
func (e Entry) IsExecutable() bool {
	return e.Type == tar.TypeReg && e.Mode&0o111 != 0
}

// Whether the entry is an overlay whiteout marker.
func (e Entry) IsWhiteout() bool {
	return strings.HasPrefix(path.Base(e.Path), whiteoutPrefix)
}

// Entries of one layer, plus the contents of any captured files.
type Layer struct {
	Descriptor ocispec.Descriptor
	Entries    []Entry
	Contents   map[string][]byte // Captured file contents keyed by path.
}

// Returns the entry at p.
func (l *Layer) Lookup(p string) (Entry, bool) {
	p = cleanPath(p)
	for _, e := range l.Entries {
		if e.Path == p {
			return e, true
		}
	}
	return Entry{}, false
}

// Returns the number of layers in the image.
func (img *Image) LayerCount() int {
	return len(img.Manifest.Layers)
}

// Reads layer i, counted from the base (0) to the top (LayerCount-1).
// Negative indexes count from the top, so -1 is the top layer.
//
// The contents of regular files whose paths are listed in capture are kept
// in [Layer.Contents].
func (img *Image) Layer(i int, capture ...string) (*Layer, error) {
	n := len(img.Manifest.Layers)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, errx.Wrapf(ErrArchive, "layer %d out of range (%d layers)", i, n)
	}

	desc := img.Manifest.Layers[i]
	blob, closer, err := img.openBlob(desc.Digest)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	stream, err := decompress(blob, desc.MediaType)
	if err != nil {
		return nil, errx.Wrapf(ErrArchive, "layer %s: %w", desc.Digest, err)
	}
	defer stream.Close()

	wanted := make([]string, len(capture))
	for j, c := range capture {
		wanted[j] = cleanPath(c)
	}

	layer := &Layer{Descriptor: desc, Contents: make(map[string][]byte)}

	tr := tar.NewReader(stream)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errx.Wrapf(ErrArchive, "layer %s: %w", desc.Digest, err)
		}

		e := Entry{
			Path:     cleanPath(hdr.Name),
			Type:     hdr.Typeflag,
			Mode:     hdr.FileInfo().Mode(),
			UID:      hdr.Uid,
			GID:      hdr.Gid,
			Size:     hdr.Size,
			Linkname: hdr.Linkname,
		}

		if hdr.Typeflag == tar.TypeReg {
			digester := digest.Canonical.Digester()
			var w io.Writer = digester.Hash()

			var captured *strings.Builder
			if slices.Contains(wanted, e.Path) {
				captured = &strings.Builder{}
				w = io.MultiWriter(w, captured)
			}

			if _, err := io.Copy(w, tr); err != nil {
				return nil, errx.Wrapf(ErrArchive, "layer %s, %s: %w", desc.Digest, e.Path, err)
			}
			e.Digest = digester.Digest()

			if captured != nil {
				layer.Contents[e.Path] = []byte(captured.String())
			}
		}

		layer.Entries = append(layer.Entries, e)
	}

	return layer, nil
}

// Finds the topmost regular file at p, searching layers from the top.
//
// A whiteout for p in a higher layer hides lower copies.
func (img *Image) Find(p string, capture bool) (Entry, []byte, error) {
	p = cleanPath(p)
	whiteout := path.Join(path.Dir(p), whiteoutPrefix+path.Base(p))

	var names []string
	if capture {
		names = []string{p}
	}

	for i := img.LayerCount() - 1; i >= 0; i-- {
		layer, err := img.Layer(i, names...)
		if err != nil {
			return Entry{}, nil, err
		}
		if _, ok := layer.Lookup(whiteout); ok {
			break
		}
		if e, ok := layer.Lookup(p); ok && e.Type == tar.TypeReg {
			return e, layer.Contents[p], nil
		}
	}

	return Entry{}, nil, errx.Wrapf(ErrNotFound, "/%s", p)
}

// Wraps a layer blob in the decompressor its media type calls for.
func decompress(r io.Reader, mediaType string) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(mediaType, "+gzip"), strings.HasSuffix(mediaType, ".tar.gzip"):
		return gzip.NewReader(r)
	case strings.HasSuffix(mediaType, "+zstd"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}
