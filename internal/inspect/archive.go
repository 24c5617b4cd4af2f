package inspect

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/TheAppgineer/zpbuild/internal/errx"
)

// Blobs larger than this are not held in memory while opening an archive.
// Manifests, configs and indexes are far smaller.
const maxMetadataBlob = 4 << 20

// An image loaded from an OCI archive.
type Image struct {
	Path           string           // Archive path.
	ManifestDigest digest.Digest    // Digest of the selected manifest.
	Manifest       ocispec.Manifest // Image manifest.
	Config         ocispec.Image    // Image configuration.
}

// Reads the index, manifest and config of the OCI archive at path.
//
// Nested indexes are followed to their first manifest; the build exports a
// single platform per archive.
func Open(path string) (*Image, error) {
	blobs, index, err := readMetadata(path)
	if err != nil {
		return nil, err
	}

	if len(index.Manifests) == 0 {
		return nil, errx.Wrapf(ErrArchive, "%s: empty index", path)
	}

	desc := index.Manifests[0]
	for isIndex(desc.MediaType) {
		var nested ocispec.Index
		if err := decodeBlob(blobs, desc, &nested); err != nil {
			return nil, err
		}
		if len(nested.Manifests) == 0 {
			return nil, errx.Wrapf(ErrArchive, "%s: empty nested index %s", path, desc.Digest)
		}
		desc = nested.Manifests[0]
	}

	img := &Image{Path: path, ManifestDigest: desc.Digest}
	if err := decodeBlob(blobs, desc, &img.Manifest); err != nil {
		return nil, err
	}
	if err := decodeBlob(blobs, img.Manifest.Config, &img.Config); err != nil {
		return nil, err
	}

	return img, nil
}

// Returns the platform recorded in the image config.
func (img *Image) Platform() ocispec.Platform {
	return ocispec.Platform{
		OS:           img.Config.OS,
		Architecture: img.Config.Architecture,
		Variant:      img.Config.Variant,
	}
}

// Reads index.json and every small blob in one pass over the archive.
func readMetadata(path string) (map[digest.Digest][]byte, ocispec.Index, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, ocispec.Index{}, errx.Wrap(ErrArchive, err)
	}
	defer fh.Close()

	blobs := make(map[digest.Digest][]byte)
	var index ocispec.Index
	var haveIndex bool

	tr := tar.NewReader(fh)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ocispec.Index{}, errx.Wrap(ErrArchive, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := cleanPath(hdr.Name)
		switch {
		case name == ocispec.ImageIndexFile:
			if err := json.NewDecoder(tr).Decode(&index); err != nil {
				return nil, ocispec.Index{}, errx.Wrapf(ErrArchive, "index.json: %w", err)
			}
			haveIndex = true
		case hdr.Size <= maxMetadataBlob:
			if d, ok := blobDigest(name); ok {
				data, err := io.ReadAll(tr)
				if err != nil {
					return nil, ocispec.Index{}, errx.Wrap(ErrArchive, err)
				}
				blobs[d] = data
			}
		}
	}

	if !haveIndex {
		return nil, ocispec.Index{}, errx.Wrapf(ErrArchive, "%s: missing %s", path, ocispec.ImageIndexFile)
	}
	return blobs, index, nil
}

// Opens the blob with digest d as a stream.
//
// The returned closer releases the archive file.
func (img *Image) openBlob(d digest.Digest) (io.Reader, io.Closer, error) {
	fh, err := os.Open(img.Path)
	if err != nil {
		return nil, nil, errx.Wrap(ErrArchive, err)
	}

	want := path.Join(ocispec.ImageBlobsDir, d.Algorithm().String(), d.Encoded())

	tr := tar.NewReader(fh)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fh.Close()
			return nil, nil, errx.Wrap(ErrArchive, err)
		}
		if cleanPath(hdr.Name) == want {
			return tr, fh, nil
		}
	}

	fh.Close()
	return nil, nil, errx.Wrapf(ErrBlobNotFound, "%s", d)
}

func decodeBlob(blobs map[digest.Digest][]byte, desc ocispec.Descriptor, v any) error {
	data, ok := blobs[desc.Digest]
	if !ok {
		return errx.Wrapf(ErrBlobNotFound, "%s (%s)", desc.Digest, desc.MediaType)
	}
	if desc.Digest.Validate() == nil && desc.Digest.Algorithm().FromBytes(data) != desc.Digest {
		return errx.Wrapf(ErrArchive, "blob %s does not match its digest", desc.Digest)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errx.Wrapf(ErrArchive, "blob %s: %w", desc.Digest, err)
	}
	return nil
}

// Maps "blobs/<alg>/<hex>" to its digest.
func blobDigest(name string) (digest.Digest, bool) {
	rest, ok := strings.CutPrefix(name, ocispec.ImageBlobsDir+"/")
	if !ok {
		return "", false
	}
	alg, encoded, ok := strings.Cut(rest, "/")
	if !ok {
		return "", false
	}
	d := digest.NewDigestFromEncoded(digest.Algorithm(alg), encoded)
	if d.Validate() != nil {
		return "", false
	}
	return d, true
}

func isIndex(mediaType string) bool {
	return mediaType == ocispec.MediaTypeImageIndex ||
		mediaType == "application/vnd.docker.distribution.manifest.list.v2+json"
}

// Normalizes an archive member name to a slash-separated relative path.
func cleanPath(name string) string {
	p := path.Clean("/" + name)
	return strings.TrimPrefix(p, "/")
}
