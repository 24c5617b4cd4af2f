package inspect

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
)

// A file in a synthetic layer.
type testFile struct {
	path    string
	mode    int64
	uid     int
	gid     int
	content string
	dir     bool
}

type testImage struct {
	platform    ocispec.Platform
	config      ocispec.ImageConfig
	layers      [][]testFile
	compression string // "gzip", "zstd" or "" for plain tar
	nestIndex   bool
}

func layerTar(t *testing.T, files []testFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		hdr := &tar.Header{Name: f.path, Mode: f.mode, Uid: f.uid, Gid: f.gid}
		if f.dir {
			hdr.Typeflag = tar.TypeDir
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(f.content))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !f.dir {
			_, err := tw.Write([]byte(f.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func compress(t *testing.T, data []byte, kind string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	switch kind {
	case "gzip":
		w := gzip.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes(), ocispec.MediaTypeImageLayerGzip
	case "zstd":
		w, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes(), ocispec.MediaTypeImageLayerZstd
	default:
		return data, ocispec.MediaTypeImageLayer
	}
}

// Writes an OCI archive for spec and returns its path.
func writeArchive(t *testing.T, spec testImage) string {
	t.Helper()

	blobs := map[digest.Digest][]byte{}
	put := func(mediaType string, data []byte) ocispec.Descriptor {
		d := digest.FromBytes(data)
		blobs[d] = data
		return ocispec.Descriptor{MediaType: mediaType, Digest: d, Size: int64(len(data))}
	}
	putJSON := func(mediaType string, v any) ocispec.Descriptor {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		return put(mediaType, data)
	}

	cfg := ocispec.Image{Platform: spec.platform, Config: spec.config}
	var layers []ocispec.Descriptor
	for _, files := range spec.layers {
		raw := layerTar(t, files)
		cfg.RootFS.DiffIDs = append(cfg.RootFS.DiffIDs, digest.FromBytes(raw))
		data, mediaType := compress(t, raw, spec.compression)
		layers = append(layers, put(mediaType, data))
	}
	cfg.RootFS.Type = "layers"

	manifest := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    putJSON(ocispec.MediaTypeImageConfig, cfg),
		Layers:    layers,
	}
	root := putJSON(ocispec.MediaTypeImageManifest, manifest)

	if spec.nestIndex {
		root = putJSON(ocispec.MediaTypeImageIndex, ocispec.Index{
			Versioned: specs.Versioned{SchemaVersion: 2},
			MediaType: ocispec.MediaTypeImageIndex,
			Manifests: []ocispec.Descriptor{root},
		})
	}

	index, err := json.Marshal(ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{root},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	writeFile := func(name string, data []byte) {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	writeFile(ocispec.ImageLayoutFile, []byte(`{"imageLayoutVersion":"1.0.0"}`))
	for d, data := range blobs {
		writeFile(filepath.ToSlash(filepath.Join("blobs", d.Algorithm().String(), d.Encoded())), data)
	}
	writeFile(ocispec.ImageIndexFile, index)
	require.NoError(t, tw.Close())

	path := filepath.Join(t.TempDir(), "image.tar")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

const (
	binary = "/home/worker/roon-extension-zone-presets"
	passwd = "root:x:0:0:root:/root:/bin/bash\nworker:x:1000:1000::/home/worker:/bin/sh\n"
	group  = "root:x:0:\nworker:x:1000:\n"
)

func baseLayer() []testFile {
	return []testFile{
		{path: "etc/", dir: true, mode: 0o755},
		{path: "etc/passwd", mode: 0o644, content: "root:x:0:0:root:/root:/bin/bash\n"},
		{path: "etc/group", mode: 0o644, content: "root:x:0:\n"},
		{path: "usr/bin/sh", mode: 0o755, content: "elf"},
	}
}

func runtimeLayer(binContent string) []testFile {
	return []testFile{
		{path: "etc/passwd", mode: 0o644, content: passwd},
		{path: "etc/group", mode: 0o644, content: group},
		{path: "etc/shadow", mode: 0o640, content: "worker:!:19000::::::\n"},
		{path: "home/worker/", dir: true, mode: 0o755, uid: 1000, gid: 1000},
		{path: "home/worker/.profile", mode: 0o644, uid: 1000, gid: 1000, content: "# profile\n"},
		{path: "home/worker/roon-extension-zone-presets", mode: 0o755, uid: 1000, gid: 1000, content: binContent},
	}
}

func goodImage() testImage {
	return testImage{
		platform: ocispec.Platform{OS: "linux", Architecture: "arm", Variant: "v7"},
		config: ocispec.ImageConfig{
			User: "worker",
			Cmd:  []string{binary},
		},
		layers:      [][]testFile{baseLayer(), runtimeLayer("zone presets")},
		compression: "gzip",
	}
}

func TestOpen(t *testing.T) {
	for _, tc := range []struct {
		name string
		mod  func(*testImage)
	}{
		{name: "gzip", mod: func(*testImage) {}},
		{name: "zstd", mod: func(s *testImage) { s.compression = "zstd" }},
		{name: "uncompressed", mod: func(s *testImage) { s.compression = "" }},
		{name: "nested index", mod: func(s *testImage) { s.nestIndex = true }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			spec := goodImage()
			tc.mod(&spec)

			img, err := Open(writeArchive(t, spec))
			require.NoError(t, err)
			require.Equal(t, 2, img.LayerCount())
			require.Equal(t, "arm", img.Platform().Architecture)
			require.Equal(t, []string{binary}, img.Config.Config.Cmd)

			top, err := img.Layer(-1, "etc/passwd")
			require.NoError(t, err)
			require.Equal(t, passwd, string(top.Contents["etc/passwd"]))

			e, ok := top.Lookup(binary)
			require.True(t, ok)
			require.True(t, e.IsExecutable())
			require.Equal(t, digest.FromString("zone presets"), e.Digest)
			require.Equal(t, 1000, e.UID)
		})
	}
}

func TestOpenMissingIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.tar")
	var buf bytes.Buffer
	require.NoError(t, tar.NewWriter(&buf).Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err := Open(path)
	require.ErrorIs(t, err, ErrArchive)
}

func TestOpenNotATar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.tar")
	require.NoError(t, os.WriteFile(path, []byte("not a tar"), 0o644))

	_, err := Open(path)
	require.ErrorIs(t, err, ErrArchive)
}

func TestLayerOutOfRange(t *testing.T) {
	img, err := Open(writeArchive(t, goodImage()))
	require.NoError(t, err)

	_, err = img.Layer(2)
	require.ErrorIs(t, err, ErrArchive)
	_, err = img.Layer(-3)
	require.ErrorIs(t, err, ErrArchive)
}

func TestFindSearchesDownward(t *testing.T) {
	spec := goodImage()
	spec.layers = append(spec.layers, []testFile{{path: "home/worker/note.txt", mode: 0o644, content: "n"}})

	img, err := Open(writeArchive(t, spec))
	require.NoError(t, err)

	_, data, err := img.Find("/etc/group", true)
	require.NoError(t, err)
	require.Equal(t, group, string(data))

	_, _, err = img.Find("/nope", false)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindHonoursWhiteout(t *testing.T) {
	spec := goodImage()
	spec.layers = append(spec.layers, []testFile{{path: "home/worker/.wh.roon-extension-zone-presets", mode: 0o644}})

	img, err := Open(writeArchive(t, spec))
	require.NoError(t, err)

	_, _, err = img.Find(binary, false)
	require.ErrorIs(t, err, ErrNotFound)
}
