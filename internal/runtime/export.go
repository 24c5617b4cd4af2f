package runtime

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/images/archive"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/TheAppgineer/zpbuild/internal/errx"
	"github.com/TheAppgineer/zpbuild/internal/manifest"
	"github.com/TheAppgineer/zpbuild/internal/paths"
)

// Filename of the OCI archive produced by Export.
const ExportFilename = "image.tar"

// Identifies layers produced by this tool in the image history.
const historyCreatedBy = "zpbuild"

// Writes the container's image plus its filesystem changes to
// output/image.tar.
//
// The snapshot diff becomes one new layer and cfg replaces the runtime
// configuration of the base image. created is recorded as the image and
// history timestamp, so unchanged inputs produce the same config. The stored
// image record is left alone: the new manifest, config and index exist only
// as leased blobs for the duration of the export.
func (c *Container) Export(ctx context.Context, output string, cfg manifest.ImageConfig, created time.Time) error {
	ctx, done, err := c.client.WithLease(ctx)
	if err != nil {
		return errx.Wrap(ErrRuntime, err)
	}
	defer done(context.Background())

	imageName, target, layer, err := c.layered(ctx, func(m *ocispec.Manifest, config *ocispec.Image, layer ocispec.Descriptor, diffID digest.Digest) {
		appendLayer(m, config, layer, diffID, created)
		applyImageConfig(config, cfg, created)
	})
	if err != nil {
		return errx.Wrap(ErrRuntime, err)
	}

	if err := os.MkdirAll(output, paths.DefaultDirMode); err != nil {
		return errx.Wrap(ErrRuntime, err)
	}

	exportPath := filepath.Join(output, ExportFilename)
	if err := c.writeArchive(ctx, target, imageName, exportPath); err != nil {
		return errx.Wrap(ErrRuntime, err)
	}

	slog.Info("image exported", "path", exportPath, "layer", layer.Digest)
	return nil
}

// Stores the container's image plus its filesystem changes as a local image
// under tag, with the runtime configuration unchanged. The image record keeps
// the new blobs reachable, so [Runtime.StartFromTag] can start from it later.
func (c *Container) Commit(ctx context.Context, tag string) error {
	ctx, done, err := c.client.WithLease(ctx)
	if err != nil {
		return errx.Wrap(ErrRuntime, err)
	}
	defer done(context.Background())

	_, target, layer, err := c.layered(ctx, func(m *ocispec.Manifest, config *ocispec.Image, layer ocispec.Descriptor, diffID digest.Digest) {
		appendLayer(m, config, layer, diffID, time.Time{})
	})
	if err != nil {
		return errx.Wrap(ErrRuntime, err)
	}

	if err := putImage(ctx, c.client.ImageService(), tag, target); err != nil {
		return errx.Wrap(ErrRuntime, err)
	}

	slog.Debug("container committed", "id", c.id, "tag", tag, "layer", layer.Digest)
	return nil
}

// Receives the manifest and config of the container's image together with
// the new layer, and edits them in place.
type layerFunc func(m *ocispec.Manifest, config *ocispec.Image, layer ocispec.Descriptor, diffID digest.Digest)

// Diffs the container's snapshot against its parent and writes an image
// target with the diff applied through fn. Returns the name of the
// container's image, the new target and the layer.
func (c *Container) layered(ctx context.Context, fn layerFunc) (string, ocispec.Descriptor, ocispec.Descriptor, error) {
	info, err := c.info(ctx)
	if err != nil {
		return "", ocispec.Descriptor{}, ocispec.Descriptor{}, err
	}

	layer, diffID, err := c.snapshotDiff(ctx, info)
	if err != nil {
		return "", ocispec.Descriptor{}, ocispec.Descriptor{}, err
	}

	target, err := c.rewriteImage(ctx, info.Image, func(m *ocispec.Manifest, config *ocispec.Image) {
		fn(m, config, layer, diffID)
	})
	if err != nil {
		return "", ocispec.Descriptor{}, ocispec.Descriptor{}, err
	}
	return info.Image, target, layer, nil
}

func (c *Container) info(ctx context.Context) (containers.Container, error) {
	loaded, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return containers.Container{}, err
	}
	return loaded.Info(ctx)
}

// Creates the layer holding the changes of the container's snapshot.
func (c *Container) snapshotDiff(ctx context.Context, info containers.Container) (ocispec.Descriptor, digest.Digest, error) {
	layer, err := rootfs.CreateDiff(ctx,
		info.SnapshotKey,
		c.client.SnapshotService(info.Snapshotter),
		c.client.DiffService(),
	)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	diffID, err := images.GetDiffID(ctx, c.client.ContentStore(), layer)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}
	return layer, diffID, nil
}

// Appends a layer to the manifest and its diff ID and history entry to the
// config.
func appendLayer(m *ocispec.Manifest, config *ocispec.Image, layer ocispec.Descriptor, diffID digest.Digest, created time.Time) {
	m.Layers = append(m.Layers, layer)
	config.RootFS.DiffIDs = append(config.RootFS.DiffIDs, diffID)

	h := ocispec.History{CreatedBy: historyCreatedBy}
	if !created.IsZero() {
		t := created.UTC()
		h.Created = &t
	}
	config.History = append(config.History, h)
}

// Replaces the runtime configuration of an image config.
//
// Entrypoint and command are always replaced, so a base image entrypoint
// never survives. Labels are merged over the base labels. Environment
// variables of the base image are kept.
func applyImageConfig(config *ocispec.Image, cfg manifest.ImageConfig, created time.Time) {
	config.Config.Entrypoint = slices.Clone(cfg.Entrypoint)
	config.Config.Cmd = slices.Clone(cfg.Cmd)
	if cfg.User != "" {
		config.Config.User = cfg.User
	}
	if cfg.WorkingDir != "" {
		config.Config.WorkingDir = cfg.WorkingDir
	}
	if len(cfg.Labels) > 0 {
		if config.Config.Labels == nil {
			config.Config.Labels = make(map[string]string, len(cfg.Labels))
		}
		maps.Copy(config.Config.Labels, cfg.Labels)
	}
	if !created.IsZero() {
		t := created.UTC()
		config.Created = &t
	}
}

// Writes target as an OCI tar archive at path, restricted to the
// container's platform. imageName becomes the reference annotation.
func (c *Container) writeArchive(ctx context.Context, target ocispec.Descriptor, imageName, path string) error {
	p, err := platforms.Parse(c.platform)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := c.client.Export(ctx, f,
		archive.WithManifest(target, imageName),
		archive.WithPlatform(platforms.Only(p)),
	); err != nil {
		return err
	}
	return f.Close()
}
