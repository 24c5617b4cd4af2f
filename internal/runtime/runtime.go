package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"
	"slices"
	"strings"
	"syscall"
	"time"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/TheAppgineer/zpbuild/internal/errx"
	"github.com/TheAppgineer/zpbuild/internal/manifest"
)

const (

	// Default snapshotter for container filesystems. Rootless setups can
	// select fuse-overlayfs with [WithSnapshotter].
	DefaultSnapshotter = "overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client      *containerd.Client // Containerd client for managing containers and images.
	snapshotter string             // Snapshotter used to unpack images and create containers.
}

// Configures a [Runtime].
type Option func(*Runtime)

// Selects the snapshotter used for unpacking and container snapshots.
func WithSnapshotter(name string) Option {
	return func(rt *Runtime) {
		if name != "" {
			rt.snapshotter = name
		}
	}
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations to a single tenant. The
// runtime must be closed when no longer needed.
func New(address, namespace string, opts ...Option) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, errx.Wrap(ErrRuntime, err)
	}
	rt := &Runtime{client: client, snapshotter: DefaultSnapshotter}
	for _, opt := range opts {
		opt(rt)
	}
	return rt, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Locally available base image of a stage.
type Base struct {
	Tag    string        // Image record name to start containers from.
	Digest digest.Digest // Config digest of the platform's image.
}

// Makes the base image available for the target platform.
//
// Registry references are pulled and unpacked unless an image with that
// name already exists locally. Archives are imported into the content store
// and tagged with a deterministic name derived from the path. The returned
// digest identifies the image content selected for the platform, so it
// changes when the tag or archive is updated.
func (rt *Runtime) PrepareBase(ctx context.Context, from manifest.Source, platform string) (Base, error) {
	platform = platformOrDefault(platform)

	var tag string
	switch from.Kind {
	case manifest.SourceArchive:
		tag = imageTag(from.Value)
		if err := rt.importTagged(ctx, from.Value, tag, platform); err != nil {
			return Base{}, err
		}
	default:
		tag = from.Value
		if err := rt.ensurePulled(ctx, tag, platform); err != nil {
			return Base{}, err
		}
	}

	image, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return Base{}, errx.Wrap(ErrRuntime, err)
	}
	config, err := image.Config(ctx)
	if err != nil {
		return Base{}, errx.Wrapf(ErrRuntime, "%s: %w", tag, err)
	}

	return Base{Tag: tag, Digest: config.Digest}, nil
}

// Makes the base image available for the target platform and starts a
// container from it.
//
// A long-running task (sleep infinity) is started so that subsequent Exec
// calls have a running process to attach to. Any existing container with
// the same ID is removed before the new one is created. Building for a
// platform other than the host requires QEMU / binfmt_misc support in the
// kernel.
func (rt *Runtime) StartContainer(ctx context.Context, from manifest.Source, id, platform string) (*Container, error) {
	base, err := rt.PrepareBase(ctx, from, platform)
	if err != nil {
		return nil, err
	}
	return rt.StartFromTag(ctx, base.Tag, id, platform)
}

// Pulls a registry image for the platform unless it already exists, then
// makes sure it is unpacked.
func (rt *Runtime) ensurePulled(ctx context.Context, ref, platform string) error {
	ok, err := rt.HasImage(ctx, ref)
	if err != nil {
		return err
	}
	if ok {
		if err := rt.unpackImage(ctx, ref, platform); err != nil {
			return errx.Wrap(ErrRuntime, err)
		}
		return nil
	}

	slog.Info("pulling base image", "ref", ref, "platform", platform)

	start := time.Now()
	_, err = rt.client.Pull(ctx, ref,
		containerd.WithPlatform(platform),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(rt.snapshotter),
	)
	if err != nil {
		return errx.Wrapf(ErrPull, "%s: %w", ref, err)
	}

	slog.Debug("image pulled", "ref", ref, "elapsed", time.Since(start))
	return nil
}

// Imports an OCI archive, tags it, and unpacks it for the platform.
func (rt *Runtime) importTagged(ctx context.Context, path, tag, platform string) error {
	source, err := rt.importArchive(ctx, path)
	if err != nil {
		return errx.Wrap(ErrRuntime, err)
	}

	if err := putImage(ctx, rt.client.ImageService(), tag, source.Target); err != nil {
		return errx.Wrap(ErrRuntime, err)
	}
	if source.Name != tag {
		_ = rt.client.ImageService().Delete(ctx, source.Name)
	}

	if err := rt.unpackImage(ctx, tag, platform); err != nil {
		return errx.Wrap(ErrRuntime, err)
	}

	slog.Debug("archive imported", "path", path, "tag", tag)
	return nil
}

// Imports an OCI archive into the content store.
//
// The archive must contain exactly one image. Multi-platform archives
// are supported (single OCI index with per-platform manifests).
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	// One record per entry in index.json. A multi-platform archive has a
	// single entry referencing per-platform manifests.
	if len(imported) == 0 {
		return images.Image{}, ErrEmptyArchive
	} else if len(imported) > 1 {
		return images.Image{}, ErrMultipleImages
	}

	return imported[0], nil
}

// Points a tag at the given target descriptor, creating or updating the
// image record.
func putImage(ctx context.Context, is images.Store, tag string, target ocispec.Descriptor) error {
	img := images.Image{
		Name:   tag,
		Target: target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}
	return nil
}

// Unpacks the image layers for the target platform into the snapshotter.
func (rt *Runtime) unpackImage(ctx context.Context, tag, platform string) error {
	image, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return err
	}

	return image.Unpack(ctx, rt.snapshotter)
}

// Looks up a tagged image and selects the manifest for the given platform.
//
// Multi-platform images contain manifests for multiple architectures. This
// method selects one, so that subsequent operations target the correct
// architecture.
func (rt *Runtime) resolveImage(ctx context.Context, tag, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}

// Produces a containerd image tag from an archive path.
//
// The path is hashed to produce a tag that is always valid for OCI references
// regardless of which characters the path contains.
func imageTag(path string) string {
	h := sha256.Sum256([]byte(path))
	return fmt.Sprintf("import/%s:latest", hex.EncodeToString(h[:]))
}

// Returns the default OCI platform for the host architecture.
func defaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}

func platformOrDefault(p string) string {
	if p == "" {
		return defaultPlatform()
	}
	return p
}

// Starts a container from an image that already exists locally, such as a
// committed cache image.
//
// Any stale container with the same ID is cleaned up first. The image is
// unpacked for the platform if needed and the container runs detached with a
// long-running task.
func (rt *Runtime) StartFromTag(ctx context.Context, tag, id, platform string) (*Container, error) {
	platform = platformOrDefault(platform)

	c := &Container{
		client:      rt.client,
		id:          id,
		platform:    platform,
		snapshotter: rt.snapshotter,
	}

	c.remove(ctx)

	image, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return nil, errx.Wrap(ErrRuntime, err)
	}

	if err := image.Unpack(ctx, rt.snapshotter); err != nil {
		return nil, errx.Wrap(ErrRuntime, err)
	}

	ctr, err := c.create(ctx, image)
	if err != nil {
		return nil, errx.Wrap(ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, errx.Wrap(ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", tag, "platform", platform)
	return c, nil
}

// Reports whether an image record with the given name exists.
func (rt *Runtime) HasImage(ctx context.Context, tag string) (bool, error) {
	_, err := rt.client.ImageService().Get(ctx, tag)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, errx.Wrap(ErrRuntime, err)
}

// Summary of a stored image record.
type ImageInfo struct {
	Name      string
	Digest    digest.Digest
	CreatedAt time.Time
}

// Lists stored images whose names start with prefix, sorted by name.
func (rt *Runtime) ListImages(ctx context.Context, prefix string) ([]ImageInfo, error) {
	all, err := rt.client.ImageService().List(ctx)
	if err != nil {
		return nil, errx.Wrap(ErrRuntime, err)
	}
	return filterImages(all, prefix), nil
}

func filterImages(all []images.Image, prefix string) []ImageInfo {
	var out []ImageInfo
	for _, img := range all {
		if !strings.HasPrefix(img.Name, prefix) {
			continue
		}
		out = append(out, ImageInfo{
			Name:      img.Name,
			Digest:    img.Target.Digest,
			CreatedAt: img.CreatedAt,
		})
	}
	slices.SortFunc(out, func(a, b ImageInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Removes an image and all containers created from it.
//
// Containers are discovered by querying containerd for records whose image
// field matches the tag. Each container's task is killed before the container
// and its snapshot are deleted.
func (rt *Runtime) DestroyImage(ctx context.Context, tag string) error {
	ctrs, err := rt.client.Containers(ctx, fmt.Sprintf("image==%s", tag))
	if err != nil {
		return errx.Wrap(ErrRuntime, err)
	}

	for _, ctr := range ctrs {
		if task, taskErr := ctr.Task(ctx, nil); taskErr == nil {
			task.Kill(ctx, syscall.SIGKILL)
			task.Delete(ctx, containerd.WithProcessKill)
		}
		if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
			return errx.Wrap(ErrRuntime, err)
		}
	}

	if err := rt.client.ImageService().Delete(ctx, tag); err != nil && !errdefs.IsNotFound(err) {
		return errx.Wrap(ErrRuntime, err)
	}

	slog.Debug("image destroyed", "tag", tag)
	return nil
}
