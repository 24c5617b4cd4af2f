package runtime

import (
	"context"
	"log/slog"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/TheAppgineer/zpbuild/internal/errx"
)

// A running build container backed by containerd.
type Container struct {
	client      *containerd.Client // Containerd client for managing the container.
	id          string             // Unique identifier for the container, used as the containerd container ID.
	platform    string             // OCI platform (e.g., "linux/arm/v7").
	snapshotter string             // Snapshotter holding the container's rootfs.
}

// Returns the container ID.
func (c *Container) ID() string {
	return c.id
}

// Returns the OCI platform the container runs.
func (c *Container) Platform() string {
	return c.platform
}

// Kills and deletes the container's task. The container and its snapshot
// stay, so the rootfs can still be diffed. Stopping a container that has no
// task is not an error.
func (c *Container) Stop(ctx context.Context) error {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return errx.Wrap(ErrRuntime, err)
	}
	if err := killTask(ctx, ctr); err != nil {
		return errx.Wrap(ErrRuntime, err)
	}
	return nil
}

// Removes the container and its snapshot. Failures are logged; the handle is
// invalid afterwards.
func (c *Container) Destroy(ctx context.Context) {
	if err := c.delete(ctx); err != nil {
		slog.Warn("failed to destroy container", "id", c.id, "error", err)
	}
}

func (c *Container) delete(ctx context.Context) error {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := killTask(ctx, ctr); err != nil {
		return err
	}
	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

func killTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.Task(ctx, nil)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	task.Kill(ctx, syscall.SIGKILL)
	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

// Creates the containerd container. Its process only sleeps; steps run as
// additional execs. The host network is shared for apt and cargo.
func (c *Container) create(ctx context.Context, image containerd.Image) (containerd.Container, error) {
	return c.client.NewContainer(ctx, c.id,
		containerd.WithImage(image),
		containerd.WithSnapshotter(c.snapshotter),
		containerd.WithNewSnapshot(c.id, image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(
			oci.WithDefaultSpecForPlatform(c.platform),
			oci.WithImageConfig(image),
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostResolvconf,
			oci.WithProcessArgs("sleep", "infinity"),
		),
	)
}

// Starts the container's long-running task with no attached IO.
func (c *Container) startTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return err
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return err
	}
	return nil
}

// Removes a leftover container with this ID from an interrupted build.
func (c *Container) remove(ctx context.Context) {
	if err := c.delete(ctx); err != nil {
		slog.Debug("stale container not removed", "id", c.id, "error", err)
	}
}
