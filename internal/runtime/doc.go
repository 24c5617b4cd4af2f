// Package runtime manages build containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon and provides the image side of
// a build: base images are pulled from a registry for the target platform,
// or imported from an OCI archive and tagged with a deterministic name
// derived from the archive path. Images are unpacked into the configured
// snapshotter and used to create containers with fresh snapshots.
//
// Each [Container] wraps a running containerd task. Commands run inside the
// container as a given account with per-call environment and working
// directory, files are copied in and out as tar streams, and the filesystem
// state can either be committed to a local image tag (used as a build
// cache) or exported as a new OCI archive. When the container is no longer
// needed it should be destroyed to release its snapshot and task resources.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "zpbuild")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	src := manifest.Source{Kind: manifest.SourceReference, Value: "docker.io/amd64/debian:bookworm-slim"}
//	ctr, err := rt.StartContainer(ctx, src, "build-1", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	result, err := ctr.Exec(ctx, "/bin/sh", "echo hello", nil, "", nil)
//	if err != nil {
//	    return err
//	}
//
//	cfg := manifest.ImageConfig{Cmd: []string{"/app"}}
//	if err := ctr.Export(ctx, "dist", cfg, time.Unix(0, 0)); err != nil {
//	    return err
//	}
package runtime
