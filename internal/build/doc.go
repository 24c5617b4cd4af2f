// Package build orchestrates recipe execution against containerd.
//
// A recipe is an ordered sequence of stages, each backed by a container
// created from a base image. The build pipeline starts a container for
// each stage, dispatches its steps (shell commands, file copies, and
// inter-stage transfers), and exports the final non-transient stage as
// an OCI image. Multi-platform builds repeat the pipeline per platform,
// writing each result to a platform-specific output directory.
//
// Container operations are delegated to the runtime package. Step state
// (environment variables, working directory, shell, user) is accumulated
// across steps within a stage and reset between stages. Any failing step
// aborts the build.
//
// When caching is enabled, top-level checkpoint steps commit the stage
// container to a local image whose tag is derived from everything that
// produced it: the base image, the platform, the preceding steps and the
// content of every host file they copy. A later build with the same inputs
// starts the stage from that image and resumes after the checkpoint.
//
// Example usage:
//
//	result, err := build.Run(ctx, rt, build.Options{
//	    Recipe:    recipe,
//	    Resource:  "roon-extension-zone-presets",
//	    Output:    "dist",
//	    Root:      ".",
//	    Platforms: []string{"linux/arm/v7"},
//	    Cache:     true,
//	})
//	if err != nil {
//	    return err
//	}
package build
