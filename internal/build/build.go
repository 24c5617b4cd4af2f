package build

import (
	"context"
	"log/slog"
	"os"
	goruntime "runtime"
	"time"

	"github.com/TheAppgineer/zpbuild/internal/errx"
	"github.com/TheAppgineer/zpbuild/internal/manifest"
	"github.com/TheAppgineer/zpbuild/internal/paths"
	"github.com/TheAppgineer/zpbuild/internal/runtime"
)

// Controls recipe execution.
type Options struct {
	Recipe          *manifest.Recipe     // Recipe to execute, already expanded and validated.
	Resource        string               // Resource name, used as a prefix for container IDs and cache tags.
	Output          string               // Directory for the exported image.
	Root            string               // Build context, for resolving copy sources.
	Image           manifest.ImageConfig // Runtime configuration of the output image.
	Platforms       []string             // Target platforms (e.g., ["linux/amd64"]). Defaults to host.
	Cache           bool                 // Whether checkpoints are committed and reused.
	SourceDateEpoch time.Time            // Creation time recorded in the image. Zero uses the current time.
}

// Returned after successful recipe execution.
type Result struct {
	Output    string   // Directory containing the exported image.
	Images    []string // Exported archive per platform, in platform order.
	CacheHits []string // Checkpoint images a stage resumed from.
	Committed []string // Checkpoint images committed during the build.
}

// Executes a recipe against the container runtime.
//
// Stages are built in declaration order. Each stage starts a container from
// its base image, executes the stage's steps, and the non-transient stage is
// exported as the final image to the output directory.
func Run(ctx context.Context, rt *runtime.Runtime, opts Options) (*Result, error) {
	if opts.Recipe == nil {
		return nil, errx.Wrapf(ErrBuild, "no recipe")
	}
	if len(opts.Platforms) == 0 {
		opts.Platforms = []string{"linux/" + goruntime.GOARCH}
	}
	if opts.SourceDateEpoch.IsZero() {
		opts.SourceDateEpoch = time.Now()
	}

	slog.Info("executing recipe",
		"resource", opts.Resource,
		"output", opts.Output,
		"stages", len(opts.Recipe.Stages),
		"platforms", opts.Platforms,
		"cache", opts.Cache,
	)

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return nil, errx.Wrap(ErrFileSystemOperation, err)
	}

	return newRecipe(rt, opts).build(ctx, opts.Recipe.Stages)
}
