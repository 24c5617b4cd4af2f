package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheAppgineer/zpbuild/internal/errx"
	"github.com/TheAppgineer/zpbuild/internal/manifest"
	"github.com/TheAppgineer/zpbuild/internal/paths"
	"github.com/TheAppgineer/zpbuild/internal/runtime"
)

// Holds shared state for building all stages of a recipe.
type recipe struct {
	rt         *runtime.Runtime     // Container runtime for image and container operations.
	resource   string               // Resource name, used as a prefix for container IDs.
	output     string               // Output directory for the final build artifact.
	context    string               // Build context, root for resolving copy sources.
	image      manifest.ImageConfig // Runtime configuration of the output image.
	platforms  []string             // Target platforms to build for.
	cache      bool                 // Whether checkpoints are committed and reused.
	created    time.Time            // Creation time recorded in the output image.
	containers []*runtime.Container // All stage containers across all platforms, destroyed after the build completes.
	result     Result
}

// Creates a new [recipe] from the given options.
func newRecipe(rt *runtime.Runtime, opts Options) *recipe {
	return &recipe{
		rt:        rt,
		resource:  opts.Resource,
		output:    opts.Output,
		context:   opts.Root,
		image:     opts.Image,
		platforms: opts.Platforms,
		cache:     opts.Cache,
		created:   opts.SourceDateEpoch,
		result:    Result{Output: opts.Output},
	}
}

// Builds the recipe end-to-end against the container runtime.
//
// Each target platform is built independently. Stages are built in declaration
// order for each platform. The non-transient stage is exported as the final
// image to the platform's output directory. All stage containers are destroyed
// when the build completes, also when the context was cancelled.
func (r *recipe) build(ctx context.Context, recipeStages []manifest.Stage) (*Result, error) {
	defer r.destroyContainers(context.WithoutCancel(ctx))

	for _, platform := range r.platforms {
		if err := r.buildPlatform(ctx, recipeStages, platform); err != nil {
			return nil, err
		}
	}

	return &r.result, nil
}

// Builds all stages of the recipe for a single platform.
//
// Each platform maintains its own set of named stage containers for
// cross-stage copy lookups. The output is written to a platform-specific
// subdirectory when building for multiple platforms.
func (r *recipe) buildPlatform(ctx context.Context, recipeStages []manifest.Stage, platform string) error {
	slog.Info("building platform", "platform", platform)

	output := r.platformOutput(platform)
	if err := os.MkdirAll(output, paths.DefaultDirMode); err != nil {
		return errx.Wrap(ErrFileSystemOperation, err)
	}

	stages := make(map[string]*runtime.Container)

	for i, stage := range recipeStages {
		if err := r.buildStage(ctx, stage, i, platform, output, stages); err != nil {
			return errx.Wrapf(ErrBuild, "platform %s, stage %s: %w", platform, stageLabel(stage.Name, i), err)
		}
	}

	r.result.Images = append(r.result.Images, filepath.Join(output, runtime.ExportFilename))
	return nil
}

// Builds a single stage of a recipe for a specific platform.
//
// Resolves the stage's base image and its newest matching checkpoint image,
// starts a build container from the checkpoint when one exists, executes the
// remaining steps, then exports non-transient stages to the output directory.
func (r *recipe) buildStage(ctx context.Context, stage manifest.Stage, index int, platform, output string, stages map[string]*runtime.Container) error {
	label := stageLabel(stage.Name, index)
	slog.Info(fmt.Sprintf("building stage %s", label), "platform", platform)

	src, err := stage.ParseFrom()
	if err != nil {
		return err
	}

	base, err := r.rt.PrepareBase(ctx, src, platform)
	if err != nil {
		return err
	}

	var plan []checkpoint
	if r.cache {
		if plan, err = planCheckpoints(stage, platform, base.Digest, r.context); err != nil {
			return err
		}
	}

	resume, resumeTag, err := r.findCheckpoint(ctx, plan)
	if err != nil {
		return err
	}

	id := r.containerID(stage.Name, index, platform)

	var ctr *runtime.Container
	if resumeTag != "" {
		slog.Info("resuming from checkpoint", "stage", label, "image", resumeTag)
		ctr, err = r.rt.StartFromTag(ctx, resumeTag, id, platform)
		r.result.CacheHits = append(r.result.CacheHits, resumeTag)
	} else {
		ctr, err = r.rt.StartFromTag(ctx, base.Tag, id, platform)
	}
	if err != nil {
		return err
	}

	r.containers = append(r.containers, ctr)
	if stage.Name != "" {
		stages[stage.Name] = ctr
	}

	x := newStageExec(ctr, r.context, stages)
	x.state.replay(stage.Steps[:resume])

	commits := make(map[int]checkpoint, len(plan))
	for _, cp := range plan {
		commits[cp.index] = cp
	}

	for i := resume; i < len(stage.Steps); i++ {
		step := stage.Steps[i]
		if cp, ok := commits[i]; ok {
			if err := r.commitCheckpoint(ctx, ctr, cp); err != nil {
				return err
			}
			continue
		}
		if err := x.executeStep(ctx, step); err != nil {
			return errx.Wrapf(ErrBuild, "step %d: %w", i+1, err)
		}
	}

	if !stage.Transient {
		if err := ctr.Stop(ctx); err != nil {
			return err
		}

		if err := ctr.Export(ctx, output, r.image, r.created); err != nil {
			return err
		}
	}

	return nil
}

// Returns the step index to resume from and the checkpoint image to start
// from, preferring the latest checkpoint whose image exists. Returns zero
// and an empty tag when no checkpoint image exists.
func (r *recipe) findCheckpoint(ctx context.Context, plan []checkpoint) (int, string, error) {
	for i := len(plan) - 1; i >= 0; i-- {
		tag := cacheTag(r.resource, plan[i].key)
		ok, err := r.rt.HasImage(ctx, tag)
		if err != nil {
			return 0, "", errx.Wrap(ErrCache, err)
		}
		if ok {
			return plan[i].index + 1, tag, nil
		}
		slog.Debug("checkpoint not cached", "label", plan[i].label, "image", tag)
	}
	return 0, "", nil
}

// Commits the stage container to the checkpoint's cache image.
func (r *recipe) commitCheckpoint(ctx context.Context, ctr *runtime.Container, cp checkpoint) error {
	tag := cacheTag(r.resource, cp.key)
	if err := ctr.Commit(ctx, tag); err != nil {
		return errx.Wrapf(ErrCache, "checkpoint %q: %w", cp.label, err)
	}
	slog.Info("checkpoint committed", "label", cp.label, "image", tag)
	r.result.Committed = append(r.result.Committed, tag)
	return nil
}

// Destroys all stage containers.
func (r *recipe) destroyContainers(ctx context.Context) {
	for _, ctr := range r.containers {
		ctr.Destroy(ctx)
	}
}

// Returns a unique container ID for a stage, scoped to this resource and platform.
func (r *recipe) containerID(name string, index int, platform string) string {
	slug := platformSlug(platform)
	if name != "" {
		return fmt.Sprintf("%s-%s-stage-%s", r.resource, slug, name)
	}
	return fmt.Sprintf("%s-%s-stage-%d", r.resource, slug, index+1)
}

// Returns the output directory for a specific platform.
//
// When building for a single platform, the output directory is left as-is
// to preserve the {output}/image.tar convention. For multi-platform builds,
// each platform gets a subdirectory (e.g., {output}/linux-arm-v7).
func (r *recipe) platformOutput(platform string) string {
	if len(r.platforms) == 1 {
		return r.output
	}
	return filepath.Join(r.output, platformSlug(platform))
}

// Converts a platform string to a filesystem-safe slug.
func platformSlug(platform string) string {
	return strings.ReplaceAll(platform, "/", "-")
}

// Returns a label for a stage, preferring the name when available and falling
// back to the 1-based index.
func stageLabel(name string, index int) string {
	if name != "" {
		return fmt.Sprintf("%q", name)
	}
	return fmt.Sprintf("%d", index+1)
}
