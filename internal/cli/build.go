package cli

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"time"

	"github.com/TheAppgineer/zpbuild/internal/build"
	"github.com/TheAppgineer/zpbuild/internal/client"
	"github.com/TheAppgineer/zpbuild/internal/manifest"
	"github.com/TheAppgineer/zpbuild/internal/protocol"
	"github.com/TheAppgineer/zpbuild/internal/zonepresets"
)

// Represents the 'zpbuild build' command.
type BuildCmd struct {
	ArchFlag
	ToolchainFlags
	FetchModeFlag
	RuntimeFlags

	Context         string            `short:"C" help:"Build context holding Cargo.toml, Cargo.lock, LICENSE, README.md and src/." type:"existingdir" default:"." env:"ZPBUILD_CONTEXT"`
	Output          string            `short:"o" help:"Directory for the exported image." type:"path" default:"dist" env:"ZPBUILD_OUTPUT"`
	Recipe          string            `help:"Build from a YAML or HCL recipe instead of the built-in one." type:"existingfile" placeholder:"PATH"`
	Var             map[string]string `help:"Override a recipe variable." placeholder:"KEY=VALUE"`
	Jobs            int               `short:"j" help:"Cargo parallelism. Zero uses the builder's processor count." env:"ZPBUILD_JOBS"`
	NoCache         bool              `help:"Neither reuse nor commit checkpoint images." env:"ZPBUILD_NO_CACHE"`
	NoVerify        bool              `help:"Skip checking the exported image."`
	SourceDateEpoch int64             `help:"Creation time recorded in the image, in Unix seconds." env:"SOURCE_DATE_EPOCH" placeholder:"SECONDS"`
	Daemon          bool              `help:"Run the build in the daemon instead of in-process." env:"ZPBUILD_DAEMON"`
}

// Executes the build command.
//
// Resolves the recipe, runs it locally or through the daemon, and checks the
// exported image unless told otherwise.
func (c *BuildCmd) Run(ctx context.Context, g *Globals) error {
	arch, err := c.arch()
	if err != nil {
		return err
	}

	req, err := c.request(ctx, arch)
	if err != nil {
		return err
	}

	started := time.Now()

	var result *protocol.BuildResult
	if c.Daemon {
		result, err = client.Dial(g.Socket).Build(ctx, *req)
	} else {
		result, err = c.buildLocal(ctx, req)
	}
	if err != nil {
		return err
	}

	slog.Info("build finished",
		"images", result.Images,
		"cache_hits", len(result.CacheHits),
		"committed", len(result.Committed),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)

	if !c.NoVerify {
		for _, image := range result.Images {
			if err := verifyImage(image, zonepresets.Expect(arch)); err != nil {
				return err
			}
		}
	}

	for _, image := range result.Images {
		fmt.Println(image)
	}
	return nil
}

// Assembles the build request. Paths are made absolute so a daemon running
// elsewhere resolves them the same way.
func (c *BuildCmd) request(ctx context.Context, arch zonepresets.Arch) (*protocol.BuildRequest, error) {
	root, err := filepath.Abs(c.Context)
	if err != nil {
		return nil, err
	}
	output, err := filepath.Abs(c.Output)
	if err != nil {
		return nil, err
	}

	recipe, err := c.resolveRecipe(ctx, arch)
	if err != nil {
		return nil, err
	}

	return &protocol.BuildRequest{
		Recipe:          recipe,
		Resource:        zonepresets.BinaryName,
		Output:          output,
		Root:            root,
		Image:           zonepresets.ImageConfig(),
		Platforms:       []string{arch.Platform()},
		Cache:           !c.NoCache,
		SourceDateEpoch: c.SourceDateEpoch,
	}, nil
}

// Returns the built-in recipe for arch, or the recipe file when one is given.
//
// In host fetch mode the installer is downloaded and verified first. A recipe
// file rendered in host mode refers to the same cached installer.
func (c *BuildCmd) resolveRecipe(ctx context.Context, arch zonepresets.Arch) (*manifest.Recipe, error) {
	fetch, err := c.fetchMode()
	if err != nil {
		return nil, err
	}

	opts := zonepresets.DefaultOptions(arch)
	opts.Pin = c.pin()
	opts.Fetch = fetch
	opts.Jobs = c.Jobs

	if fetch == zonepresets.FetchHost {
		fetcher, err := c.fetcher()
		if err != nil {
			return nil, err
		}
		if opts.Installer, err = fetcher.Fetch(ctx, opts.Pin, arch.Triple()); err != nil {
			return nil, err
		}
	}

	if c.Recipe == "" {
		if len(c.Var) > 0 {
			slog.Warn("recipe variables ignored without --recipe", "vars", c.Var)
		}
		return zonepresets.Recipe(opts)
	}

	vars := map[string]string{zonepresets.ArchVariable: string(arch)}
	maps.Copy(vars, c.Var)
	return manifest.Load(c.Recipe, vars)
}

// Runs the build in-process against containerd.
func (c *BuildCmd) buildLocal(ctx context.Context, req *protocol.BuildRequest) (*protocol.BuildResult, error) {
	rt, err := c.open()
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	var created time.Time
	if req.SourceDateEpoch > 0 {
		created = time.Unix(req.SourceDateEpoch, 0)
	}

	result, err := build.Run(ctx, rt, build.Options{
		Recipe:          req.Recipe,
		Resource:        req.Resource,
		Output:          req.Output,
		Root:            req.Root,
		Image:           req.Image,
		Platforms:       req.Platforms,
		Cache:           req.Cache,
		SourceDateEpoch: created,
	})
	if err != nil {
		return nil, err
	}

	return &protocol.BuildResult{
		Output:    result.Output,
		Images:    result.Images,
		CacheHits: result.CacheHits,
		Committed: result.Committed,
	}, nil
}
