package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/TheAppgineer/zpbuild/internal/manifest"
	"github.com/TheAppgineer/zpbuild/internal/zonepresets"
)

// Installer location used in rendered Containerfiles, relative to the build
// context.
const contextInstaller = "rustup-init"

// Represents the 'zpbuild render' command.
type RenderCmd struct {
	ArchFlag
	ToolchainFlags
	FetchModeFlag

	Format    string `help:"Output format (${enum})." enum:"yaml,containerfile" default:"yaml"`
	Template  bool   `help:"Leave the base image architecture as the build_arch variable. Requires host fetch."`
	Installer string `help:"Installer path written into the recipe in host fetch mode." placeholder:"PATH"`
	Jobs      int    `short:"j" help:"Cargo parallelism. Zero uses the builder's processor count." env:"ZPBUILD_JOBS"`
}

// Executes the render command.
//
// Prints the built-in recipe without building it. The YAML form can be
// edited and passed back to 'zpbuild build --recipe'.
func (c *RenderCmd) Run(ctx context.Context) error {
	return c.render(os.Stdout)
}

func (c *RenderCmd) render(w io.Writer) error {
	arch, err := c.arch()
	if err != nil {
		return err
	}
	fetch, err := c.fetchMode()
	if err != nil {
		return err
	}

	opts := zonepresets.DefaultOptions(arch)
	opts.Pin = c.pin()
	opts.Fetch = fetch
	opts.Jobs = c.Jobs

	if fetch == zonepresets.FetchHost {
		opts.Installer, err = c.installerPath(arch)
		if err != nil {
			return err
		}
	}

	var r *manifest.Recipe
	if c.Template {
		r, err = zonepresets.Template(opts)
	} else {
		r, err = zonepresets.Recipe(opts)
	}
	if err != nil {
		return err
	}

	if c.Format == "containerfile" {
		var args []string
		if c.Template {
			args = []string{zonepresets.ArchVariable}
		}
		return manifest.WriteContainerfile(w, r, manifest.RenderOptions{
			Image: zonepresets.ImageConfig(),
			Args:  args,
		})
	}

	data, err := manifest.MarshalYAML(r)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Returns where the recipe expects the installer. YAML recipes point into
// the toolchain cache, which 'zpbuild fetch' and 'zpbuild build' populate.
// A Containerfile can only copy from its build context.
func (c *RenderCmd) installerPath(arch zonepresets.Arch) (string, error) {
	if c.Installer != "" {
		return c.Installer, nil
	}
	if c.Format == "containerfile" {
		slog.Info("place the installer in the build context", "path", contextInstaller)
		return contextInstaller, nil
	}
	fetcher, err := c.fetcher()
	if err != nil {
		return "", err
	}
	return fetcher.Path(c.pin(), arch.Triple()), nil
}
