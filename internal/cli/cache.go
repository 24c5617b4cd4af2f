package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TheAppgineer/zpbuild/internal/build"
	"github.com/TheAppgineer/zpbuild/internal/client"
	"github.com/TheAppgineer/zpbuild/internal/protocol"
)

// Represents the 'zpbuild cache' command group.
type CacheCmd struct {
	Prune CachePruneCmd `cmd:"" help:"Remove checkpoint images."`
}

// Represents the 'zpbuild cache prune' command.
type CachePruneCmd struct {
	RuntimeFlags

	Resource string `help:"Only prune checkpoints of this resource." default:"${resource}"`
	All      bool   `help:"Prune checkpoints of every resource."`
	DryRun   bool   `short:"n" help:"List what would be removed."`
	Daemon   bool   `help:"Prune through the daemon." env:"ZPBUILD_DAEMON"`
}

// Executes the cache prune command and prints the affected images.
func (c *CachePruneCmd) Run(ctx context.Context, g *Globals) error {
	req := protocol.CachePruneRequest{Resource: c.Resource, DryRun: c.DryRun}
	if c.All {
		req.Resource = ""
	}

	var removed []string
	var err error
	if c.Daemon {
		var res *protocol.CachePruneResult
		if res, err = client.Dial(g.Socket).PruneCache(ctx, req); err == nil {
			removed = res.Removed
		}
	} else {
		removed, err = c.pruneLocal(ctx, req)
	}
	if err != nil {
		return err
	}

	for _, name := range removed {
		fmt.Println(name)
	}
	slog.Info("cache pruned", "images", len(removed), "dry_run", c.DryRun)
	return nil
}

func (c *CachePruneCmd) pruneLocal(ctx context.Context, req protocol.CachePruneRequest) ([]string, error) {
	rt, err := c.open()
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	imgs, err := rt.ListImages(ctx, build.CacheImagePrefix(req.Resource))
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(imgs))
	for _, img := range imgs {
		if !req.DryRun {
			if err := rt.DestroyImage(ctx, img.Name); err != nil {
				return removed, err
			}
		}
		removed = append(removed, img.Name)
	}
	return removed, nil
}
