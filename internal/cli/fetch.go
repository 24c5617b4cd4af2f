package cli

import (
	"context"
	"fmt"
)

// Represents the 'zpbuild fetch' command.
type FetchCmd struct {
	ArchFlag
	ToolchainFlags
}

// Executes the fetch command.
//
// Downloads the pinned installer for the target architecture into the
// toolchain cache, verifies it, and prints its path.
func (c *FetchCmd) Run(ctx context.Context) error {
	arch, err := c.arch()
	if err != nil {
		return err
	}
	fetcher, err := c.fetcher()
	if err != nil {
		return err
	}

	path, err := fetcher.Fetch(ctx, c.pin(), arch.Triple())
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
