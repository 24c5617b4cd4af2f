package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/TheAppgineer/zpbuild/internal/client"
	"github.com/TheAppgineer/zpbuild/internal/errx"
	"github.com/TheAppgineer/zpbuild/internal/inspect"
	"github.com/TheAppgineer/zpbuild/internal/protocol"
	"github.com/TheAppgineer/zpbuild/internal/zonepresets"
)

// Represents the 'zpbuild verify' command.
type VerifyCmd struct {
	ArchFlag

	Archive string `arg:"" help:"Exported image archive." type:"existingfile"`
	Compare string `help:"Require the same binary as another archive." type:"existingfile" placeholder:"ARCHIVE"`
	Daemon  bool   `help:"Ask the daemon to check the archive." env:"ZPBUILD_DAEMON"`
}

// Executes the verify command.
//
// Checks the archive against the properties every runtime image must have.
// With --compare, also requires the binary to be identical to the one in the
// other archive, which is how reproducibility is checked.
func (c *VerifyCmd) Run(ctx context.Context, g *Globals) error {
	arch, err := c.arch()
	if err != nil {
		return err
	}
	exp := zonepresets.Expect(arch)

	if c.Daemon {
		archive, err := filepath.Abs(c.Archive)
		if err != nil {
			return err
		}
		res, err := client.Dial(g.Socket).Verify(ctx, protocol.VerifyRequest{Archive: archive, Expect: exp})
		if err != nil {
			return err
		}
		if err := reportViolations(c.Archive, res.Violations); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", c.Archive, res.BinaryDigest)
	} else if err := verifyImage(c.Archive, exp); err != nil {
		return err
	}

	if c.Compare == "" {
		return nil
	}
	return compareImages(c.Archive, c.Compare, exp.Binary)
}

// Checks the archive at path and prints its binary digest.
func verifyImage(path string, exp inspect.Expectation) error {
	img, err := inspect.Open(path)
	if err != nil {
		return err
	}
	if err := reportViolations(path, inspect.Verify(img, exp)); err != nil {
		return err
	}

	d, err := inspect.BinaryDigest(img, exp.Binary)
	if err != nil {
		return err
	}
	slog.Info("image verified", "archive", path, "binary", d)
	return nil
}

func reportViolations(path string, violations []inspect.Violation) error {
	for _, v := range violations {
		slog.Error("violation", "archive", path, "property", v.Property, "detail", v.Detail)
	}
	if len(violations) > 0 {
		return errx.Wrapf(ErrVerify, "%s: %d violation(s)", path, len(violations))
	}
	return nil
}

func compareImages(a, b, binary string) error {
	imgA, err := inspect.Open(a)
	if err != nil {
		return err
	}
	imgB, err := inspect.Open(b)
	if err != nil {
		return err
	}

	cmp, err := inspect.Compare(imgA, imgB, binary)
	if err != nil {
		return err
	}
	if !cmp.Equal {
		return errx.Wrapf(ErrCompare, "%s: %s != %s", binary, cmp.A, cmp.B)
	}

	fmt.Printf("%s %s\n", binary, cmp.A)
	return nil
}
