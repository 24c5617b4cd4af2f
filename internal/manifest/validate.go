package manifest

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/TheAppgineer/zpbuild/internal/errx"
)

// Checks the structural rules of a recipe.
//
// A valid recipe has at least one stage, unique stage names, a base image on
// every stage, and exactly one non-transient stage which must be the last
// one. Every step holds at most one operation, checkpoints stand alone, copy
// strings have a source and a destination, and cross-stage copies refer to
// an earlier named stage.
func (r *Recipe) Validate() error {
	if len(r.Stages) == 0 {
		return errx.Wrapf(ErrInvalidRecipe, "no stages")
	}

	seen := make(map[string]bool, len(r.Stages))
	final := 0

	for i, s := range r.Stages {
		label := stageLabel(s.Name)
		if s.Name == "" {
			label = strconv.Itoa(i + 1)
		}

		if _, err := s.ParseFrom(); err != nil {
			return err
		}

		if !s.Transient {
			final++
			if i != len(r.Stages)-1 {
				return errx.Wrapf(ErrInvalidRecipe, "stage %s: only the last stage may be non-transient", label)
			}
		}

		if err := validateSteps(s.Steps, seen, fmt.Sprintf("stage %s", label)); err != nil {
			return err
		}

		if s.Name != "" {
			if seen[s.Name] {
				return errx.Wrapf(ErrInvalidRecipe, "duplicate stage name %q", s.Name)
			}
			seen[s.Name] = true
		}
	}

	if final != 1 {
		return errx.Wrapf(ErrInvalidRecipe, "expected exactly one non-transient stage, found %d", final)
	}
	return nil
}

func validateSteps(steps []Step, earlier map[string]bool, where string) error {
	for i, s := range steps {
		at := fmt.Sprintf("%s, step %d", where, i+1)

		if s.Run != "" && s.Copy != "" {
			return errx.Wrapf(ErrInvalidRecipe, "%s: run and copy are mutually exclusive", at)
		}
		if s.Checkpoint != "" && (s.IsOperation() || s.HasModifiers() || len(s.Steps) > 0) {
			return errx.Wrapf(ErrInvalidRecipe, "%s: checkpoint must be a step of its own", at)
		}
		if s.IsOperation() && len(s.Steps) > 0 {
			return errx.Wrapf(ErrInvalidRecipe, "%s: an operation cannot have nested steps", at)
		}
		if s.User != "" {
			if err := validateUser(s.User); err != nil {
				return errx.Wrapf(ErrInvalidRecipe, "%s: %w", at, err)
			}
		}
		if s.Copy != "" {
			if err := validateCopy(s.Copy, earlier); err != nil {
				return errx.Wrapf(ErrInvalidRecipe, "%s: %w", at, err)
			}
		}
		if s.Workdir != "" && !path.IsAbs(s.Workdir) {
			return errx.Wrapf(ErrInvalidRecipe, "%s: workdir %q is not absolute", at, s.Workdir)
		}
		if err := validateSteps(s.Steps, earlier, at); err != nil {
			return err
		}
	}
	return nil
}

func validateCopy(copyStr string, earlier map[string]bool) error {
	src, _, ok := SplitCopy(copyStr)
	if !ok {
		return fmt.Errorf("copy %q: expected source and destination", copyStr)
	}
	if stage, p, ok := ParseStageSource(src); ok {
		if !earlier[stage] {
			return fmt.Errorf("copy %q: stage %q is not defined before this stage", copyStr, stage)
		}
		if !path.IsAbs(p) {
			return fmt.Errorf("copy %q: cross-stage source must be absolute", copyStr)
		}
	}
	return nil
}

// Accepts an account name, "uid" or "uid:gid".
func validateUser(u string) error {
	name, group, hasGroup := strings.Cut(u, ":")
	if name == "" || (hasGroup && group == "") {
		return fmt.Errorf("malformed user %q", u)
	}
	if hasGroup {
		if _, err := strconv.ParseUint(name, 10, 32); err != nil {
			return fmt.Errorf("user %q: uid must be numeric when a gid is given", u)
		}
		if _, err := strconv.ParseUint(group, 10, 32); err != nil {
			return fmt.Errorf("user %q: gid must be numeric", u)
		}
	}
	return nil
}
