package build

import (
	"context"
	"log/slog"
	"strings"

	"github.com/TheAppgineer/zpbuild/internal/errx"
	"github.com/TheAppgineer/zpbuild/internal/manifest"
	"github.com/TheAppgineer/zpbuild/internal/runtime"
)

// Executes the steps of one stage inside its container.
type stageExec struct {
	ctr    *runtime.Container            // Stage container.
	state  *stepState                    // Accumulated modifiers.
	root   string                        // Build context, for resolving host copy sources.
	stages map[string]*runtime.Container // Earlier named stages of the same platform.
	users  map[string]runtime.User       // Resolved user modifiers.
}

func newStageExec(ctr *runtime.Container, root string, stages map[string]*runtime.Container) *stageExec {
	return &stageExec{
		ctr:    ctr,
		state:  newStepState(),
		root:   root,
		stages: stages,
		users:  make(map[string]runtime.User),
	}
}

// Executes a list of steps in order against the build container.
func (x *stageExec) executeSteps(ctx context.Context, steps []manifest.Step) error {
	for i, step := range steps {
		if err := x.executeStep(ctx, step); err != nil {
			return errx.Wrapf(ErrBuild, "step %d: %w", i+1, err)
		}
	}
	return nil
}

// Executes a single step, dispatching to operation execution, group recursion,
// or state mutation depending on the step's fields.
func (x *stageExec) executeStep(ctx context.Context, step manifest.Step) error {
	switch {
	case step.Checkpoint != "":
		// Nested checkpoints carry no cache boundary.
		slog.Debug("checkpoint", "label", step.Checkpoint)
		return nil

	case len(step.Steps) > 0:
		x.state.apply(step)
		return x.executeSteps(ctx, step.Steps)

	case step.IsOperation():
		return x.executeOperation(ctx, step)
	}

	x.state.apply(step)
	return nil
}

// Executes a run or copy operation with scoped modifier overrides.
//
// Step-level modifiers override the persistent state for this operation only.
// The persistent state is not modified.
func (x *stageExec) executeOperation(ctx context.Context, step manifest.Step) error {
	resolved := x.state.resolve(step)

	if resolved.workdir != "" {
		if err := x.ctr.MkdirAll(ctx, resolved.workdir); err != nil {
			return err
		}
	}

	user, err := x.lookupUser(ctx, resolved.user)
	if err != nil {
		return err
	}

	switch {
	case step.Run != "":
		slog.Debug("run", "command", step.Run, "shell", resolved.shell, "user", resolved.user)
		result, err := x.ctr.Exec(ctx, resolved.shell, step.Run, resolved.environ(), resolved.workdir, user)
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return errx.Wrapf(ErrCommandFailed, "%q: exit code %d: %s", summarize(step.Run), result.ExitCode, strings.TrimSpace(result.Stderr))
		}

	case step.Copy != "":
		owner := runtime.Root
		if user != nil {
			owner = *user
		}
		if err := x.executeCopy(ctx, step.Copy, resolved.workdir, owner); err != nil {
			return err
		}
	}

	return nil
}

// Resolves a user modifier to a numeric identity, caching the result for
// the lifetime of the stage. An empty modifier resolves to nil.
func (x *stageExec) lookupUser(ctx context.Context, spec string) (*runtime.User, error) {
	if spec == "" {
		return nil, nil
	}
	if u, ok := x.users[spec]; ok {
		return &u, nil
	}
	u, err := x.ctr.LookupUser(ctx, spec)
	if err != nil {
		return nil, err
	}
	x.users[spec] = u
	return &u, nil
}

// Shortens a command for error messages.
func summarize(cmd string) string {
	const max = 80
	cmd = strings.Join(strings.Fields(cmd), " ")
	runes := []rune(cmd)
	if len(runes) <= max {
		return cmd
	}
	return string(runes[:max-3]) + "..."
}
