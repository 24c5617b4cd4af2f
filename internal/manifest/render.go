package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
)

// Settings that a Containerfile expresses but a recipe does not.
type RenderOptions struct {
	Image ImageConfig // Configuration of the output image.
	Args  []string    // Build arguments declared before the first stage.
}

// Writes the recipe as an equivalent multi-stage Containerfile.
//
// Persistent modifiers become WORKDIR, ENV, USER and SHELL instructions.
// Modifiers scoped to a single operation are applied around that operation
// and restored afterwards. Checkpoints become comments.
func WriteContainerfile(w io.Writer, r *Recipe, opts RenderOptions) error {
	cw := &containerfileWriter{w: w}

	for _, arg := range opts.Args {
		def := r.Variables[arg]
		if def != "" {
			cw.line("ARG %s=%s", arg, def)
		} else {
			cw.line("ARG %s", arg)
		}
	}

	for i, s := range r.Stages {
		if i > 0 || len(opts.Args) > 0 {
			cw.blank()
		}
		if s.Name != "" {
			cw.line("FROM %s AS %s", s.From, s.Name)
		} else {
			cw.line("FROM %s", s.From)
		}

		st := &renderState{shell: "/bin/sh"}
		cw.steps(s.Steps, st)

		if !s.Transient {
			cw.image(opts.Image, st)
		}
	}
	return cw.err
}

type renderState struct {
	shell   string
	workdir string
	user    string
}

type containerfileWriter struct {
	w   io.Writer
	err error
}

func (cw *containerfileWriter) line(format string, args ...any) {
	if cw.err != nil {
		return
	}
	_, cw.err = fmt.Fprintf(cw.w, format+"\n", args...)
}

func (cw *containerfileWriter) blank() {
	cw.line("")
}

func (cw *containerfileWriter) steps(steps []Step, st *renderState) {
	for _, s := range steps {
		switch {
		case s.Checkpoint != "":
			cw.line("# checkpoint: %s", s.Checkpoint)
		case len(s.Steps) > 0:
			cw.modifiers(s, st)
			cw.steps(s.Steps, st)
		case s.IsOperation():
			cw.operation(s, st)
		default:
			cw.modifiers(s, st)
		}
	}
}

// Emits the output image configuration after the final stage's steps.
func (cw *containerfileWriter) image(img ImageConfig, st *renderState) {
	for _, k := range slices.Sorted(maps.Keys(img.Labels)) {
		cw.line("LABEL %s=%s", k, quoteValue(img.Labels[k]))
	}
	if img.WorkingDir != "" && img.WorkingDir != st.workdir {
		cw.line("WORKDIR %s", img.WorkingDir)
	}
	if img.User != "" && img.User != st.user {
		cw.line("USER %s", img.User)
	}
	if len(img.Entrypoint) > 0 {
		cw.line("ENTRYPOINT %s", jsonArray(img.Entrypoint))
	}
	if len(img.Cmd) > 0 {
		cw.line("CMD %s", jsonArray(img.Cmd))
	}
}

// Emits persistent modifiers.
func (cw *containerfileWriter) modifiers(s Step, st *renderState) {
	if s.Shell != "" && s.Shell != st.shell {
		cw.line("SHELL %s", jsonArray([]string{s.Shell, "-c"}))
		st.shell = s.Shell
	}
	if s.Workdir != "" && s.Workdir != st.workdir {
		cw.line("WORKDIR %s", s.Workdir)
		st.workdir = s.Workdir
	}
	if len(s.Env) > 0 {
		cw.line("ENV %s", envAssignments(s.Env))
	}
	if s.User != "" && s.User != st.user {
		cw.line("USER %s", s.User)
		st.user = s.User
	}
}

// Emits a run or copy with its scoped modifiers.
func (cw *containerfileWriter) operation(s Step, st *renderState) {
	restore := *st

	if s.Shell != "" && s.Shell != st.shell {
		cw.line("SHELL %s", jsonArray([]string{s.Shell, "-c"}))
	}
	if s.Workdir != "" && s.Workdir != st.workdir {
		cw.line("WORKDIR %s", s.Workdir)
	}
	if s.User != "" && s.User != st.user {
		cw.line("USER %s", s.User)
	}

	if s.Run != "" {
		cmd := s.Run
		if len(s.Env) > 0 {
			cmd = envAssignments(s.Env) + " " + cmd
		}
		cw.line("RUN %s", cmd)
	} else {
		src, dest, _ := SplitCopy(s.Copy)
		if stage, p, ok := ParseStageSource(src); ok {
			cw.line("COPY --from=%s %s %s", stage, p, dest)
		} else if owner := orDefault(s.User, st.user); !isRoot(owner) {
			cw.line("COPY --chown=%s %s %s", owner, src, dest)
		} else {
			cw.line("COPY %s %s", src, dest)
		}
	}

	if s.User != "" && s.User != restore.user {
		cw.line("USER %s", orDefault(restore.user, "root"))
	}
	if s.Workdir != "" && s.Workdir != restore.workdir {
		cw.line("WORKDIR %s", orDefault(restore.workdir, "/"))
	}
	if s.Shell != "" && s.Shell != restore.shell {
		cw.line("SHELL %s", jsonArray([]string{restore.shell, "-c"}))
	}
}

// Reports whether user names the root account, with or without a group.
func isRoot(user string) bool {
	name, _, _ := strings.Cut(user, ":")
	return name == "" || name == "root" || name == "0"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func envAssignments(env map[string]string) string {
	keys := slices.Sorted(maps.Keys(env))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quoteValue(env[k]))
	}
	return strings.Join(parts, " ")
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\"'$\\") {
		return v
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func jsonArray(items []string) string {
	b, _ := json.Marshal(items)
	return string(b)
}
