package manifest

import (
	"strings"
)

// An ordered sequence of stages.
type Recipe struct {
	Variables map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"` // Declared variables and their defaults.
	Stages    []Stage           `yaml:"stages" json:"stages"`
}

// A single build stage backed by one container.
type Stage struct {
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`           // Name referenced by cross-stage copies.
	From      string `yaml:"from" json:"from"`                               // Base image reference or "oci-archive:<path>".
	Transient bool   `yaml:"transient,omitempty" json:"transient,omitempty"` // Whether the stage is discarded after the build.
	Steps     []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// A single instruction within a stage.
//
// Run and Copy are operations. Shell, Workdir, Env and User are modifiers:
// on a step without an operation they persist for all later steps, on a step
// with an operation they apply to that operation only.
type Step struct {
	Run        string            `yaml:"run,omitempty" json:"run,omitempty"`               // Shell command.
	Copy       string            `yaml:"copy,omitempty" json:"copy,omitempty"`             // "src dest" or "stage:src dest".
	Shell      string            `yaml:"shell,omitempty" json:"shell,omitempty"`           // Shell used for run operations.
	Workdir    string            `yaml:"workdir,omitempty" json:"workdir,omitempty"`       // Working directory.
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`               // Environment variables.
	User       string            `yaml:"user,omitempty" json:"user,omitempty"`             // Account name or "uid[:gid]".
	Checkpoint string            `yaml:"checkpoint,omitempty" json:"checkpoint,omitempty"` // Cache boundary label.
	Steps      []Step            `yaml:"steps,omitempty" json:"steps,omitempty"`           // Nested group.
}

// Whether the step performs a run or copy operation.
func (s Step) IsOperation() bool {
	return s.Run != "" || s.Copy != ""
}

// Whether the step sets any modifier.
func (s Step) HasModifiers() bool {
	return s.Shell != "" || s.Workdir != "" || s.User != "" || len(s.Env) > 0
}

// Returns the stage marked non-transient, which becomes the output image.
//
// Returns false if no stage is non-transient.
func (r *Recipe) Final() (Stage, bool) {
	for i := len(r.Stages) - 1; i >= 0; i-- {
		if !r.Stages[i].Transient {
			return r.Stages[i], true
		}
	}
	return Stage{}, false
}

// Returns the stage with the given name.
func (r *Recipe) Stage(name string) (Stage, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Parses a copy source of the form "stage:path".
//
// Returns the stage name, the path within the stage, and true if the source
// matches the cross-stage format. A colon preceded by a path separator is part
// of a host path, not a stage prefix.
func ParseStageSource(src string) (stage, path string, ok bool) {
	i := strings.IndexByte(src, ':')
	if i < 1 {
		return "", "", false
	}
	if strings.ContainsRune(src[:i], '/') {
		return "", "", false
	}
	return src[:i], src[i+1:], true
}

// Splits a copy string into its source and destination tokens.
func SplitCopy(s string) (src, dest string, ok bool) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
