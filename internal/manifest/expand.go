package manifest

import (
	"maps"
	"regexp"
)

// Matches ${name} references. Shell forms such as $HOME or $(nproc) are left
// for the shell.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Merges caller overrides on top of the recipe's declared defaults.
func (r *Recipe) ResolveVariables(overrides map[string]string) map[string]string {
	vars := make(map[string]string, len(r.Variables)+len(overrides))
	maps.Copy(vars, r.Variables)
	maps.Copy(vars, overrides)
	return vars
}

// Returns a copy of the recipe with ${name} references substituted.
//
// References to undeclared variables are kept verbatim so that shell
// parameter expansion inside run commands still works.
func (r *Recipe) Expand(vars map[string]string) *Recipe {
	out := &Recipe{
		Variables: maps.Clone(vars),
		Stages:    make([]Stage, len(r.Stages)),
	}
	for i, s := range r.Stages {
		out.Stages[i] = Stage{
			Name:      s.Name,
			From:      expand(s.From, vars),
			Transient: s.Transient,
			Steps:     expandSteps(s.Steps, vars),
		}
	}
	return out
}

func expandSteps(steps []Step, vars map[string]string) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = Step{
			Run:        expand(s.Run, vars),
			Copy:       expand(s.Copy, vars),
			Shell:      expand(s.Shell, vars),
			Workdir:    expand(s.Workdir, vars),
			User:       expand(s.User, vars),
			Checkpoint: s.Checkpoint,
			Steps:      expandSteps(s.Steps, vars),
		}
		if s.Env != nil {
			out[i].Env = make(map[string]string, len(s.Env))
			for k, v := range s.Env {
				out[i].Env[k] = expand(v, vars)
			}
		}
	}
	return out
}

func expand(s string, vars map[string]string) string {
	if s == "" {
		return s
	}
	return variablePattern.ReplaceAllStringFunc(s, func(m string) string {
		name := variablePattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}
