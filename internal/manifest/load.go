package manifest

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/TheAppgineer/zpbuild/internal/errx"
)

// Reads a recipe file, substitutes variables and validates the result.
//
// The format is chosen by extension: ".yaml" and ".yml" are YAML, ".hcl" is
// HCL. Overrides take precedence over the recipe's declared defaults.
func Load(path string, overrides map[string]string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errx.Wrap(ErrLoad, err)
	}

	var r *Recipe
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		r, err = ParseYAML(data, overrides)
	case ".hcl":
		r, err = ParseHCL(data, path, overrides)
	default:
		return nil, errx.Wrapf(ErrUnsupportedFormat, "%s", path)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("recipe loaded", "path", path, "stages", len(r.Stages), "variables", r.Variables)

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Decodes a YAML recipe and substitutes variables. Unknown fields are
// rejected.
func ParseYAML(data []byte, overrides map[string]string) (*Recipe, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var r Recipe
	if err := dec.Decode(&r); err != nil {
		return nil, errx.Wrap(ErrLoad, err)
	}

	return r.Expand(r.ResolveVariables(overrides)), nil
}

// Encodes a recipe as YAML.
func MarshalYAML(r *Recipe) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HCL file layout. Variables are decoded first so that the remaining body
// can be evaluated with them in scope.
type hclRoot struct {
	Variables []hclVariable `hcl:"variable,block"`
	Remain    hcl.Body      `hcl:",remain"`
}

type hclVariable struct {
	Name    string  `hcl:"name,label"`
	Default *string `hcl:"default,optional"`
}

type hclStages struct {
	Stages []hclStage `hcl:"stage,block"`
}

type hclStage struct {
	Name      string    `hcl:"name,label"`
	From      string    `hcl:"from"`
	Transient *bool     `hcl:"transient,optional"`
	Steps     []hclStep `hcl:"step,block"`
}

type hclStep struct {
	Run        *string           `hcl:"run,optional"`
	Copy       *string           `hcl:"copy,optional"`
	Shell      *string           `hcl:"shell,optional"`
	Workdir    *string           `hcl:"workdir,optional"`
	User       *string           `hcl:"user,optional"`
	Checkpoint *string           `hcl:"checkpoint,optional"`
	Env        map[string]string `hcl:"env,optional"`
	Steps      []hclStep         `hcl:"step,block"`
}

// Decodes an HCL recipe.
//
// Variables are exposed to expressions as top-level names, so a base image
// is written as "docker.io/${build_arch}/debian:bookworm-slim". Literal
// shell expansions must be escaped as $${NAME}.
func ParseHCL(data []byte, filename string, overrides map[string]string) (*Recipe, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errx.Wrap(ErrLoad, diags)
	}

	var root hclRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, errx.Wrap(ErrLoad, diags)
	}

	declared := make(map[string]string, len(root.Variables))
	for _, v := range root.Variables {
		if v.Default != nil {
			declared[v.Name] = *v.Default
		} else {
			declared[v.Name] = ""
		}
	}

	r := &Recipe{Variables: declared}
	vars := r.ResolveVariables(overrides)

	values := make(map[string]cty.Value, len(vars))
	for k, v := range vars {
		values[k] = cty.StringVal(v)
	}
	evalCtx := &hcl.EvalContext{Variables: values}

	var body hclStages
	if diags := gohcl.DecodeBody(root.Remain, evalCtx, &body); diags.HasErrors() {
		return nil, errx.Wrap(ErrLoad, diags)
	}

	r.Variables = vars
	for _, s := range body.Stages {
		r.Stages = append(r.Stages, Stage{
			Name:      s.Name,
			From:      s.From,
			Transient: s.Transient != nil && *s.Transient,
			Steps:     convertHCLSteps(s.Steps),
		})
	}
	return r, nil
}

func convertHCLSteps(in []hclStep) []Step {
	if len(in) == 0 {
		return nil
	}
	out := make([]Step, len(in))
	for i, s := range in {
		out[i] = Step{
			Run:        deref(s.Run),
			Copy:       deref(s.Copy),
			Shell:      deref(s.Shell),
			Workdir:    deref(s.Workdir),
			User:       deref(s.User),
			Checkpoint: deref(s.Checkpoint),
			Env:        s.Env,
			Steps:      convertHCLSteps(s.Steps),
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
