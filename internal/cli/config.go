package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// Loads a YAML configuration file as a flag resolver.
//
// Top-level keys set flags of any command. A key named after a command holds
// flags for that command only and wins over the top level:
//
//	log-format: json
//	build:
//	  arch: arm64v8
//	  jobs: 4
//	cache:
//	  prune:
//	    dry-run: true
//
// Keys may use dashes or underscores.
func yamlLoader(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: %w", err)
	}

	return kong.ResolverFunc(func(_ *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		for _, section := range sections(values, commandChain(parent)) {
			if v, ok := lookupKey(section, flag.Name); ok {
				return flagValue(v, flag)
			}
		}
		return nil, nil
	}), nil
}

// Names of the commands leading to parent, outermost first.
func commandChain(parent *kong.Path) []string {
	if parent == nil {
		return nil
	}
	n := parent.Command
	if n == nil {
		n = parent.Argument
	}
	var chain []string
	for ; n != nil; n = n.Parent {
		if n.Type == kong.CommandNode {
			chain = append([]string{n.Name}, chain...)
		}
	}
	return chain
}

// Returns the maps to search for a flag of the given command chain, most
// specific first. The top level is always last.
func sections(values map[string]any, chain []string) []map[string]any {
	out := []map[string]any{values}
	cur := values
	for _, name := range chain {
		v, ok := lookupKey(cur, name)
		if !ok {
			break
		}
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		out = append([]map[string]any{m}, out...)
		cur = m
	}
	return out
}

func lookupKey(m map[string]any, name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	v, ok := m[strings.ReplaceAll(name, "-", "_")]
	return v, ok
}

// Converts a YAML value to the textual form kong's mappers accept.
func flagValue(v any, flag *kong.Flag) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if !flag.IsMap() {
			return nil, fmt.Errorf("config: %s: unexpected mapping", flag.Name)
		}
		sep := flag.Tag.MapSep
		if sep == 0 {
			sep = ';'
		}
		parts := make([]string, 0, len(v))
		for _, k := range slices.Sorted(maps.Keys(v)) {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v[k]))
		}
		return strings.Join(parts, string(sep)), nil
	case []any:
		if !flag.IsSlice() {
			return nil, fmt.Errorf("config: %s: unexpected sequence", flag.Name)
		}
		sep := flag.Tag.Sep
		if sep == 0 {
			sep = ','
		}
		parts := make([]string, len(v))
		for i, val := range v {
			parts[i] = fmt.Sprint(val)
		}
		return strings.Join(parts, string(sep)), nil
	default:
		return fmt.Sprint(v), nil
	}
}
