package internal

import (
	"fmt"
	"runtime"
	"strings"
)

const (

	// Program name, used for the logger group, the kong application name and
	// the XDG subdirectories.
	Name = "zpbuild"

	// Placeholder for a variable the pipeline did not set.
	defaultUndefined = "(undefined)"

	// Version string reported by builds made outside the release pipeline.
	defaultLocalBuild = "(local)"

	// Branch whose name is omitted from version strings.
	mainBranch = "main"
)

var (
	version   = "" // Release version, e.g. "0.4.1".
	stage     = "" // Git branch the binary was built from.
	gitCommit = "" // Abbreviated commit hash.

	rawQuiet     = "false" // Default for -q.
	rawDebug     = "false" // Default for -d.
	rawVerbose   = "false" // Default for -v.
	rawLogFormat = "text"  // Default for --log-format.
)

// Returns the release version without a leading "v".
func Version() string {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "" {
		return defaultUndefined
	}
	return strings.TrimPrefix(v, "v")
}

// Returns the branch the binary was built from.
func Stage() string {
	s := strings.TrimSpace(stage)
	if s == "" {
		return defaultUndefined
	}
	return strings.ToLower(s)
}

// Returns the commit hash the binary was built from.
func GitCommit() string {
	c := strings.TrimSpace(gitCommit)
	if c == "" {
		return defaultUndefined
	}
	return c
}

// Returns the architecture of the running binary.
func Arch() string {
	return runtime.GOARCH
}

// Whether the binary was built outside the release pipeline, which sets all
// three of version, stage and commit.
func IsLocal() bool {
	return strings.TrimSpace(version) == "" ||
		strings.TrimSpace(gitCommit) == "" ||
		strings.TrimSpace(stage) == ""
}

// Returns "<version>[+<stage>] <commit> [<arch>]", or "(local)".
func VersionString() string {
	if IsLocal() {
		return defaultLocalBuild
	}

	s := Stage()
	if s == mainBranch {
		s = ""
	} else {
		s = "+" + s
	}

	return fmt.Sprintf("%s%s %s [%s]", Version(), s, GitCommit(), Arch())
}
