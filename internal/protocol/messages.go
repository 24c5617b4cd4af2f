package protocol

import (
	"github.com/TheAppgineer/zpbuild/internal/inspect"
	"github.com/TheAppgineer/zpbuild/internal/manifest"
)

// Payload of [CmdBuild].
type BuildRequest struct {
	Recipe          *manifest.Recipe     `json:"recipe"`
	Resource        string               `json:"resource"`
	Output          string               `json:"output"`
	Root            string               `json:"root"`
	Image           manifest.ImageConfig `json:"image"`
	Platforms       []string             `json:"platforms,omitempty"`
	Cache           bool                 `json:"cache,omitempty"`
	SourceDateEpoch int64                `json:"sourceDateEpoch,omitempty"` // Unix seconds. Zero uses the build time.
}

// Result of [CmdBuild].
type BuildResult struct {
	Output    string   `json:"output"`
	Images    []string `json:"images"`
	CacheHits []string `json:"cacheHits,omitempty"`
	Committed []string `json:"committed,omitempty"`
}

// Payload of [CmdVerify].
type VerifyRequest struct {
	Archive string              `json:"archive"`
	Expect  inspect.Expectation `json:"expect"`
}

// Result of [CmdVerify].
type VerifyResult struct {
	Violations   []inspect.Violation `json:"violations,omitempty"`
	BinaryDigest string              `json:"binaryDigest,omitempty"`
}

// Payload of [CmdCachePrune].
type CachePruneRequest struct {
	Resource string `json:"resource,omitempty"` // Restricts pruning to one resource. Empty prunes everything.
	DryRun   bool   `json:"dryRun,omitempty"`
}

// Result of [CmdCachePrune].
type CachePruneResult struct {
	Removed []string `json:"removed"`
}

// Result of [CmdStatus].
type StatusResult struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Builds  int    `json:"builds"`
}

// Payload of [CmdError].
type ErrorResult struct {
	Message string `json:"message"`
}
