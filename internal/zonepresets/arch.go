package zonepresets

import (
	"fmt"
	"slices"
	"strings"

	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Base image architecture variant, named after the per-architecture
// repositories of the official images (e.g. docker.io/arm64v8/debian).
type Arch string

const (
	AMD64   Arch = "amd64"
	ARM64V8 Arch = "arm64v8"
	ARM32V7 Arch = "arm32v7"
	I386    Arch = "i386"

	DefaultArch = AMD64
)

type archInfo struct {
	platform string // OCI platform.
	triple   string // Rust host triple.
}

var archs = map[Arch]archInfo{
	AMD64:   {platform: "linux/amd64", triple: "x86_64-unknown-linux-gnu"},
	ARM64V8: {platform: "linux/arm64/v8", triple: "aarch64-unknown-linux-gnu"},
	ARM32V7: {platform: "linux/arm/v7", triple: "armv7-unknown-linux-gnueabihf"},
	I386:    {platform: "linux/386", triple: "i686-unknown-linux-gnu"},
}

// Returns the supported architectures in a stable order.
func Archs() []Arch {
	out := make([]Arch, 0, len(archs))
	for a := range archs {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// Parses a build_arch value. An empty value selects [DefaultArch].
func ParseArch(s string) (Arch, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultArch, nil
	}
	a := Arch(s)
	if _, ok := archs[a]; !ok {
		return "", fmt.Errorf("unsupported build_arch %q (supported: %v)", s, Archs())
	}
	return a, nil
}

// Returns the OCI platform string, e.g. "linux/arm/v7".
func (a Arch) Platform() string {
	return archs[a].platform
}

// Returns the parsed OCI platform.
func (a Arch) OCIPlatform() ocispec.Platform {
	p, err := platforms.Parse(a.Platform())
	if err != nil {
		return ocispec.Platform{}
	}
	return platforms.Normalize(p)
}

// Returns the Rust host triple.
func (a Arch) Triple() string {
	return archs[a].triple
}

func (a Arch) String() string {
	return string(a)
}
