package runtime

import (
	"strings"
	"testing"
	"time"

	"github.com/containerd/containerd/v2/core/images"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestImageTag(t *testing.T) {
	tag := imageTag("/some/archive.tar")

	if !strings.HasPrefix(tag, "import/") {
		t.Fatalf("tag %q missing import/ prefix", tag)
	}
	if !strings.HasSuffix(tag, ":latest") {
		t.Fatalf("tag %q missing :latest suffix", tag)
	}

	if imageTag("/some/archive.tar") != tag {
		t.Fatal("imageTag is not deterministic")
	}

	if imageTag("/other/archive.tar") == tag {
		t.Fatal("different paths produced the same tag")
	}
}

func TestDefaultPlatform(t *testing.T) {
	p := defaultPlatform()
	if !strings.HasPrefix(p, "linux/") {
		t.Fatalf("defaultPlatform = %q, want linux/<arch>", p)
	}
	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[1] == "" {
		t.Fatalf("defaultPlatform = %q, want linux/<arch>", p)
	}
}

func TestPlatformOrDefault(t *testing.T) {
	if got := platformOrDefault("linux/arm/v7"); got != "linux/arm/v7" {
		t.Fatalf("platformOrDefault = %q", got)
	}
	if got := platformOrDefault(""); got != defaultPlatform() {
		t.Fatalf("platformOrDefault(\"\") = %q, want %q", got, defaultPlatform())
	}
}

func TestFilterImages(t *testing.T) {
	now := time.Now()
	all := []images.Image{
		{Name: "zpbuild-cache/app:bbb", Target: ocispec.Descriptor{Digest: digest.FromString("b")}, CreatedAt: now},
		{Name: "docker.io/amd64/debian:bookworm-slim"},
		{Name: "zpbuild-cache/app:aaa", Target: ocispec.Descriptor{Digest: digest.FromString("a")}},
	}

	got := filterImages(all, "zpbuild-cache/")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %v", len(got), got)
	}
	if got[0].Name != "zpbuild-cache/app:aaa" || got[1].Name != "zpbuild-cache/app:bbb" {
		t.Fatalf("not sorted by name: %v", got)
	}
	if got[1].Digest != digest.FromString("b") || !got[1].CreatedAt.Equal(now) {
		t.Fatalf("fields not copied: %+v", got[1])
	}

	if filterImages(all, "none/") != nil {
		t.Fatal("expected nil for no matches")
	}
}
