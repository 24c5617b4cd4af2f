package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheAppgineer/zpbuild/internal/manifest"
	"github.com/TheAppgineer/zpbuild/internal/zonepresets"
)

func TestRenderYAML(t *testing.T) {
	c := &RenderCmd{
		ArchFlag:      ArchFlag{Arch: "arm32v7"},
		FetchModeFlag: FetchModeFlag{Fetch: "container"},
		Format:        "yaml",
	}

	var buf bytes.Buffer
	require.NoError(t, c.render(&buf))

	r, err := manifest.ParseYAML(buf.Bytes(), nil)
	require.NoError(t, err)
	require.Len(t, r.Stages, 2)
	require.Equal(t, "docker.io/arm32v7/debian:bookworm-slim", r.Stages[0].From)
	require.Equal(t, r.Stages[0].From, r.Stages[1].From)
	require.NoError(t, r.Validate())
}

func TestRenderTemplateContainerfile(t *testing.T) {
	c := &RenderCmd{
		ArchFlag:      ArchFlag{Arch: "amd64"},
		FetchModeFlag: FetchModeFlag{Fetch: "host"},
		Format:        "containerfile",
		Template:      true,
	}

	var buf bytes.Buffer
	require.NoError(t, c.render(&buf))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "ARG build_arch=amd64\n"), out)
	require.Contains(t, out, "FROM docker.io/${build_arch}/debian:bookworm-slim AS build")
	require.Contains(t, out, `CMD ["/home/worker/roon-extension-zone-presets"]`)
	require.Contains(t, out, "COPY rustup-init /tmp/rustup-init\n")
	require.Contains(t, out, "COPY --chown=worker src /home/worker/src\n")
	require.NotContains(t, out, "sha256sum")
}

func TestRenderTemplateRejectsContainerFetch(t *testing.T) {
	c := &RenderCmd{
		ArchFlag:      ArchFlag{Arch: "amd64"},
		FetchModeFlag: FetchModeFlag{Fetch: "container"},
		Format:        "containerfile",
		Template:      true,
	}

	var buf bytes.Buffer
	err := c.render(&buf)
	require.ErrorIs(t, err, zonepresets.ErrTemplate)
	require.Empty(t, buf.String())
}

func TestRenderHostInstallerPath(t *testing.T) {
	cache := t.TempDir()
	c := &RenderCmd{
		ArchFlag:       ArchFlag{Arch: "arm64v8"},
		FetchModeFlag:  FetchModeFlag{Fetch: "host"},
		ToolchainFlags: ToolchainFlags{ToolchainCache: cache},
		Format:         "yaml",
	}

	var buf bytes.Buffer
	require.NoError(t, c.render(&buf))

	want := filepath.Join(cache, "1.27.1", zonepresets.ARM64V8.Triple(), "rustup-init")
	require.Contains(t, buf.String(), want+" /tmp/rustup-init")
}

func TestRenderHostContainerfileUsesContext(t *testing.T) {
	c := &RenderCmd{
		ArchFlag:      ArchFlag{Arch: "amd64"},
		FetchModeFlag: FetchModeFlag{Fetch: "host"},
		Format:        "containerfile",
	}

	var buf bytes.Buffer
	require.NoError(t, c.render(&buf))
	require.Contains(t, buf.String(), "COPY rustup-init /tmp/rustup-init")
}

func TestRenderExplicitInstaller(t *testing.T) {
	c := &RenderCmd{
		ArchFlag:      ArchFlag{Arch: "i386"},
		FetchModeFlag: FetchModeFlag{Fetch: "host"},
		Format:        "yaml",
		Installer:     "/opt/rustup-init",
	}

	var buf bytes.Buffer
	require.NoError(t, c.render(&buf))
	require.Contains(t, buf.String(), "/opt/rustup-init /tmp/rustup-init")
}

func TestToolchainFlagsPin(t *testing.T) {
	f := ToolchainFlags{ToolchainURL: "http://mirror.example/rustup/", SignatureURL: "{url}.asc"}
	p := f.pin()

	triple := zonepresets.AMD64.Triple()
	require.Equal(t, "http://mirror.example/rustup/1.27.1/"+triple+"/rustup-init", p.URL(triple))
	require.Equal(t, p.URL(triple)+".asc", p.SignatureFor(triple))
}
