package internal

import (
	"strings"
	"testing"
)

func withBuildVars(t *testing.T, v, s, c string) {
	t.Helper()
	oldV, oldS, oldC := version, stage, gitCommit
	version, stage, gitCommit = v, s, c
	t.Cleanup(func() { version, stage, gitCommit = oldV, oldS, oldC })
}

func TestVersionStringLocal(t *testing.T) {
	withBuildVars(t, "1.0.0", "", "abc")
	if got := VersionString(); got != defaultLocalBuild {
		t.Fatalf("VersionString = %q, want %q", got, defaultLocalBuild)
	}
}

func TestVersionStringMain(t *testing.T) {
	withBuildVars(t, "V1.2.3", "main", "a1b2c3")
	got := VersionString()
	if !strings.HasPrefix(got, "1.2.3 a1b2c3 [") {
		t.Fatalf("VersionString = %q", got)
	}
}

func TestVersionStringBranch(t *testing.T) {
	withBuildVars(t, "1.2.3", "Staging", "a1b2c3")
	got := VersionString()
	if !strings.HasPrefix(got, "1.2.3+staging a1b2c3 [") {
		t.Fatalf("VersionString = %q", got)
	}
}

func TestSetLogFormat(t *testing.T) {
	t.Cleanup(func() { SetLogFormat("text") })

	SetLogFormat(" JSON ")
	if LogFormat() != "json" {
		t.Fatalf("LogFormat = %q, want json", LogFormat())
	}
	SetLogFormat("yaml")
	if LogFormat() != "text" {
		t.Fatalf("LogFormat = %q, want text", LogFormat())
	}
}
