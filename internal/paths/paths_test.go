package paths

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPathsAreNamespaced(t *testing.T) {
	for name, p := range map[string]string{
		"socket":    Socket(),
		"pid":       PIDFile(),
		"toolchain": ToolchainCache(),
		"config":    ConfigFile(),
	} {
		if !strings.Contains(p, string(filepath.Separator)+appName) {
			t.Errorf("%s path %q is not under a %s directory", name, p, appName)
		}
	}
}

func TestSocketInRuntimeDir(t *testing.T) {
	if filepath.Dir(Socket()) != Runtime() {
		t.Fatalf("socket %q not in runtime dir %q", Socket(), Runtime())
	}
	if filepath.Dir(PIDFile()) != Runtime() {
		t.Fatalf("pid file %q not in runtime dir %q", PIDFile(), Runtime())
	}
}
