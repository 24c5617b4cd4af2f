package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	appName = "zpbuild"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Directory for runtime files (socket, PID).
//
//	Linux:   $XDG_RUNTIME_DIR/zpbuild or ~/.cache/zpbuild/run
//	macOS:   ~/Library/Caches/zpbuild/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, appName)
	}
	return filepath.Join(xdg.CacheHome, appName, "run")
}

// Default daemon socket path.
func Socket() string {
	return filepath.Join(Runtime(), appName+".sock")
}

// Default daemon PID file path.
func PIDFile() string {
	return filepath.Join(Runtime(), appName+".pid")
}

// Directory for verified toolchain installers.
//
//	Linux:   $XDG_CACHE_HOME/zpbuild/toolchain
//	macOS:   ~/Library/Caches/zpbuild/toolchain
func ToolchainCache() string {
	return filepath.Join(xdg.CacheHome, appName, "toolchain")
}

// Default configuration file path.
//
//	Linux:   $XDG_CONFIG_HOME/zpbuild/config.yaml
//	macOS:   ~/Library/Application Support/zpbuild/config.yaml
func ConfigFile() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}
