// Parses flags and configuration and dispatches zpbuild commands.
//
// Global flags, accepted by every command:
//
//	-q, --quiet        Suppress informational output.
//	-v, --verbose      Enable verbose output.
//	-d, --debug        Enable debug output.
//	    --log-format   Log output format, text or json.
//	    --config       YAML file with flag defaults.
//	-s, --socket       Daemon socket path.
//
// Flag values come, in order of precedence, from the command line, from
// ZPBUILD_* environment variables, from the configuration file and from
// build-time defaults set via linker flags. The configuration file is read
// from the user configuration directory unless --config names another.
//
// After parsing, the global logger is reconfigured to reflect the final
// level, format and verbosity before the command runs.
package cli
