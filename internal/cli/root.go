package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/TheAppgineer/zpbuild/internal"
	"github.com/TheAppgineer/zpbuild/internal/paths"
	"github.com/TheAppgineer/zpbuild/internal/runtime"
	"github.com/TheAppgineer/zpbuild/internal/server"
	"github.com/TheAppgineer/zpbuild/internal/zonepresets"
)

// Flags accepted by every command.
type Globals struct {
	Quiet     bool            `short:"q" help:"Suppress informational output." env:"ZPBUILD_QUIET"`
	Verbose   bool            `short:"v" help:"Enable verbose output." env:"ZPBUILD_VERBOSE"`
	Debug     bool            `short:"d" help:"Enable debug output." env:"ZPBUILD_DEBUG"`
	LogFormat string          `help:"Log output format (${enum})." enum:"text,json" default:"${log_format}" env:"ZPBUILD_LOG_FORMAT"`
	Config    kong.ConfigFlag `help:"Read flag defaults from a YAML file." placeholder:"PATH"`
	Socket    string          `short:"s" help:"Override the default Unix socket path." placeholder:"PATH" env:"ZPBUILD_SOCKET"`
}

// Represents the root command.
type CLI struct {
	Globals

	Build    BuildCmd    `cmd:"" help:"Build the runtime image."`
	Verify   VerifyCmd   `cmd:"" help:"Check an exported image archive."`
	Render   RenderCmd   `cmd:"" help:"Print the build recipe."`
	Fetch    FetchCmd    `cmd:"" help:"Download and verify the pinned rustup installer."`
	Cache    CacheCmd    `cmd:"" help:"Manage checkpoint images."`
	Start    StartCmd    `cmd:"" help:"Start the build daemon."`
	Status   StatusCmd   `cmd:"" help:"Show daemon status."`
	Shutdown ShutdownCmd `cmd:"" help:"Stop the build daemon."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var root CLI
	parser, err := newParser(&root, []string{paths.ConfigFile()},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	root.configureLogger(os.Stderr)

	return kongCtx.Run(&root.Globals)
}

// Builds the command-line parser. Flag defaults are read from the first
// existing file in configPaths.
func newParser(root *CLI, configPaths []string, options ...kong.Option) (*kong.Kong, error) {
	archs := make([]string, 0, len(zonepresets.Archs()))
	for _, a := range zonepresets.Archs() {
		archs = append(archs, string(a))
	}

	base := []kong.Option{
		kong.Name(internal.Name),
		kong.Description("Builds the roon-extension-zone-presets container image.\n\n" +
			"Runs locally against containerd or through the build daemon."),
		kong.UsageOnError(),
		kong.Configuration(yamlLoader, configPaths...),
		kong.Vars{
			"version":            internal.VersionString(),
			"log_format":         internal.LogFormat(),
			"archs":              strings.Join(archs, ","),
			"default_arch":       string(zonepresets.DefaultArch),
			"containerd_address": server.DefaultContainerdAddress,
			"namespace":          server.DefaultContainerdNamespace,
			"snapshotter":        runtime.DefaultSnapshotter,
			"socket_group":       server.DefaultSocketGroup,
			"resource":           zonepresets.BinaryName,
		},
	}

	return kong.New(root, append(base, options...)...)
}

// Replaces the global logger according to the parsed flags. Linker-flag
// defaults still apply when a flag is unset.
func (g *Globals) configureLogger(w io.Writer) {
	if g.Debug {
		internal.SetDebug(true)
	}
	if g.Quiet {
		internal.SetQuiet(true)
	}
	if g.Verbose {
		internal.SetVerbose(true)
	}
	internal.SetLogFormat(g.LogFormat)

	slog.SetDefault(NewLogger(w))
}

// Creates a logger from the current runtime switches.
func NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     logLevel(),
		AddSource: internal.IsVerbose(),
	}

	var handler slog.Handler
	if internal.LogFormat() == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler.WithGroup(internal.Name))
}

func logLevel() slog.Level {
	switch {
	case internal.IsDebug():
		return slog.LevelDebug
	case internal.IsQuiet():
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
