package zonepresets

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/TheAppgineer/zpbuild/internal/inspect"
	"github.com/TheAppgineer/zpbuild/internal/manifest"
	"github.com/TheAppgineer/zpbuild/internal/toolchain"
)

const (
	BinaryName = "roon-extension-zone-presets"
	User       = "worker"
	Group      = "worker"
	UID        = 1000
	GID        = 1000
	Home       = "/home/worker"

	// Base image family shared by both stages.
	BaseRepository = "debian"
	BaseTag        = "bookworm-slim"

	// Name of the builder stage.
	BuilderStage = "build"

	// Checkpoint separating dependency compilation from application
	// compilation.
	DepsCheckpoint = "deps"

	// Variable selecting the base image architecture variant.
	ArchVariable = "build_arch"
)

// Packages installed in the builder stage: a C toolchain for linking and
// native dependencies, and a fetch tool with trusted roots.
var BuilderPackages = []string{"gcc", "libc6-dev", "curl", "ca-certificates"}

// Build context inputs, relative to the context root.
var ContextInputs = []string{"Cargo.toml", "Cargo.lock", "LICENSE", "README.md", "src"}

// Where the rustup installer is obtained.
type FetchMode string

const (
	FetchHost      FetchMode = "host"      // Downloaded and verified on the host, then copied in.
	FetchContainer FetchMode = "container" // Downloaded and verified inside the builder.
)

// Parses a fetch mode. An empty value selects [FetchHost].
func ParseFetchMode(s string) (FetchMode, error) {
	switch FetchMode(s) {
	case "", FetchHost:
		return FetchHost, nil
	case FetchContainer:
		return FetchContainer, nil
	}
	return "", fmt.Errorf("unsupported fetch mode %q", s)
}

// Recipe parameters.
type Options struct {
	Arch      Arch
	Pin       toolchain.Pin
	Fetch     FetchMode
	Installer string // Host path of the verified installer. Required for [FetchHost].
	Jobs      int    // Cargo parallelism. Zero uses the builder's processor count.
}

// Returns the default options for arch.
func DefaultOptions(arch Arch) Options {
	return Options{
		Arch:  arch,
		Pin:   toolchain.DefaultPin(),
		Fetch: FetchHost,
	}
}

// Absolute path of the binary in the runtime image.
func BinaryPath() string {
	return path.Join(Home, BinaryName)
}

// Returns the recipe with the base image architecture left as the
// ${build_arch} variable, defaulting to opts.Arch.
//
// Host triple is bound to opts.Arch, so expanding the template for another
// architecture needs an installer fetched for that architecture. Only
// [FetchHost] is accepted: a container fetch would pin the installer
// checksum of opts.Arch into every expansion.
func Template(opts Options) (*manifest.Recipe, error) {
	fetch, err := ParseFetchMode(string(opts.Fetch))
	if err != nil {
		return nil, err
	}
	if fetch != FetchHost {
		return nil, fmt.Errorf("%w: template requires host fetch, got %q", ErrTemplate, fetch)
	}
	return template(opts)
}

// Returns the recipe resolved for opts.Arch.
func Recipe(opts Options) (*manifest.Recipe, error) {
	t, err := template(opts)
	if err != nil {
		return nil, err
	}
	r := t.Expand(t.ResolveVariables(nil))
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func template(opts Options) (*manifest.Recipe, error) {
	if opts.Arch == "" {
		opts.Arch = DefaultArch
	}
	if _, ok := archs[opts.Arch]; !ok {
		return nil, fmt.Errorf("unsupported build_arch %q", opts.Arch)
	}
	fetch, err := ParseFetchMode(string(opts.Fetch))
	if err != nil {
		return nil, err
	}
	opts.Fetch = fetch
	if opts.Fetch == FetchHost && opts.Installer == "" {
		return nil, fmt.Errorf("host fetch requires the installer path")
	}

	from := fmt.Sprintf("docker.io/${%s}/%s:%s", ArchVariable, BaseRepository, BaseTag)

	builder, err := builderSteps(opts)
	if err != nil {
		return nil, err
	}

	return &manifest.Recipe{
		Variables: map[string]string{ArchVariable: string(opts.Arch)},
		Stages: []manifest.Stage{
			{
				Name:      BuilderStage,
				From:      from,
				Transient: true,
				Steps:     builder,
			},
			{
				From:  from,
				Steps: runtimeSteps(),
			},
		},
	}, nil
}

// Image configuration of the runtime image.
func ImageConfig() manifest.ImageConfig {
	return manifest.ImageConfig{
		Cmd:        []string{BinaryPath()},
		User:       User,
		WorkingDir: Home,
		Labels: map[string]string{
			"org.opencontainers.image.title":  BinaryName,
			"org.opencontainers.image.source": "https://github.com/TheAppgineer/" + BinaryName,
		},
	}
}

// What the runtime image built for arch must look like.
func Expect(arch Arch) inspect.Expectation {
	return inspect.Expectation{
		Platform: arch.OCIPlatform(),
		Binary:   BinaryPath(),
		User:     User,
		UID:      UID,
		GID:      GID,
	}
}

// Creates the worker account. Runs as root and must be the first step of a
// stage. Everything a stage does as root happens before [workerStep].
func provisionStep() manifest.Step {
	return manifest.Step{
		Run: fmt.Sprintf(
			"groupadd --gid %d %s && useradd --uid %d --gid %d --create-home --home-dir %s --shell /bin/sh %s",
			GID, Group, UID, GID, Home, User,
		),
	}
}

// Makes every later step of the stage run as the worker account.
func workerStep() manifest.Step {
	return manifest.Step{
		User:    User,
		Workdir: Home,
		Env: map[string]string{
			"HOME": Home,
			"USER": User,
			"PATH": Home + "/.cargo/bin:/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		},
	}
}

func runtimeSteps() []manifest.Step {
	return []manifest.Step{
		provisionStep(),
		workerStep(),
		{Copy: fmt.Sprintf("%s:%s/target/release/%s %s", BuilderStage, Home, BinaryName, BinaryPath())},
	}
}

func builderSteps(opts Options) ([]manifest.Step, error) {
	triple := opts.Arch.Triple()
	sum, err := opts.Pin.Checksum(triple)
	if err != nil {
		return nil, err
	}

	const installer = "/tmp/rustup-init"

	steps := []manifest.Step{
		provisionStep(),
		{
			Run: "apt-get update && apt-get install -y --no-install-recommends " +
				strings.Join(BuilderPackages, " ") +
				" && rm -rf /var/lib/apt/lists/*",
			Env: map[string]string{"DEBIAN_FRONTEND": "noninteractive"},
		},
	}

	switch opts.Fetch {
	case FetchHost:
		steps = append(steps, manifest.Step{Copy: opts.Installer + " " + installer})
	case FetchContainer:
		steps = append(steps, manifest.Step{
			Run: fmt.Sprintf(
				"curl --proto '=https' --tlsv1.2 -sSfL -o %s %s && echo '%s  %s' | sha256sum -c -",
				installer, opts.Pin.URL(triple), sum.Encoded(), installer,
			),
		})
	}
	steps = append(steps, manifest.Step{
		Run: fmt.Sprintf("chown %s:%s %s && chmod 0755 %s", User, Group, installer, installer),
	})

	for _, f := range ContextInputs {
		if f == "src" {
			continue
		}
		steps = append(steps, manifest.Step{Copy: f + " " + path.Join(Home, f)})
	}

	steps = append(steps,
		manifest.Step{Run: fmt.Sprintf("chown -R %s:%s %s", User, Group, Home)},
		workerStep(),
		manifest.Step{Run: fmt.Sprintf(
			"%s -y --no-modify-path --profile minimal --default-toolchain %s --default-host %s && rm -f %s",
			installer, opts.Pin.RustVersion, triple, installer,
		)},
		manifest.Step{Run: "mkdir -p src && echo 'fn main() {}' > src/main.rs && " +
			cargoBuild(opts.Jobs) +
			" && rm -rf src target/release/.fingerprint/" + BinaryName + "-*"},
		manifest.Step{Checkpoint: DepsCheckpoint},
		manifest.Step{Copy: "src " + path.Join(Home, "src")},
		manifest.Step{Run: "touch src/main.rs && " + cargoBuild(opts.Jobs)},
	)

	return steps, nil
}

func cargoBuild(jobs int) string {
	j := "$(nproc)"
	if jobs > 0 {
		j = strconv.Itoa(jobs)
	}
	return "cargo build --release --locked -j " + j
}
