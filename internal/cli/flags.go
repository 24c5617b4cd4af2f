package cli

import (
	"github.com/TheAppgineer/zpbuild/internal/paths"
	"github.com/TheAppgineer/zpbuild/internal/runtime"
	"github.com/TheAppgineer/zpbuild/internal/toolchain"
	"github.com/TheAppgineer/zpbuild/internal/zonepresets"
)

// Selects the target architecture.
type ArchFlag struct {
	Arch string `help:"Target architecture (${enum})." enum:"${archs}" default:"${default_arch}" env:"ZPBUILD_ARCH"`
}

func (f ArchFlag) arch() (zonepresets.Arch, error) {
	return zonepresets.ParseArch(f.Arch)
}

// Controls where the rustup installer comes from and how it is checked.
type ToolchainFlags struct {
	ToolchainURL   string `name:"toolchain-url" help:"Root of the rustup installer archive." placeholder:"URL" env:"ZPBUILD_TOOLCHAIN_URL"`
	SignatureURL   string `name:"signature-url" help:"Detached signature URL template; {url} expands to the installer URL." placeholder:"URL" env:"ZPBUILD_SIGNATURE_URL"`
	Keyring        string `help:"OpenPGP keyring required to sign the installer." type:"existingfile" placeholder:"PATH" env:"ZPBUILD_KEYRING"`
	ToolchainCache string `name:"toolchain-cache" help:"Directory for verified installers." type:"path" placeholder:"DIR" env:"ZPBUILD_TOOLCHAIN_CACHE"`
}

// Returns the default pin with the flag overrides applied.
func (f ToolchainFlags) pin() toolchain.Pin {
	p := toolchain.DefaultPin()
	if f.ToolchainURL != "" {
		p.BaseURL = f.ToolchainURL
	}
	p.SignatureURL = f.SignatureURL
	return p
}

func (f ToolchainFlags) fetcher() (*toolchain.Fetcher, error) {
	dir := f.ToolchainCache
	if dir == "" {
		dir = paths.ToolchainCache()
	}
	fetcher := toolchain.NewFetcher(dir)
	if f.Keyring != "" {
		if err := fetcher.LoadKeyring(f.Keyring); err != nil {
			return nil, err
		}
	}
	return fetcher, nil
}

// Selects the containerd instance used for local builds and by the daemon.
type RuntimeFlags struct {
	ContainerdAddress string `name:"containerd-address" help:"Containerd socket address." default:"${containerd_address}" placeholder:"PATH" env:"ZPBUILD_CONTAINERD_ADDRESS"`
	Namespace         string `help:"Containerd namespace for images and containers." default:"${namespace}" env:"ZPBUILD_NAMESPACE"`
	Snapshotter       string `help:"Containerd snapshotter." default:"${snapshotter}" env:"ZPBUILD_SNAPSHOTTER"`
}

func (f RuntimeFlags) open() (*runtime.Runtime, error) {
	return runtime.New(f.ContainerdAddress, f.Namespace, runtime.WithSnapshotter(f.Snapshotter))
}

// Selects where the installer is downloaded.
type FetchModeFlag struct {
	Fetch string `help:"Where the installer is downloaded (${enum})." enum:"host,container" default:"host" env:"ZPBUILD_FETCH"`
}

func (f FetchModeFlag) fetchMode() (zonepresets.FetchMode, error) {
	return zonepresets.ParseFetchMode(f.Fetch)
}
