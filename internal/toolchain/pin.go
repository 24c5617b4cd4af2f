package toolchain

import (
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/TheAppgineer/zpbuild/internal/errx"
)

// Default location of versioned rustup installers.
const DefaultBaseURL = "https://static.rust-lang.org/rustup/archive"

// Exact toolchain provisioning inputs.
type Pin struct {
	RustVersion   string                   // Toolchain installed by rustup, e.g. "1.82.0".
	RustupVersion string                   // rustup release providing the installer.
	BaseURL       string                   // Archive root. Empty uses [DefaultBaseURL].
	Checksums     map[string]digest.Digest // Installer digest per target triple.
	SignatureURL  string                   // Optional detached signature URL template; "{url}" expands to the installer URL.
}

// Default pin. The digests are those published for rustup 1.27.1.
func DefaultPin() Pin {
	return Pin{
		RustVersion:   "1.82.0",
		RustupVersion: "1.27.1",
		BaseURL:       DefaultBaseURL,
		Checksums: map[string]digest.Digest{
			"x86_64-unknown-linux-gnu":      "sha256:6aeece6993e902708983b209d04c0d1dbb14ebb405ddb87def578d41f920f56d",
			"aarch64-unknown-linux-gnu":     "sha256:1cffbf51e63e634c746f741de50649bbbcbd9dbe1de363c9ecef64e278dba2b2",
			"armv7-unknown-linux-gnueabihf": "sha256:3c4114923305f1cd3b96ce3454e9e549ad4aa7c07c03aec73d1a785e98388bed",
			"i686-unknown-linux-gnu":        "sha256:0a6bed6e9f21192a51f83977716466895706059afb880500ff1d0e751ada5237",
		},
	}
}

// Returns the installer URL for a target triple.
func (p Pin) URL(triple string) string {
	base := p.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return fmt.Sprintf("%s/%s/%s/rustup-init", strings.TrimRight(base, "/"), p.RustupVersion, triple)
}

// Returns the detached signature URL for a target triple, or "" when the pin
// has no signature template.
func (p Pin) SignatureFor(triple string) string {
	if p.SignatureURL == "" {
		return ""
	}
	return strings.ReplaceAll(p.SignatureURL, "{url}", p.URL(triple))
}

// Returns the pinned digest for a target triple.
func (p Pin) Checksum(triple string) (digest.Digest, error) {
	d, ok := p.Checksums[triple]
	if !ok {
		return "", errx.Wrapf(ErrUnpinned, "%s (rustup %s)", triple, p.RustupVersion)
	}
	if err := d.Validate(); err != nil {
		return "", errx.Wrapf(ErrUnpinned, "%s: %w", triple, err)
	}
	return d, nil
}

func (p Pin) String() string {
	return fmt.Sprintf("rust %s via rustup %s", p.RustVersion, p.RustupVersion)
}
