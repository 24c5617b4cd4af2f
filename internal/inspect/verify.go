package inspect

import (
	"bufio"
	"bytes"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Names of the checked properties.
const (
	PropertyPlatform       = "platform"
	PropertySingleArtifact = "single-artifact"
	PropertyNoResidue      = "no-build-residue"
	PropertyAccount        = "account"
	PropertyNonRoot        = "non-root"
	PropertyDefaultCommand = "default-command"
)

// Path components and base names that betray a build toolchain, sources or
// lock files. Matched with [path.Match] against every component.
var DefaultForbidden = []string{
	".cargo", ".rustup", "target", "src",
	"Cargo.toml", "Cargo.lock", "*.rs",
	"rustup-init", "rustc", "cargo",
	"gcc", "gcc-*", "cc", "cc1", "ld",
}

// Top-level directories whose files are account and package bookkeeping
// rather than deliverables.
var bookkeepingDirs = []string{"etc", "var", "tmp", "run"}

// What a runtime image must look like.
type Expectation struct {
	Platform  ocispec.Platform `json:"platform"`            // Required OS, architecture and variant.
	Binary    string           `json:"binary"`              // Absolute path of the only deliverable.
	User      string           `json:"user"`                // Account name the image runs as.
	UID       int              `json:"uid"`                 // Account user ID.
	GID       int              `json:"gid"`                 // Account group ID.
	Forbidden []string         `json:"forbidden,omitempty"` // Residue patterns. Nil uses [DefaultForbidden].
}

// A failed property.
type Violation struct {
	Property string `json:"property"`
	Detail   string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Property, v.Detail)
}

// Checks img against exp and returns every violation found.
//
// Artifact and residue checks apply to the top layer, which holds
// everything the final stage added on top of its base image. Account files
// are looked up through all layers.
func Verify(img *Image, exp Expectation) []Violation {
	var out []Violation
	add := func(prop, format string, args ...any) {
		out = append(out, Violation{Property: prop, Detail: fmt.Sprintf(format, args...)})
	}

	checkPlatform(img.Platform(), exp.Platform, add)
	checkCommand(img.Config.Config, exp.Binary, add)
	checkNonRoot(img.Config.Config.User, exp, add)

	if img.LayerCount() == 0 {
		add(PropertySingleArtifact, "image has no layers")
		return out
	}

	top, err := img.Layer(-1)
	if err != nil {
		add(PropertySingleArtifact, "reading top layer: %v", err)
		return out
	}

	checkArtifact(top, exp.Binary, add)
	checkResidue(top, exp.Forbidden, add)
	checkAccount(img, exp, add)

	return out
}

type addFunc func(prop, format string, args ...any)

func checkPlatform(got, want ocispec.Platform, add addFunc) {
	if want.OS != "" && got.OS != want.OS {
		add(PropertyPlatform, "os is %q, want %q", got.OS, want.OS)
	}
	if got.Architecture != want.Architecture {
		add(PropertyPlatform, "architecture is %q, want %q", got.Architecture, want.Architecture)
	}
	if want.Variant != "" && got.Variant != want.Variant {
		add(PropertyPlatform, "variant is %q, want %q", got.Variant, want.Variant)
	}
}

func checkCommand(cfg ocispec.ImageConfig, binary string, add addFunc) {
	if len(cfg.Entrypoint) > 0 {
		add(PropertyDefaultCommand, "entrypoint is %q, want none", cfg.Entrypoint)
	}
	if !slices.Equal(cfg.Cmd, []string{binary}) {
		add(PropertyDefaultCommand, "cmd is %q, want [%q] with no arguments", cfg.Cmd, binary)
	}
}

func checkNonRoot(user string, exp Expectation, add addFunc) {
	name, _, _ := strings.Cut(user, ":")
	switch {
	case name == "" || name == "root" || name == "0":
		add(PropertyNonRoot, "image runs as root (user %q)", user)
	case name != exp.User && name != strconv.Itoa(exp.UID):
		add(PropertyNonRoot, "image runs as %q, want %q", user, exp.User)
	}
}

func checkArtifact(top *Layer, binary string, add addFunc) {
	want := cleanPath(binary)

	var executables []string
	for _, e := range top.Entries {
		if !e.IsExecutable() || isBookkeeping(e.Path) {
			continue
		}
		executables = append(executables, "/"+e.Path)
	}

	switch {
	case len(executables) == 0:
		add(PropertySingleArtifact, "no executable added, want %s", binary)
	case len(executables) > 1:
		add(PropertySingleArtifact, "%d executables added, want only %s: %s", len(executables), binary, strings.Join(executables, ", "))
	case executables[0] != "/"+want:
		add(PropertySingleArtifact, "executable %s added, want %s", executables[0], binary)
	}
}

func checkResidue(top *Layer, forbidden []string, add addFunc) {
	if forbidden == nil {
		forbidden = DefaultForbidden
	}
	for _, e := range top.Entries {
		if e.IsWhiteout() {
			continue
		}
		if pattern, ok := matchForbidden(e.Path, forbidden); ok {
			add(PropertyNoResidue, "/%s matches %q", e.Path, pattern)
		}
	}
}

func checkAccount(img *Image, exp Expectation, add addFunc) {
	_, passwd, err := img.Find("etc/passwd", true)
	if err != nil {
		add(PropertyAccount, "reading /etc/passwd: %v", err)
		return
	}
	uid, gid, ok := lookupPasswd(passwd, exp.User)
	switch {
	case !ok:
		add(PropertyAccount, "user %q not in /etc/passwd", exp.User)
	case uid != exp.UID || gid != exp.GID:
		add(PropertyAccount, "user %q is %d:%d, want %d:%d", exp.User, uid, gid, exp.UID, exp.GID)
	}

	_, group, err := img.Find("etc/group", true)
	if err != nil {
		add(PropertyAccount, "reading /etc/group: %v", err)
		return
	}
	ggid, ok := lookupGroup(group, exp.User)
	switch {
	case !ok:
		add(PropertyAccount, "group %q not in /etc/group", exp.User)
	case ggid != exp.GID:
		add(PropertyAccount, "group %q has gid %d, want %d", exp.User, ggid, exp.GID)
	}
}

// Returns the uid and gid of name from passwd(5) content.
func lookupPasswd(data []byte, name string) (uid, gid int, ok bool) {
	for fields := range colonRecords(data) {
		if len(fields) < 4 || fields[0] != name {
			continue
		}
		u, err1 := strconv.Atoi(fields[2])
		g, err2 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return u, g, true
	}
	return 0, 0, false
}

// Returns the gid of name from group(5) content.
func lookupGroup(data []byte, name string) (int, bool) {
	for fields := range colonRecords(data) {
		if len(fields) < 3 || fields[0] != name {
			continue
		}
		g, err := strconv.Atoi(fields[2])
		if err != nil {
			return 0, false
		}
		return g, true
	}
	return 0, false
}

// Yields the colon-separated fields of every non-comment line.
func colonRecords(data []byte) func(func([]string) bool) {
	return func(yield func([]string) bool) {
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if !yield(strings.Split(line, ":")) {
				return
			}
		}
	}
}

func isBookkeeping(p string) bool {
	first, _, _ := strings.Cut(p, "/")
	return slices.Contains(bookkeepingDirs, first)
}

func matchForbidden(p string, patterns []string) (string, bool) {
	for _, component := range strings.Split(p, "/") {
		for _, pattern := range patterns {
			if ok, _ := path.Match(pattern, component); ok {
				return pattern, true
			}
		}
	}
	return "", false
}

// Returns the digest of the file at p in the image.
func BinaryDigest(img *Image, p string) (digest.Digest, error) {
	e, _, err := img.Find(p, false)
	if err != nil {
		return "", err
	}
	return e.Digest, nil
}

// Outcome of comparing the binary of two images.
type Comparison struct {
	Path  string
	A, B  digest.Digest
	Equal bool
}

// Compares the file at p in two images.
func Compare(a, b *Image, p string) (Comparison, error) {
	da, err := BinaryDigest(a, p)
	if err != nil {
		return Comparison{}, err
	}
	db, err := BinaryDigest(b, p)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{Path: p, A: da, B: db, Equal: da == db}, nil
}
