package manifest

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"

	"github.com/TheAppgineer/zpbuild/internal/errx"
)

// Prefix marking a stage base as a local OCI archive.
const archivePrefix = "oci-archive:"

// Kind of stage base image.
type SourceKind int

const (
	SourceReference SourceKind = iota // Registry reference, pulled on demand.
	SourceArchive                     // Local OCI archive, imported on demand.
)

func (k SourceKind) String() string {
	switch k {
	case SourceArchive:
		return "archive"
	default:
		return "reference"
	}
}

// Resolved base image of a stage.
type Source struct {
	Kind  SourceKind
	Value string // Fully qualified reference, or archive path.
}

// Resolves the stage's From field.
//
// Registry references are normalized to their fully qualified form, so
// "debian:bookworm-slim" becomes "docker.io/library/debian:bookworm-slim".
func (s Stage) ParseFrom() (Source, error) {
	from := strings.TrimSpace(s.From)
	if from == "" {
		return Source{}, errx.Wrapf(ErrInvalidRecipe, "stage %s has no base image", stageLabel(s.Name))
	}

	if path, ok := strings.CutPrefix(from, archivePrefix); ok {
		if path == "" {
			return Source{}, errx.Wrapf(ErrInvalidRecipe, "empty archive path in %q", from)
		}
		return Source{Kind: SourceArchive, Value: path}, nil
	}

	named, err := reference.ParseNormalizedNamed(from)
	if err != nil {
		return Source{}, errx.Wrapf(ErrInvalidRecipe, "base image %q: %w", from, err)
	}
	named = reference.TagNameOnly(named)

	return Source{Kind: SourceReference, Value: named.String()}, nil
}

// Returns the repository path of a registry base, without domain or tag.
// Archive bases return an empty string.
func (s Stage) BaseRepository() string {
	src, err := s.ParseFrom()
	if err != nil || src.Kind != SourceReference {
		return ""
	}
	named, err := reference.ParseNormalizedNamed(src.Value)
	if err != nil {
		return ""
	}
	return reference.Path(named)
}

func stageLabel(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return fmt.Sprintf("%q", name)
}
