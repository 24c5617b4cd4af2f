package build

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/TheAppgineer/zpbuild/internal/errx"
	"github.com/TheAppgineer/zpbuild/internal/manifest"
)

// Repository prefix of committed checkpoint images.
const CachePrefix = "zpbuild-cache/"

// A top-level checkpoint with the key of everything before it.
type checkpoint struct {
	index int           // Position of the checkpoint step in the stage.
	label string        // Checkpoint label.
	key   digest.Digest // Digest of the stage inputs up to the checkpoint.
}

// Returns the image tag a checkpoint is committed to.
func cacheTag(resource string, key digest.Digest) string {
	return CachePrefix + cacheRepository(resource) + ":" + key.Encoded()
}

// Returns the name prefix of a resource's checkpoint images, or of all
// checkpoint images when resource is empty.
func CacheImagePrefix(resource string) string {
	if resource == "" {
		return CachePrefix
	}
	return CachePrefix + cacheRepository(resource) + ":"
}

var invalidRepoChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// Reduces a resource name to a valid repository path component.
func cacheRepository(resource string) string {
	r := invalidRepoChars.ReplaceAllString(strings.ToLower(resource), "-")
	r = strings.Trim(r, "._-")
	if r == "" {
		return "default"
	}
	return r
}

// Computes the keys of a stage's top-level checkpoints.
//
// Each key digests the base reference and its resolved digest, the platform,
// every step before the checkpoint and the content of every host path those
// steps copy. A
// cross-stage copy makes the stage depend on another container, so no
// checkpoint after it is returned.
func planCheckpoints(stage manifest.Stage, platform string, base digest.Digest, root string) ([]checkpoint, error) {
	last := -1
	for i, step := range stage.Steps {
		if step.Checkpoint != "" {
			last = i
		}
	}

	var plan []checkpoint

	d := digest.Canonical.Digester()
	h := d.Hash()
	fmt.Fprintf(h, "from %s\x00base %s\x00platform %s\x00", stage.From, base, platform)

	for i, step := range stage.Steps[:last+1] {
		if step.Checkpoint != "" {
			plan = append(plan, checkpoint{index: i, label: step.Checkpoint, key: d.Digest()})
			fmt.Fprintf(h, "checkpoint %s\x00", step.Checkpoint)
			continue
		}

		if hasStageCopy(step) {
			break
		}

		if err := hashStep(h, step, root); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// Reports whether a step or any nested step copies from another stage.
func hasStageCopy(step manifest.Step) bool {
	if src, _, ok := manifest.SplitCopy(step.Copy); ok {
		if _, _, ok := manifest.ParseStageSource(src); ok {
			return true
		}
	}
	for _, s := range step.Steps {
		if hasStageCopy(s) {
			return true
		}
	}
	return false
}

// Writes a step and the content of its host copy sources to w.
func hashStep(w io.Writer, step manifest.Step, root string) error {
	b, err := json.Marshal(step)
	if err != nil {
		return errx.Wrap(ErrCache, err)
	}
	w.Write(b)
	w.Write([]byte{0})

	if src, _, ok := manifest.SplitCopy(step.Copy); ok {
		if err := hashHostPath(w, hostPath(root, src)); err != nil {
			return errx.Wrapf(ErrCache, "copy source %s: %w", src, err)
		}
	}
	for _, s := range step.Steps {
		if err := hashStep(w, s, root); err != nil {
			return err
		}
	}
	return nil
}

// Writes the relative path, type, permission bits and content of every
// entry under p to w, in lexical order. Modification times are ignored.
func hashHostPath(w io.Writer, p string) error {
	return filepath.WalkDir(p, func(file string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(p, file)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\x00%s\x00", filepath.ToSlash(rel), info.Mode())

		switch {
		case info.Mode().IsRegular():
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(w, f); err != nil {
				return err
			}
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(file)
			if err != nil {
				return err
			}
			io.WriteString(w, link)
		}
		_, err = w.Write([]byte{0})
		return err
	})
}
