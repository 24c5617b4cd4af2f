package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/TheAppgineer/zpbuild/internal/errx"
)

// Writes a modified copy of the named image's manifest for the container's
// platform and returns the new root descriptor.
//
// When the image root is an index, the result is a new index holding only
// the modified manifest; other platforms are dropped since their layers were
// never fetched. The image record itself is not touched.
func (c *Container) rewriteImage(ctx context.Context, imageName string, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	img, err := c.client.ImageService().Get(ctx, imageName)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	target, index, err := c.platformManifest(ctx, img.Target, imageName)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	m, err := readJSON[ocispec.Manifest](ctx, c.client.ContentStore(), target)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	config, err := readJSON[ocispec.Image](ctx, c.client.ContentStore(), m.Config)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	mutate(&m, &config)

	if m.Config, err = c.writeJSON(ctx, m.Config.MediaType, config, imageName+"-config"); err != nil {
		return ocispec.Descriptor{}, err
	}
	manifestDesc, err := c.writeJSON(ctx, target.MediaType, m, imageName+"-manifest", manifestGCLabels(m))
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	if index == nil {
		return manifestDesc, nil
	}
	index.Manifests = []ocispec.Descriptor{manifestDesc}
	return c.writeJSON(ctx, img.Target.MediaType, index, imageName+"-index", indexGCLabels(*index))
}

// Resolves root to the manifest for the container's platform. The index is
// returned when root is one, nil otherwise.
//
// Index entries without platform metadata (common on Docker Hub) are matched
// by the platform recorded in their image config. An index with no match
// falls back to its first entry.
func (c *Container) platformManifest(ctx context.Context, root ocispec.Descriptor, imageName string) (ocispec.Descriptor, *ocispec.Index, error) {
	if !images.IsIndexType(root.MediaType) {
		return root, nil, nil
	}

	idx, err := readJSON[ocispec.Index](ctx, c.client.ContentStore(), root)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}
	if len(idx.Manifests) == 0 {
		return ocispec.Descriptor{}, nil, errx.Wrapf(ErrEmptyIndex, "%s", imageName)
	}

	p, err := platforms.Parse(c.platform)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	i, ok := c.matchManifest(ctx, idx, platforms.OnlyStrict(p))
	if !ok {
		i = 0
	}
	return idx.Manifests[i], &idx, nil
}

// Returns the position of the first manifest in idx matching the platform.
// Entries with explicit platforms are considered before those without.
func (c *Container) matchManifest(ctx context.Context, idx ocispec.Index, matcher platforms.MatchComparer) (int, bool) {
	for i, m := range idx.Manifests {
		if m.Platform != nil && matcher.Match(*m.Platform) {
			return i, true
		}
	}
	for i, m := range idx.Manifests {
		if m.Platform != nil || !images.IsManifestType(m.MediaType) {
			continue
		}
		if p, ok := c.configPlatform(ctx, m); ok && matcher.Match(p) {
			return i, true
		}
	}
	return 0, false
}

func (c *Container) configPlatform(ctx context.Context, desc ocispec.Descriptor) (ocispec.Platform, bool) {
	m, err := readJSON[ocispec.Manifest](ctx, c.client.ContentStore(), desc)
	if err != nil {
		return ocispec.Platform{}, false
	}
	config, err := readJSON[ocispec.Image](ctx, c.client.ContentStore(), m.Config)
	if err != nil {
		return ocispec.Platform{}, false
	}
	return ocispec.Platform{
		OS:           config.OS,
		Architecture: config.Architecture,
		Variant:      config.Variant,
	}, true
}

// Decodes a JSON blob from the content store.
func readJSON[T any](ctx context.Context, p content.Provider, desc ocispec.Descriptor) (T, error) {
	var v T
	b, err := content.ReadBlob(ctx, p, desc)
	if err != nil {
		return v, err
	}
	err = json.Unmarshal(b, &v)
	return v, err
}

// Writes v as a JSON blob with the given GC reference labels.
func (c *Container) writeJSON(ctx context.Context, mediaType string, v any, ref string, labels ...map[string]string) (ocispec.Descriptor, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}

	var opts []content.Opt
	for _, l := range labels {
		opts = append(opts, content.WithLabels(l))
	}
	if err := content.WriteBlob(ctx, c.client.ContentStore(), ref, bytes.NewReader(b), desc, opts...); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// GC reference labels tying a manifest blob to its config and layers.
func manifestGCLabels(m ocispec.Manifest) map[string]string {
	labels := refLabels("containerd.io/gc.ref.content.l", m.Layers)
	labels["containerd.io/gc.ref.content.config"] = m.Config.Digest.String()
	return labels
}

// GC reference labels tying an index blob to its manifests.
func indexGCLabels(idx ocispec.Index) map[string]string {
	return refLabels("containerd.io/gc.ref.content.m", idx.Manifests)
}

func refLabels(prefix string, descs []ocispec.Descriptor) map[string]string {
	labels := make(map[string]string, len(descs)+1)
	for i, d := range descs {
		labels[fmt.Sprintf("%s.%d", prefix, i)] = d.Digest.String()
	}
	return labels
}
