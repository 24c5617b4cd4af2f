package manifest

import (
	"errors"
	"testing"
)

func TestParseFrom(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		kind    SourceKind
		value   string
		wantErr bool
	}{
		{name: "qualified reference", from: "docker.io/amd64/debian:bookworm-slim", kind: SourceReference, value: "docker.io/amd64/debian:bookworm-slim"},
		{name: "official image", from: "debian:bookworm-slim", kind: SourceReference, value: "docker.io/library/debian:bookworm-slim"},
		{name: "implicit latest", from: "debian", kind: SourceReference, value: "docker.io/library/debian:latest"},
		{name: "archive", from: "oci-archive:/tmp/base.tar", kind: SourceArchive, value: "/tmp/base.tar"},
		{name: "empty archive path", from: "oci-archive:", wantErr: true},
		{name: "empty", from: "  ", wantErr: true},
		{name: "invalid reference", from: "Debian:Bookworm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := Stage{From: tt.from}.ParseFrom()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRecipe) {
					t.Fatalf("err = %v, want ErrInvalidRecipe", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if src.Kind != tt.kind || src.Value != tt.value {
				t.Fatalf("ParseFrom = %v %q, want %v %q", src.Kind, src.Value, tt.kind, tt.value)
			}
		})
	}
}

func TestBaseRepository(t *testing.T) {
	if got := (Stage{From: "docker.io/arm32v7/debian:bookworm-slim"}).BaseRepository(); got != "arm32v7/debian" {
		t.Fatalf("BaseRepository = %q", got)
	}
	if got := (Stage{From: "oci-archive:base.tar"}).BaseRepository(); got != "" {
		t.Fatalf("archive BaseRepository = %q, want empty", got)
	}
}
