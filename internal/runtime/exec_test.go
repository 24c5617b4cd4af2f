package runtime

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func TestMergeEnv(t *testing.T) {
	tests := []struct {
		name      string
		base      []string
		overrides []string
		want      []string
	}{
		{
			name:      "worker home replaces root home",
			base:      []string{"PATH=/usr/bin:/bin", "HOME=/root"},
			overrides: []string{"HOME=/home/worker", "USER=worker"},
			want:      []string{"HOME=/home/worker", "PATH=/usr/bin:/bin", "USER=worker"},
		},
		{
			name:      "empty base",
			overrides: []string{"DEBIAN_FRONTEND=noninteractive"},
			want:      []string{"DEBIAN_FRONTEND=noninteractive"},
		},
		{
			name: "empty overrides",
			base: []string{"PATH=/usr/bin"},
			want: []string{"PATH=/usr/bin"},
		},
		{
			name: "both empty",
			want: []string{},
		},
		{
			name:      "value containing equals sign",
			base:      []string{"RUSTFLAGS=-C target-cpu=native"},
			overrides: nil,
			want:      []string{"RUSTFLAGS=-C target-cpu=native"},
		},
		{
			name:      "entries without equals sign dropped",
			base:      []string{"NOEQUALS", "A=1"},
			overrides: []string{"ALSO_BAD", "B=2"},
			want:      []string{"A=1", "B=2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeEnv(tt.base, tt.overrides)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mergeEnv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProcessUser(t *testing.T) {
	tests := []struct {
		name string
		user User
		want specs.User
	}{
		{"worker", User{UID: 1000, GID: 1000}, specs.User{UID: 1000, GID: 1000, AdditionalGids: []uint32{1000}}},
		{"distinct group", User{UID: 1000, GID: 1001}, specs.User{UID: 1000, GID: 1001, AdditionalGids: []uint32{1001}}},
		{"root", Root, specs.User{UID: 0, GID: 0, AdditionalGids: []uint32{0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, processUser(tt.user)); diff != "" {
				t.Errorf("processUser mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNextExecID(t *testing.T) {
	a := nextExecID()
	b := nextExecID()
	if a == b {
		t.Fatalf("nextExecID returned duplicate: %q", a)
	}
	if a == "" || b == "" {
		t.Fatal("nextExecID returned empty string")
	}
}
