package manifest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExpand(t *testing.T) {
	r := &Recipe{
		Variables: map[string]string{"build_arch": "amd64", "home": "/home/worker"},
		Stages: []Stage{{
			Name: "build",
			From: "docker.io/${build_arch}/debian:bookworm-slim",
			Steps: []Step{
				{Workdir: "${home}"},
				{Run: "cargo build -j $(nproc) --target-dir ${home}/target ${UNSET}"},
				{Env: map[string]string{"CARGO_HOME": "${home}/.cargo"}},
				{Steps: []Step{{Copy: "src ${home}/src"}}},
			},
		}},
	}

	got := r.Expand(r.ResolveVariables(map[string]string{"build_arch": "arm64v8"}))

	want := &Recipe{
		Variables: map[string]string{"build_arch": "arm64v8", "home": "/home/worker"},
		Stages: []Stage{{
			Name: "build",
			From: "docker.io/arm64v8/debian:bookworm-slim",
			Steps: []Step{
				{Workdir: "/home/worker"},
				{Run: "cargo build -j $(nproc) --target-dir /home/worker/target ${UNSET}"},
				{Env: map[string]string{"CARGO_HOME": "/home/worker/.cargo"}},
				{Steps: []Step{{Copy: "src /home/worker/src"}}},
			},
		}},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Expand mismatch (-want +got):\n%s", diff)
	}

	// The source recipe is untouched.
	if r.Stages[0].From != "docker.io/${build_arch}/debian:bookworm-slim" {
		t.Fatalf("source recipe mutated: %q", r.Stages[0].From)
	}
}

func TestResolveVariables(t *testing.T) {
	r := &Recipe{Variables: map[string]string{"a": "1", "b": "2"}}
	got := r.ResolveVariables(map[string]string{"b": "3", "c": "4"})
	want := map[string]string{"a": "1", "b": "3", "c": "4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ResolveVariables mismatch (-want +got):\n%s", diff)
	}
}
