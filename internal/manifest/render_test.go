package manifest

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteContainerfile(t *testing.T) {
	r := &Recipe{
		Variables: map[string]string{"build_arch": "amd64"},
		Stages: []Stage{
			{
				Name:      "build",
				From:      "docker.io/amd64/debian:bookworm-slim",
				Transient: true,
				Steps: []Step{
					{Run: "useradd -m worker"},
					{Copy: "src /home/worker/src"},
					{User: "worker", Workdir: "/home/worker"},
					{Env: map[string]string{"PATH": "/home/worker/.cargo/bin:/usr/bin", "B": "two words"}},
					{Checkpoint: "deps"},
					{Run: "cargo build --release", Env: map[string]string{"CARGO_INCREMENTAL": "0"}},
					{Run: "chown -R worker /x", User: "root"},
				},
			},
			{
				From: "docker.io/amd64/debian:bookworm-slim",
				Steps: []Step{
					{Copy: "build:/home/worker/target/release/app /home/worker/app"},
				},
			},
		},
	}

	var sb strings.Builder
	err := WriteContainerfile(&sb, r, RenderOptions{
		Image: ImageConfig{
			Cmd:    []string{"/home/worker/app"},
			User:   "worker",
			Labels: map[string]string{"org.opencontainers.image.title": "app"},
		},
		Args: []string{"build_arch"},
	})
	if err != nil {
		t.Fatalf("WriteContainerfile: %v", err)
	}

	want := `ARG build_arch=amd64

FROM docker.io/amd64/debian:bookworm-slim AS build
RUN useradd -m worker
COPY src /home/worker/src
WORKDIR /home/worker
USER worker
ENV B="two words" PATH=/home/worker/.cargo/bin:/usr/bin
# checkpoint: deps
RUN CARGO_INCREMENTAL=0 cargo build --release
USER root
RUN chown -R worker /x
USER worker

FROM docker.io/amd64/debian:bookworm-slim
COPY --from=build /home/worker/target/release/app /home/worker/app
LABEL org.opencontainers.image.title=app
USER worker
CMD ["/home/worker/app"]
`
	if diff := cmp.Diff(want, sb.String()); diff != "" {
		t.Fatalf("Containerfile mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteContainerfileCopyOwner(t *testing.T) {
	r := &Recipe{
		Stages: []Stage{
			{
				From: "docker.io/library/debian:bookworm-slim",
				Steps: []Step{
					{Copy: "Cargo.toml /opt/Cargo.toml"},
					{User: "worker", Workdir: "/home/worker"},
					{Copy: "src /home/worker/src"},
					{Copy: "extra /opt/extra", User: "0:0"},
					{Copy: "cfg /home/worker/cfg", User: "1000:1000"},
					{Copy: "build:/usr/bin/app /home/worker/app"},
				},
			},
		},
	}

	var sb strings.Builder
	if err := WriteContainerfile(&sb, r, RenderOptions{}); err != nil {
		t.Fatalf("WriteContainerfile: %v", err)
	}

	want := `FROM docker.io/library/debian:bookworm-slim
COPY Cargo.toml /opt/Cargo.toml
WORKDIR /home/worker
USER worker
COPY --chown=worker src /home/worker/src
USER 0:0
COPY extra /opt/extra
USER worker
USER 1000:1000
COPY --chown=1000:1000 cfg /home/worker/cfg
USER worker
COPY --from=build /usr/bin/app /home/worker/app
`
	if diff := cmp.Diff(want, sb.String()); diff != "" {
		t.Fatalf("Containerfile mismatch (-want +got):\n%s", diff)
	}
}
