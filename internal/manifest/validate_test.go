package manifest

import (
	"errors"
	"testing"
)

func base() string { return "docker.io/amd64/debian:bookworm-slim" }

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		recipe  Recipe
		wantErr bool
	}{
		{
			name: "two stages",
			recipe: Recipe{Stages: []Stage{
				{Name: "build", From: base(), Transient: true, Steps: []Step{{Run: "make"}}},
				{From: base(), Steps: []Step{{Copy: "build:/out/app /app"}}},
			}},
		},
		{
			name:    "no stages",
			recipe:  Recipe{},
			wantErr: true,
		},
		{
			name: "no final stage",
			recipe: Recipe{Stages: []Stage{
				{From: base(), Transient: true},
			}},
			wantErr: true,
		},
		{
			name: "final stage not last",
			recipe: Recipe{Stages: []Stage{
				{Name: "a", From: base()},
				{Name: "b", From: base(), Transient: true},
			}},
			wantErr: true,
		},
		{
			name: "two final stages",
			recipe: Recipe{Stages: []Stage{
				{Name: "a", From: base()},
				{Name: "b", From: base()},
			}},
			wantErr: true,
		},
		{
			name: "duplicate names",
			recipe: Recipe{Stages: []Stage{
				{Name: "a", From: base(), Transient: true},
				{Name: "a", From: base()},
			}},
			wantErr: true,
		},
		{
			name: "missing base",
			recipe: Recipe{Stages: []Stage{
				{Name: "a"},
			}},
			wantErr: true,
		},
		{
			name: "run and copy in one step",
			recipe: Recipe{Stages: []Stage{
				{From: base(), Steps: []Step{{Run: "x", Copy: "a /b"}}},
			}},
			wantErr: true,
		},
		{
			name: "checkpoint with modifier",
			recipe: Recipe{Stages: []Stage{
				{From: base(), Steps: []Step{{Checkpoint: "deps", User: "worker"}}},
			}},
			wantErr: true,
		},
		{
			name: "operation with nested steps",
			recipe: Recipe{Stages: []Stage{
				{From: base(), Steps: []Step{{Run: "x", Steps: []Step{{Run: "y"}}}}},
			}},
			wantErr: true,
		},
		{
			name: "copy from later stage",
			recipe: Recipe{Stages: []Stage{
				{Name: "a", From: base(), Transient: true, Steps: []Step{{Copy: "b:/x /x"}}},
				{Name: "b", From: base()},
			}},
			wantErr: true,
		},
		{
			name: "copy from own stage",
			recipe: Recipe{Stages: []Stage{
				{Name: "a", From: base(), Steps: []Step{{Copy: "a:/x /y"}}},
			}},
			wantErr: true,
		},
		{
			name: "relative cross-stage source",
			recipe: Recipe{Stages: []Stage{
				{Name: "a", From: base(), Transient: true},
				{From: base(), Steps: []Step{{Copy: "a:x /x"}}},
			}},
			wantErr: true,
		},
		{
			name: "copy missing destination",
			recipe: Recipe{Stages: []Stage{
				{From: base(), Steps: []Step{{Copy: "only-src"}}},
			}},
			wantErr: true,
		},
		{
			name: "relative workdir",
			recipe: Recipe{Stages: []Stage{
				{From: base(), Steps: []Step{{Workdir: "home"}}},
			}},
			wantErr: true,
		},
		{
			name: "nested group error",
			recipe: Recipe{Stages: []Stage{
				{From: base(), Steps: []Step{{User: "worker", Steps: []Step{{Copy: "a"}}}}},
			}},
			wantErr: true,
		},
		{
			name: "numeric user",
			recipe: Recipe{Stages: []Stage{
				{From: base(), Steps: []Step{{User: "1000:1000"}}},
			}},
		},
		{
			name: "named user with gid",
			recipe: Recipe{Stages: []Stage{
				{From: base(), Steps: []Step{{User: "worker:1000"}}},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.recipe.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRecipe) {
					t.Fatalf("err = %v, want ErrInvalidRecipe", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
