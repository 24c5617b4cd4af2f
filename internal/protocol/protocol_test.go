package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/TheAppgineer/zpbuild/internal/manifest"
)

func TestEncodeDecode(t *testing.T) {
	req := BuildRequest{
		Recipe: &manifest.Recipe{Stages: []manifest.Stage{{
			From:  "docker.io/amd64/debian:bookworm-slim",
			Steps: []manifest.Step{{Run: "true", Env: map[string]string{"A": "1"}}},
		}}},
		Resource:  "app",
		Output:    "/tmp/dist",
		Platforms: []string{"linux/amd64"},
		Image:     manifest.ImageConfig{Cmd: []string{"/app"}},
		Cache:     true,
	}

	line, err := Encode(CmdBuild, req)
	require.NoError(t, err)
	require.NotContains(t, string(line), "\n")

	env, payload, err := Decode(append(line, Delimiter))
	require.NoError(t, err)
	require.Equal(t, CmdBuild, env.Command)
	require.Equal(t, Version, env.Version)

	got, err := DecodePayload[BuildRequest](payload)
	require.NoError(t, err)
	if diff := cmp.Diff(req, *got); diff != "" {
		t.Errorf("payload (-want +got):\n%s", diff)
	}
}

func TestEncodeNilPayload(t *testing.T) {
	line, err := Encode(CmdStatus, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"version":1,"command":"status"}`, string(line))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"empty", "\n", ErrDecode},
		{"not json", "hello\n", ErrDecode},
		{"old version", `{"version":0,"command":"status"}`, ErrVersion},
		{"missing command", `{"version":1}`, ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.line))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	got, err := DecodePayload[CachePruneRequest](nil)
	require.NoError(t, err)
	require.Equal(t, CachePruneRequest{}, *got)

	got, err = DecodePayload[CachePruneRequest](json.RawMessage(`{"resource":"app","dryRun":true}`))
	require.NoError(t, err)
	require.Equal(t, CachePruneRequest{Resource: "app", DryRun: true}, *got)

	_, err = DecodePayload[CachePruneRequest](json.RawMessage(`{"bogus":1}`))
	require.ErrorIs(t, err, ErrDecode)
}

func TestRemoteError(t *testing.T) {
	err := &RemoteError{Message: "build failed"}
	require.Equal(t, "daemon: build failed", err.Error())
}
