package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TheAppgineer/zpbuild/internal/errx"
)

// Protocol version carried in every envelope.
const Version = 1

// Message delimiter.
const Delimiter = '\n'

var (
	ErrDecode  = errors.New("malformed message")
	ErrVersion = errors.New("unsupported protocol version")
)

// Request or response kind.
type Command string

const (
	CmdBuild      Command = "build"
	CmdVerify     Command = "verify"
	CmdCachePrune Command = "cache-prune"
	CmdStatus     Command = "status"
	CmdShutdown   Command = "shutdown"

	CmdOK    Command = "ok"
	CmdError Command = "error"
)

// Wire envelope.
type Envelope struct {
	Version int             `json:"version"`
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encodes a command and payload as a single JSON line without the trailing
// delimiter. A nil payload is omitted.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Version: Version, Command: cmd}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errx.Wrap(ErrDecode, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decodes one message. Surrounding whitespace, including the delimiter, is
// ignored.
func Decode(line []byte) (*Envelope, json.RawMessage, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil, errx.Wrapf(ErrDecode, "empty message")
	}

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, nil, errx.Wrap(ErrDecode, err)
	}
	if env.Version != Version {
		return nil, nil, errx.Wrapf(ErrVersion, "got %d, want %d", env.Version, Version)
	}
	if env.Command == "" {
		return nil, nil, errx.Wrapf(ErrDecode, "missing command")
	}
	return &env, env.Payload, nil
}

// Decodes a payload into T. An empty payload yields the zero value.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	v := new(T)
	if len(payload) == 0 {
		return v, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return nil, errx.Wrapf(ErrDecode, "%T: %w", *v, err)
	}
	return v, nil
}

// Error returned by the daemon.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon: %s", e.Message)
}
