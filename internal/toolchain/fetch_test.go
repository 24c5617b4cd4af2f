package toolchain

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const triple = "x86_64-unknown-linux-gnu"

type installerServer struct {
	*httptest.Server
	payload   []byte
	signature []byte
	hits      atomic.Int32
}

func newInstallerServer(t *testing.T, payload []byte) *installerServer {
	t.Helper()
	s := &installerServer{payload: payload}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/0.0.0/"):
			http.NotFound(w, r)
		case strings.HasSuffix(r.URL.Path, "/rustup-init.asc"):
			if s.signature == nil {
				http.NotFound(w, r)
				return
			}
			w.Write(s.signature)
		case strings.HasSuffix(r.URL.Path, "/rustup-init"):
			s.hits.Add(1)
			w.Write(s.payload)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func testPin(baseURL string, payload []byte) Pin {
	return Pin{
		RustVersion:   "1.82.0",
		RustupVersion: "1.27.1",
		BaseURL:       baseURL,
		Checksums:     map[string]digest.Digest{triple: digest.FromBytes(payload)},
	}
}

func TestFetchVerifiesAndCaches(t *testing.T) {
	payload := []byte("#!/bin/sh\necho rustup\n")
	srv := newInstallerServer(t, payload)
	f := NewFetcher(t.TempDir())

	path, err := f.Fetch(context.Background(), testPin(srv.URL, payload), triple)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "installer should be executable")

	again, err := f.Fetch(context.Background(), testPin(srv.URL, payload), triple)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.EqualValues(t, 1, srv.hits.Load(), "cached installer should not be downloaded again")
}

func TestFetchRefetchesTamperedCache(t *testing.T) {
	payload := []byte("installer")
	srv := newInstallerServer(t, payload)
	f := NewFetcher(t.TempDir())
	pin := testPin(srv.URL, payload)

	path, err := f.Fetch(context.Background(), pin, triple)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o755))

	_, err = f.Fetch(context.Background(), pin, triple)
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.hits.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFetchChecksumMismatch(t *testing.T) {
	srv := newInstallerServer(t, []byte("served"))
	cache := t.TempDir()
	f := NewFetcher(cache)

	_, err := f.Fetch(context.Background(), testPin(srv.URL, []byte("expected")), triple)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	_, statErr := os.Stat(filepath.Join(cache, "1.27.1", triple, installerName))
	assert.True(t, os.IsNotExist(statErr), "unverified installer left in cache")
}

func TestFetchUnpinnedTriple(t *testing.T) {
	f := NewFetcher(t.TempDir())
	_, err := f.Fetch(context.Background(), testPin("http://127.0.0.1:0", nil), "riscv64gc-unknown-linux-gnu")
	assert.ErrorIs(t, err, ErrUnpinned)
}

func TestFetchHTTPError(t *testing.T) {
	srv := newInstallerServer(t, []byte("x"))
	pin := testPin(srv.URL, []byte("x"))
	pin.RustupVersion = "0.0.0"

	_, err := NewFetcher(t.TempDir()).WithClient(srv.Client()).Fetch(context.Background(), pin, triple)
	assert.ErrorIs(t, err, ErrDownload)
	assert.Zero(t, srv.hits.Load())
}

func TestFetchCancelled(t *testing.T) {
	srv := newInstallerServer(t, []byte("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFetcher(t.TempDir()).Fetch(ctx, testPin(srv.URL, []byte("x")), triple)
	assert.ErrorIs(t, err, ErrDownload)
}

func newSigner(t *testing.T) *openpgp.Entity {
	t.Helper()
	e, err := openpgp.NewEntity("release", "", "release@example.com", nil)
	require.NoError(t, err)
	return e
}

func sign(t *testing.T, e *openpgp.Entity, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&buf, e, bytes.NewReader(payload), nil))
	return buf.Bytes()
}

func TestFetchSignature(t *testing.T) {
	payload := []byte("signed installer")
	signer := newSigner(t)

	srv := newInstallerServer(t, payload)
	srv.signature = sign(t, signer, payload)

	pin := testPin(srv.URL, payload)
	pin.SignatureURL = "{url}.asc"

	f := NewFetcher(t.TempDir())
	f.AddKeys(openpgp.EntityList{signer})

	_, err := f.Fetch(context.Background(), pin, triple)
	require.NoError(t, err)
}

func TestFetchBadSignature(t *testing.T) {
	payload := []byte("signed installer")
	signer := newSigner(t)

	srv := newInstallerServer(t, payload)
	srv.signature = sign(t, signer, []byte("something else"))

	pin := testPin(srv.URL, payload)
	pin.SignatureURL = "{url}.asc"

	f := NewFetcher(t.TempDir())
	f.AddKeys(openpgp.EntityList{signer})

	_, err := f.Fetch(context.Background(), pin, triple)
	assert.ErrorIs(t, err, ErrSignature)
}

func TestFetchUnknownSigner(t *testing.T) {
	payload := []byte("signed installer")

	srv := newInstallerServer(t, payload)
	srv.signature = sign(t, newSigner(t), payload)

	pin := testPin(srv.URL, payload)
	pin.SignatureURL = "{url}.asc"

	f := NewFetcher(t.TempDir())
	f.AddKeys(openpgp.EntityList{newSigner(t)})

	_, err := f.Fetch(context.Background(), pin, triple)
	assert.ErrorIs(t, err, ErrSignature)
}

func TestLoadKeyring(t *testing.T) {
	signer := newSigner(t)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, signer.Serialize(w))
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "keys.asc")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	f := NewFetcher(t.TempDir())
	require.NoError(t, f.LoadKeyring(path))
	assert.Len(t, f.keyring, 1)

	empty := filepath.Join(t.TempDir(), "empty.asc")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.ErrorIs(t, f.LoadKeyring(empty), ErrKeyring)
}

func TestFetchSizeLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"below limit", 15, false},
		{"exactly limit", 16, false},
		{"over limit", 17, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{'x'}, tt.size)
			srv := newInstallerServer(t, payload)

			f := NewFetcher(t.TempDir())
			f.limit = 16

			_, err := f.Fetch(context.Background(), testPin(srv.URL, payload), triple)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDownload)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFetchArmoredSignatureWithLeadingWhitespace(t *testing.T) {
	payload := []byte("signed installer")
	signer := newSigner(t)

	srv := newInstallerServer(t, payload)
	srv.signature = append([]byte("\n\r\n  "), sign(t, signer, payload)...)

	pin := testPin(srv.URL, payload)
	pin.SignatureURL = "{url}.asc"

	f := NewFetcher(t.TempDir())
	f.AddKeys(openpgp.EntityList{signer})

	_, err := f.Fetch(context.Background(), pin, triple)
	require.NoError(t, err)
}

func TestIsArmored(t *testing.T) {
	assert.True(t, isArmored([]byte("-----BEGIN PGP SIGNATURE-----\n")))
	assert.True(t, isArmored([]byte("\n\t-----BEGIN PGP SIGNATURE-----\n")))
	assert.False(t, isArmored([]byte{0x88, 0x75}))
	assert.False(t, isArmored(nil))
}
