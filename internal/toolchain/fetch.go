package toolchain

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/opencontainers/go-digest"

	"github.com/TheAppgineer/zpbuild/internal/errx"
	"github.com/TheAppgineer/zpbuild/internal/paths"
)

const (

	// Name of the installer inside the cache and the build context.
	installerName = "rustup-init"

	// Upper bound on the installer size.
	maxInstallerSize = 64 << 20

	// Upper bound on a detached signature.
	maxSignatureSize = 16 << 10
)

// Downloads and verifies pinned installers.
type Fetcher struct {
	client   *http.Client       // Client used for installer and signature downloads.
	cacheDir string             // Root of the verified-installer cache.
	keyring  openpgp.EntityList // Keys accepted for signatures. Empty disables signature checks.
	limit    int64              // Largest accepted installer, in bytes.
}

// Creates a [Fetcher] caching into cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: 5 * time.Minute},
		cacheDir: cacheDir,
		limit:    maxInstallerSize,
	}
}

// Replaces the HTTP client.
func (f *Fetcher) WithClient(c *http.Client) *Fetcher {
	f.client = c
	return f
}

// Reads an armored or binary keyring and requires signatures from it.
func (f *Fetcher) LoadKeyring(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return errx.Wrap(ErrKeyring, err)
	}
	defer fh.Close()

	entities, err := openpgp.ReadArmoredKeyRing(fh)
	if err != nil {
		if _, seekErr := fh.Seek(0, io.SeekStart); seekErr != nil {
			return errx.Wrap(ErrKeyring, seekErr)
		}
		entities, err = openpgp.ReadKeyRing(fh)
		if err != nil {
			return errx.Wrap(ErrKeyring, err)
		}
	}
	if len(entities) == 0 {
		return errx.Wrapf(ErrKeyring, "no keys in %s", path)
	}

	f.keyring = append(f.keyring, entities...)
	return nil
}

// Adds already parsed keys to the keyring.
func (f *Fetcher) AddKeys(entities openpgp.EntityList) {
	f.keyring = append(f.keyring, entities...)
}

// Returns where the installer for the target triple is cached. The file
// exists only after a successful [Fetcher.Fetch].
func (f *Fetcher) Path(pin Pin, triple string) string {
	return filepath.Join(f.cacheDir, pin.RustupVersion, triple, installerName)
}

// Returns the path of a verified installer for the target triple.
//
// A cached installer is used when its digest still matches the pin.
// Otherwise the installer is downloaded into a temporary file next to the
// cache entry, verified, and renamed into place. Nothing unverified is ever
// left at the cache path.
func (f *Fetcher) Fetch(ctx context.Context, pin Pin, triple string) (string, error) {
	want, err := pin.Checksum(triple)
	if err != nil {
		return "", err
	}

	dest := f.Path(pin, triple)

	if ok, err := fileMatches(dest, want); err == nil && ok {
		slog.Debug("toolchain installer cached", "path", dest, "digest", want)
		if err := f.verifySignature(ctx, pin, triple, dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), paths.DefaultDirMode); err != nil {
		return "", errx.Wrap(ErrDownload, err)
	}

	url := pin.URL(triple)
	slog.Info("fetching toolchain installer", "url", url, "triple", triple)

	tmp, err := os.CreateTemp(filepath.Dir(dest), installerName+".*")
	if err != nil {
		return "", errx.Wrap(ErrDownload, err)
	}
	defer os.Remove(tmp.Name())

	got, err := f.download(ctx, url, tmp, want.Algorithm())
	tmp.Close()
	if err != nil {
		return "", err
	}

	if got != want {
		return "", errx.Wrapf(ErrChecksumMismatch, "%s: got %s, want %s", url, got, want)
	}

	if err := f.verifySignature(ctx, pin, triple, tmp.Name()); err != nil {
		return "", err
	}

	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return "", errx.Wrap(ErrDownload, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", errx.Wrap(ErrDownload, err)
	}

	slog.Info("toolchain installer verified", "path", dest, "digest", got)
	return dest, nil
}

// Streams url into w and returns the digest of what was written.
func (f *Fetcher) download(ctx context.Context, url string, w io.Writer, alg digest.Algorithm) (digest.Digest, error) {
	// Read one byte past the limit to detect oversized bodies.
	body, err := f.get(ctx, url, f.limit+1)
	if err != nil {
		return "", err
	}
	defer body.Close()

	digester := alg.Digester()
	n, err := io.Copy(io.MultiWriter(w, digester.Hash()), body)
	if err != nil {
		return "", errx.Wrap(ErrDownload, err)
	}
	if n > f.limit {
		return "", errx.Wrapf(ErrDownload, "%s exceeds %d bytes", url, f.limit)
	}
	return digester.Digest(), nil
}

// Checks the detached signature of path when a keyring and a signature URL
// are configured.
func (f *Fetcher) verifySignature(ctx context.Context, pin Pin, triple, path string) error {
	sigURL := pin.SignatureFor(triple)
	if len(f.keyring) == 0 || sigURL == "" {
		return nil
	}

	body, err := f.get(ctx, sigURL, maxSignatureSize)
	if err != nil {
		return errx.Wrap(ErrSignature, err)
	}
	defer body.Close()

	sig, err := io.ReadAll(body)
	if err != nil {
		return errx.Wrap(ErrSignature, err)
	}

	return f.checkSignature(path, sig)
}

// Verifies an armored or binary detached signature over the file at path.
func (f *Fetcher) checkSignature(path string, sig []byte) error {
	data, err := os.Open(path)
	if err != nil {
		return errx.Wrap(ErrSignature, err)
	}
	defer data.Close()

	if isArmored(sig) {
		sig = bytes.TrimLeft(sig, armorSpace)
		_, err = openpgp.CheckArmoredDetachedSignature(f.keyring, data, bytes.NewReader(sig), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(f.keyring, data, bytes.NewReader(sig), nil)
	}
	if err != nil {
		return errx.Wrap(ErrSignature, err)
	}

	slog.Debug("toolchain signature verified", "path", path)
	return nil
}

// Issues a GET and returns the body limited to max bytes.
func (f *Fetcher) get(ctx context.Context, url string, max int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errx.Wrap(ErrDownload, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errx.Wrap(ErrDownload, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errx.Wrapf(ErrDownload, "%s: status %d", url, resp.StatusCode)
	}

	return limitedBody{Reader: io.LimitReader(resp.Body, max), Closer: resp.Body}, nil
}

// Reports whether the file at path has digest want.
func fileMatches(path string, want digest.Digest) (bool, error) {
	fh, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer fh.Close()

	got, err := want.Algorithm().FromReader(fh)
	if err != nil {
		return false, err
	}
	if got != want {
		slog.Warn("cached toolchain installer does not match pin, refetching", "path", path, "got", got, "want", want)
		return false, nil
	}
	return true, nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}

const armorSpace = " \t\r\n"

func isArmored(sig []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(sig, armorSpace), []byte("-----BEGIN PGP SIGNATURE-----"))
}
