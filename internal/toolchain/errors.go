package toolchain

import "errors"

var (
	ErrUnpinned         = errors.New("no pinned checksum for target")
	ErrDownload         = errors.New("toolchain download failed")
	ErrChecksumMismatch = errors.New("toolchain checksum mismatch")
	ErrSignature        = errors.New("toolchain signature verification failed")
	ErrKeyring          = errors.New("failed to load keyring")
)
