// Package toolchain fetches the pinned Rust installer and verifies it before
// it is handed to a build.
//
// A [Pin] names an exact rustup release, the Rust toolchain version it
// installs, and the expected digest of the installer for every supported
// target triple. [Fetcher.Fetch] downloads the installer once, checks its
// digest and, when a keyring is configured, its detached OpenPGP signature,
// and keeps the verified file in a cache keyed by version and triple. A
// cached file is re-verified on every use.
package toolchain
