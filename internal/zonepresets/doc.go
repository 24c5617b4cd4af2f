// Package zonepresets describes how the roon-extension-zone-presets image is
// built.
//
// [Template] returns the two-stage recipe with the base image architecture
// left as the ${build_arch} variable; [Recipe] returns it resolved for one
// [Arch]. The builder stage provisions the worker account, installs a C
// toolchain and a fetch tool, installs the pinned Rust toolchain from a
// verified installer, compiles the dependencies of the locked manifest
// behind a cache checkpoint, and then compiles the extension in release
// mode. The runtime stage provisions the same account and receives only the
// compiled binary.
//
// [ImageConfig] and [Expect] describe the resulting image: the binary is the
// default command with no arguments and the image runs as the worker
// account.
package zonepresets
