// Package manifest defines build recipes and loads them from YAML or HCL.
//
// A [Recipe] is an ordered list of stages. Each [Stage] names a base image and
// an ordered list of steps. A [Step] is either an operation (a shell command
// or a file copy), a modifier that changes the state seen by later
// operations (shell, working directory, environment, user), a cache
// checkpoint, or a group of nested steps.
//
// Recipe values may reference variables as ${name}. Variables are declared
// with defaults in the recipe and can be overridden by the caller, which is
// how the build architecture reaches the base image references.
//
// Example recipe (YAML):
//
//	variables:
//	  build_arch: amd64
//	stages:
//	  - name: build
//	    from: docker.io/${build_arch}/debian:bookworm-slim
//	    transient: true
//	    steps:
//	      - run: cargo build --release
//	  - from: docker.io/${build_arch}/debian:bookworm-slim
//	    steps:
//	      - copy: build:/src/target/release/app /usr/local/bin/app
package manifest
