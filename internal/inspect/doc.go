// Package inspect reads exported OCI image archives and checks them against
// the properties a runtime image must hold.
//
// [Open] loads the index, manifest and config of an archive written by the
// build. Layers are streamed on demand with [Image.Layer], decompressing
// gzip and zstd media types, and reduced to a list of entries with the
// digest of every regular file. [Verify] evaluates an [Expectation]
// (platform, single executable artifact, absence of build residue, account
// provisioning, non-root user and default command) and returns the
// violations it finds. [Compare] checks that two archives carry the same
// binary, which is how rebuild reproducibility is established.
//
// Example usage:
//
//	img, err := inspect.Open("dist/image.tar")
//	if err != nil {
//	    return err
//	}
//	for _, v := range inspect.Verify(img, expectation) {
//	    fmt.Println(v)
//	}
package inspect
