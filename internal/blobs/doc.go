// Package blobs maintains the crate's pre-built assembly artifacts.
//
// The crate ships one static archive per Cortex-M target (plus a
// linker-plugin-LTO flavour) built from asm.rs with a pinned toolchain.
// Assemble rebuilds them; CheckBlobs rebuilds and fails unless every archive
// is byte-identical to the committed one, which catches both stale and
// non-reproducible artifacts. The manifest helpers record BLAKE3 hashes so
// drift can be detected without a toolchain.
package blobs
