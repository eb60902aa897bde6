// Package util provides core utilities shared by the djbs storage tier.
//
// This package contains the small building blocks that the store, the
// FUSE view and the command line tools all depend on: block content
// digests, bucketing of keys onto lock shards, JSON descriptor files,
// stream compression for exports and stable inode numbers for the FUSE view.
//
// Key Components:
//
// Content Digests:
//   - BLAKE3 (default) and SHA-256 block digests behind DigestAlgorithm
//   - Fixed 32 byte Digest values with hex text encoding
//   - Bucket assignment of arbitrary keys via colorhash
//
// Descriptors:
//   - Descriptor records the geometry of a store (block size, block count,
//     digest algorithm) in store.config
//   - WriteJSONFile and ReadJSONFile with atomic replace semantics
//
// Compression:
//   - zstd and lz4 stream writers used by object export
//
// Everything here is safe for concurrent use unless noted otherwise.
package util
