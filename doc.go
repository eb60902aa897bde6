// Package main provides the djbs command-line interface.
//
// djbs is a single node block store for worker jobs. Workers create named
// File:Tag objects, write them in fixed size blocks over a local socket and
// commit them; committed blocks with identical content share one physical
// block on disk.
//
// The main binary supports multiple subcommands:
//   - serve: Run the storage server
//   - mount: Mount the store read-only through FUSE
//   - format: Create an empty store
//   - validate: Check owner counts, links and the content index
//   - count: Show block and object counts
//   - export: Copy a committed object out of the store
//   - seed: Write test objects through a running server
package main
