// Package cmd provides the command-line interface implementation for djbs.
//
// It uses the Cobra library for command structure and Fang for styling.
// Every command reads the YAML config named by --config (or $DJBS_CONFIG)
// and builds its slog logger from the log section.
//
// The package is organized into the following commands:
//   - serve: storage server on a unix or tcp socket, plus /metrics
//   - mount: read-only FUSE view of committed and in-progress objects
//   - format: create an empty store
//   - validate: consistency check with optional repair
//   - count: block and object statistics
//   - export: copy a committed object out, optionally compressed
//   - seed: load generator that writes through a running server
package cmd
