// Package util provides utility functions for the djbs block store.
package util

import "errors"

// Sentinel errors for package util.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// File and directory errors
	ErrExpectedFile      = errors.New("expected file, got directory")
	ErrExpectedDirectory = errors.New("expected directory but got file")

	// Digest errors
	ErrUnknownDigest  = errors.New("unknown digest algorithm")
	ErrInvalidDigest  = errors.New("invalid digest encoding")
	ErrDigestMismatch = errors.New("digest algorithm does not match store")

	// Export errors
	ErrUnknownCodec = errors.New("unknown compression codec")

	// Inode errors
	ErrInodeNotFound = errors.New("inode not found in registry")
)
