package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/taigrr/colorhash"
	"github.com/zeebo/blake3"
)

// DigestSize is the size in bytes of every block digest. Both supported
// algorithms produce 256 bit sums.
const DigestSize = 32

// DigestAlgorithm names the function used to fingerprint block content.
type DigestAlgorithm string

const (
	DigestBLAKE3 DigestAlgorithm = "blake3"
	DigestSHA256 DigestAlgorithm = "sha256"
)

// DefaultDigest is used when a store is formatted without an explicit choice.
const DefaultDigest = DigestBLAKE3

// Digest is the fingerprint of one block's bytes.
type Digest [DigestSize]byte

// ParseDigestAlgorithm validates an algorithm name from configuration.
// An empty name selects DefaultDigest.
func ParseDigestAlgorithm(name string) (DigestAlgorithm, error) {
	switch DigestAlgorithm(name) {
	case "":
		return DefaultDigest, nil
	case DigestBLAKE3, DigestSHA256:
		return DigestAlgorithm(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDigest, name)
}

// Sum computes the digest of data.
func (a DigestAlgorithm) Sum(data []byte) Digest {
	switch a {
	case DigestSHA256:
		return sha256.Sum256(data)
	default:
		return blake3.Sum256(data)
	}
}

// New returns a streaming hash.Hash for the algorithm.
func (a DigestAlgorithm) New() hash.Hash {
	if a == DigestSHA256 {
		return sha256.New()
	}
	return blake3.New()
}

// String returns the lowercase hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, for log lines.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:6])
}

// ParseDigest decodes a 64 character hex string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidDigest, len(raw), DigestSize)
	}
	copy(d[:], raw)
	return d, nil
}

// BucketForKey maps an arbitrary key onto one of n buckets. The same key
// always lands in the same bucket, which is what lock sharding relies on.
func BucketForKey(key string, n int) int {
	if n <= 1 {
		return 0
	}
	bucket := int(colorhash.HashString(key)) % n
	if bucket < 0 {
		bucket = -bucket
	}
	return bucket
}
