package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dendrascience/dendra-blockstore/version"
)

// DescriptorFile is the name of the store geometry record under the root.
const DescriptorFile = "store.config"

// Descriptor records the geometry a store was formatted with. Attaching
// with a different block size or digest would silently corrupt the
// content index, so it is checked on every open.
type Descriptor struct {
	BlockSize   int64           `json:"block_size"`
	BlockCount  int64           `json:"block_count"`
	Digest      DigestAlgorithm `json:"digest"`
	DJBSVersion string          `json:"djbs_version"`
	Created     time.Time       `json:"created"`
}

// GetVersion returns the current djbs version string.
// It delegates to the version package to get the version information.
func GetVersion() string {
	return version.GetVersion()
}

// NewDescriptor creates a descriptor stamped with the running version.
func NewDescriptor(blockSize, blockCount int64, digest DigestAlgorithm) Descriptor {
	return Descriptor{
		BlockSize:   blockSize,
		BlockCount:  blockCount,
		Digest:      digest,
		DJBSVersion: GetVersion(),
		Created:     time.Now().UTC(),
	}
}

// Save writes the descriptor. A directory path gets DescriptorFile appended.
func (d Descriptor) Save(path string) error {
	if !strings.HasSuffix(path, ".config") {
		path = filepath.Join(path, DescriptorFile)
	}
	return WriteJSONFile(path, d)
}

// LoadDescriptor reads a descriptor. A directory path gets DescriptorFile appended.
func LoadDescriptor(path string) (Descriptor, error) {
	if !strings.HasSuffix(path, ".config") {
		path = filepath.Join(path, DescriptorFile)
	}
	var d Descriptor
	err := ReadJSONFile(path, &d)
	return d, err
}

// Compatible reports whether a store formatted with d can be opened with
// the given block size and digest.
func (d Descriptor) Compatible(blockSize int64, digest DigestAlgorithm) error {
	if d.BlockSize != blockSize {
		return fmt.Errorf("store block size is %d, configured %d", d.BlockSize, blockSize)
	}
	if d.Digest != digest {
		return fmt.Errorf("%w: store uses %s, configured %s", ErrDigestMismatch, d.Digest, digest)
	}
	return nil
}

// WriteJSONFile writes any value as JSON to the specified file path.
// The value is written to a sibling temporary file first and renamed
// into place, so readers never observe a partially written record.
func WriteJSONFile(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := json.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadJSONFile decodes the JSON document at path into v.
func ReadJSONFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}
