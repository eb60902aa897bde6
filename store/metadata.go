package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dendrascience/dendra-blockstore/util"
)

const (
	filesDir     = "files"
	metadataFile = "metadata.config"
	logicalDir   = "logical_blocks"
)

// State is the lifecycle stage of a File:Tag.
type State string

const (
	StateWorkInProgress State = "WORK_IN_PROGRESS"
	StateCommitted      State = "COMMITED"
)

// metadata is the persisted record of one File:Tag. len(Blocks) is always
// Size / block size.
type metadata struct {
	Size   int64   `json:"size"`
	State  State   `json:"state"`
	Blocks []int64 `json:"blocks"`
}

// ObjectInfo describes a File:Tag to callers outside the package.
type ObjectInfo struct {
	File   string  `json:"file"`
	Tag    string  `json:"tag"`
	Size   int64   `json:"size"`
	State  State   `json:"state"`
	Blocks []int64 `json:"blocks"`
}

// validName rejects names that would escape or alias the files tree.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (k objectKey) validate() error {
	if err := validName(k.file); err != nil {
		return err
	}
	return validName(k.tag)
}

func (s *Store) objectDir(k objectKey) string {
	return filepath.Join(s.root, filesDir, k.file, k.tag)
}

func (s *Store) metadataPath(k objectKey) string {
	return filepath.Join(s.objectDir(k), metadataFile)
}

func (s *Store) logicalPath(k objectKey, logical int64) string {
	return filepath.Join(s.objectDir(k), logicalDir, fmt.Sprintf("%06d.dat", logical))
}

func (s *Store) exists(k objectKey) bool {
	_, err := os.Stat(s.metadataPath(k))
	return err == nil
}

func (s *Store) loadMetadata(k objectKey) (*metadata, error) {
	var m metadata
	if err := util.ReadJSONFile(s.metadataPath(k), &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
		}
		return nil, fmt.Errorf("reading metadata for %s: %w", k, err)
	}
	if m.Size != int64(len(m.Blocks))*s.blockSize {
		return nil, fmt.Errorf("metadata for %s: size %d does not match %d blocks", k, m.Size, len(m.Blocks))
	}
	return &m, nil
}

func (s *Store) saveMetadata(k objectKey, m *metadata) error {
	m.Size = int64(len(m.Blocks)) * s.blockSize
	if err := util.WriteJSONFile(s.metadataPath(k), m); err != nil {
		return fmt.Errorf("writing metadata for %s: %w", k, err)
	}
	return nil
}

// makeObjectDirs creates files/<file>/<tag>/logical_blocks.
func (s *Store) makeObjectDirs(k objectKey) error {
	return os.MkdirAll(filepath.Join(s.objectDir(k), logicalDir), 0o755)
}

// removeObjectDirs deletes the object directory and, when it is left
// empty, the file directory above it.
func (s *Store) removeObjectDirs(k objectKey) error {
	if err := os.RemoveAll(s.objectDir(k)); err != nil {
		return err
	}
	// Fails harmlessly while other tags of the file remain.
	_ = os.Remove(filepath.Dir(s.objectDir(k)))
	return nil
}

// link points logical block i of k at physical block idx, replacing any
// previous link atomically.
func (s *Store) link(k objectKey, logical, idx int64) error {
	dst := s.logicalPath(k, logical)
	tmp := dst + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Link(s.blocks.path(idx), tmp); err != nil {
		return fmt.Errorf("linking %s block %d to physical %d: %w", k, logical, idx, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("placing link %s block %d: %w", k, logical, err)
	}
	return nil
}

func (s *Store) unlink(k objectKey, logical int64) error {
	err := os.Remove(s.logicalPath(k, logical))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unlinking %s block %d: %w", k, logical, err)
	}
	return nil
}

// walkObjects calls fn for every File:Tag directory with a metadata record.
func (s *Store) walkObjects(fn func(k objectKey) error) error {
	base := filepath.Join(s.root, filesDir)
	files, err := os.ReadDir(base)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, fd := range files {
		if !fd.IsDir() {
			continue
		}
		tags, err := os.ReadDir(filepath.Join(base, fd.Name()))
		if err != nil {
			return err
		}
		for _, td := range tags {
			if !td.IsDir() {
				continue
			}
			k := objectKey{file: fd.Name(), tag: td.Name()}
			if !s.exists(k) {
				continue
			}
			if err := fn(k); err != nil {
				return err
			}
		}
	}
	return nil
}
