package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/dendrascience/dendra-blockstore/util"
)

const hashIndexFile = "blocks_hash_index.config"

var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
}

// indexRecord is the on-disk form of one hash index entry.
type indexRecord struct {
	Digest []byte `cbor:"1,keyasint"`
	Block  int64  `cbor:"2,keyasint"`
}

type indexFile struct {
	Algorithm util.DigestAlgorithm `cbor:"1,keyasint"`
	Entries   []indexRecord        `cbor:"2,keyasint"`
}

// hashIndex maps content digests to a canonical physical block. Entries
// are never removed when a block is released; callers verify a hit
// before trusting it.
type hashIndex struct {
	mu      sync.RWMutex
	path    string
	algo    util.DigestAlgorithm
	entries map[util.Digest]int64
	dirty   bool
}

func newHashIndex(path string, algo util.DigestAlgorithm) *hashIndex {
	return &hashIndex{path: path, algo: algo, entries: make(map[util.Digest]int64)}
}

// loadHashIndex reads the index at path. A missing file is an empty index.
func loadHashIndex(path string, algo util.DigestAlgorithm) (*hashIndex, error) {
	idx := newHashIndex(path, algo)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading hash index: %w", err)
	}
	var f indexFile
	if err := cbor.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decoding hash index: %w", err)
	}
	if f.Algorithm != "" && f.Algorithm != algo {
		return nil, fmt.Errorf("%w: index uses %s, store uses %s", util.ErrDigestMismatch, f.Algorithm, algo)
	}
	for _, rec := range f.Entries {
		if len(rec.Digest) != util.DigestSize {
			return nil, fmt.Errorf("%w: index entry for block %d has %d byte digest",
				util.ErrInvalidDigest, rec.Block, len(rec.Digest))
		}
		idx.entries[util.Digest(rec.Digest)] = rec.Block
	}
	return idx, nil
}

// Lookup returns the canonical block recorded for d.
func (h *hashIndex) Lookup(d util.Digest) (int64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.entries[d]
	return b, ok
}

// Insert records d -> block unless an entry already exists, in which
// case the existing block is returned with false.
func (h *hashIndex) Insert(d util.Digest, block int64) (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.entries[d]; ok {
		return cur, false
	}
	h.entries[d] = block
	h.dirty = true
	return block, true
}

// Replace swaps the entry for d from old to block. It fails if another
// committer already changed the entry.
func (h *hashIndex) Replace(d util.Digest, old, block int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.entries[d]; !ok || cur != old {
		return false
	}
	h.entries[d] = block
	h.dirty = true
	return true
}

// Remove deletes the entry for d if it still points at block.
func (h *hashIndex) Remove(d util.Digest, block int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.entries[d]; !ok || cur != block {
		return false
	}
	delete(h.entries, d)
	h.dirty = true
	return true
}

func (h *hashIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Snapshot copies the current entries.
func (h *hashIndex) Snapshot() map[util.Digest]int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[util.Digest]int64, len(h.entries))
	for d, b := range h.entries {
		out[d] = b
	}
	return out
}

// Save rewrites the index file if anything changed since the last save.
// Records are sorted by block so identical indexes encode identically.
func (h *hashIndex) Save() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return nil
	}
	f := indexFile{Algorithm: h.algo, Entries: make([]indexRecord, 0, len(h.entries))}
	for d, b := range h.entries {
		f.Entries = append(f.Entries, indexRecord{Digest: d[:], Block: b})
	}
	sort.Slice(f.Entries, func(i, j int) bool {
		if f.Entries[i].Block != f.Entries[j].Block {
			return f.Entries[i].Block < f.Entries[j].Block
		}
		return string(f.Entries[i].Digest) < string(f.Entries[j].Digest)
	})
	raw, err := cborEnc.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding hash index: %w", err)
	}
	if err := writeFileAtomic(h.path, raw); err != nil {
		return fmt.Errorf("writing hash index: %w", err)
	}
	h.dirty = false
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
