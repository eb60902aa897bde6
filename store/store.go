package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dendrascience/dendra-blockstore/util"
)

// BootstrapFile and BootstrapTag name the object created by a fresh
// format. It is committed, one block long, and references block 0.
const (
	BootstrapFile = ".bootstrap"
	BootstrapTag  = "zero"
)

// Options configures Open.
type Options struct {
	// Root is the storage directory.
	Root string
	// BlockSize and TotalSize fix the geometry of a fresh store. When
	// attaching they are optional and, if set, must match the descriptor.
	BlockSize int64
	TotalSize int64
	Digest    util.DigestAlgorithm
	// Fresh wipes Root and formats a new store.
	Fresh bool
	// SyncWrites forces every block write to disk before returning.
	SyncWrites bool
	Logger     *slog.Logger
}

// Store is an opened block store. It is safe for concurrent use.
type Store struct {
	root       string
	blockSize  int64
	blockCount int64
	digest     util.DigestAlgorithm
	log        *slog.Logger

	bitmap  *bitmap
	blocks  *blockFiles
	owners  *owners
	index   *hashIndex
	objects *objectLocks
	stripes stripes

	counters counters
	closed   atomic.Bool
	closeMu  sync.Mutex
}

type counters struct {
	allocated atomic.Int64
	released  atomic.Int64
	cowCopies atomic.Int64
	inPlace   atomic.Int64
	dedupHits atomic.Int64
	staleHits atomic.Int64
}

// Open formats or attaches to the store at opts.Root.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrBadGeometry)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	digest, err := util.ParseDigestAlgorithm(string(opts.Digest))
	if err != nil {
		return nil, err
	}

	s := &Store{
		root:    opts.Root,
		digest:  digest,
		log:     logger.With("root", opts.Root),
		objects: newObjectLocks(),
	}

	if opts.Fresh {
		err = s.format(ctx, opts)
	} else {
		err = s.attach(ctx, opts)
	}
	if err != nil {
		if s.bitmap != nil {
			s.bitmap.Close()
		}
		return nil, err
	}
	return s, nil
}

func (s *Store) setGeometry(blockSize, count int64, syncWrite bool) {
	s.blockSize = blockSize
	s.blockCount = count
	s.blocks = &blockFiles{
		dir:       filepath.Join(s.root, physicalDir),
		blockSize: blockSize,
		count:     count,
		syncWrite: syncWrite,
	}
	s.owners = newOwners(count)
}

// format wipes the persisted layout and builds an empty store.
func (s *Store) format(ctx context.Context, opts Options) error {
	if opts.BlockSize <= 0 || opts.TotalSize < opts.BlockSize {
		return fmt.Errorf("%w: block size %d, total size %d", ErrBadGeometry, opts.BlockSize, opts.TotalSize)
	}
	count := opts.TotalSize / opts.BlockSize
	s.setGeometry(opts.BlockSize, count, opts.SyncWrites)

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	for _, name := range []string{bitmapFile, physicalDir, hashIndexFile, filesDir, util.DescriptorFile} {
		if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
			return fmt.Errorf("wiping %s: %w", name, err)
		}
	}

	s.log.InfoContext(ctx, "formatting store", "block_size", s.blockSize, "blocks", count, "digest", s.digest)
	if err := s.blocks.create(ctx); err != nil {
		return fmt.Errorf("creating physical blocks: %w", err)
	}
	bm, err := createBitmap(filepath.Join(s.root, bitmapFile), count)
	if err != nil {
		return err
	}
	s.bitmap = bm
	s.index = newHashIndex(filepath.Join(s.root, hashIndexFile), s.digest)

	if err := util.NewDescriptor(s.blockSize, count, s.digest).Save(s.root); err != nil {
		return fmt.Errorf("writing descriptor: %w", err)
	}

	boot := objectKey{file: BootstrapFile, tag: BootstrapTag}
	if err := s.makeObjectDirs(boot); err != nil {
		return err
	}
	if err := s.link(boot, 0, 0); err != nil {
		return err
	}
	s.owners.Acquire(0)
	if err := s.saveMetadata(boot, &metadata{State: StateCommitted, Blocks: []int64{0}}); err != nil {
		return err
	}
	zero := make([]byte, s.blockSize)
	s.index.Insert(s.digest.Sum(zero), 0)
	return s.index.Save()
}

// attach opens an existing store and rebuilds owner counts from metadata.
func (s *Store) attach(ctx context.Context, opts Options) error {
	if _, err := os.Stat(filepath.Join(s.root, bitmapFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingBitmap, s.root)
		}
		return err
	}
	desc, err := util.LoadDescriptor(s.root)
	if err != nil {
		return fmt.Errorf("reading descriptor: %w", err)
	}
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = desc.BlockSize
	}
	if opts.Digest == "" {
		s.digest = desc.Digest
	}
	if err := desc.Compatible(blockSize, s.digest); err != nil {
		return fmt.Errorf("%w: %w", ErrBadGeometry, err)
	}
	if opts.TotalSize != 0 && opts.TotalSize/blockSize != desc.BlockCount {
		return fmt.Errorf("%w: store has %d blocks, configured %d",
			ErrBadGeometry, desc.BlockCount, opts.TotalSize/blockSize)
	}
	s.setGeometry(desc.BlockSize, desc.BlockCount, opts.SyncWrites)

	bm, err := openBitmap(filepath.Join(s.root, bitmapFile), s.blockCount)
	if err != nil {
		return err
	}
	s.bitmap = bm
	if s.index, err = loadHashIndex(filepath.Join(s.root, hashIndexFile), s.digest); err != nil {
		return err
	}

	objects := 0
	err = s.walkObjects(func(k objectKey) error {
		m, err := s.loadMetadata(k)
		if err != nil {
			return err
		}
		for _, b := range m.Blocks {
			if b < 0 || b >= s.blockCount {
				return fmt.Errorf("%s references %w: %d", k, ErrInvalidBlock, b)
			}
			s.owners.Acquire(b)
		}
		objects++
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuilding owner counts: %w", err)
	}
	s.log.InfoContext(ctx, "attached store",
		"block_size", s.blockSize, "blocks", s.blockCount,
		"occupied", s.bitmap.Occupied(), "objects", objects, "index_entries", s.index.Len())
	return nil
}

// BlockSize returns the size of every physical and logical block.
func (s *Store) BlockSize() int64 { return s.blockSize }

// BlockCount returns the number of physical blocks.
func (s *Store) BlockCount() int64 { return s.blockCount }

// Root returns the storage directory.
func (s *Store) Root() string { return s.root }

// Digest returns the content digest algorithm.
func (s *Store) Digest() util.DigestAlgorithm { return s.digest }

// Sync flushes the bitmap and hash index.
func (s *Store) Sync() error {
	if err := s.bitmap.Sync(); err != nil {
		return fmt.Errorf("syncing bitmap: %w", err)
	}
	return s.index.Save()
}

// Close syncs and releases the store. Later operations return ErrClosed.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	err := errors.Join(s.index.Save(), s.bitmap.Close())
	s.log.Info("store closed", "error", err)
	return err
}

// release drops one owner of idx and hands the block back to the
// allocator when no owners remain.
func (s *Store) release(ctx context.Context, log *slog.Logger, idx int64) {
	if s.owners.Drop(idx) > 0 || idx == 0 {
		return
	}
	if err := s.bitmap.Release(idx); err != nil {
		log.ErrorContext(ctx, "releasing block", "block", idx, "error", err)
		return
	}
	s.counters.released.Add(1)
	log.InfoContext(ctx, "block released", "block", idx)
}

// reserve allocates a block and makes the caller its only owner.
func (s *Store) reserve(ctx context.Context, log *slog.Logger) (int64, error) {
	idx, ok := s.bitmap.Reserve()
	if !ok {
		return 0, ErrInsufficientSpace
	}
	s.owners.Acquire(idx)
	s.counters.allocated.Add(1)
	log.InfoContext(ctx, "block allocated", "block", idx)
	return idx, nil
}
