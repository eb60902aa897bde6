package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dendrascience/dendra-blockstore/util"
)

// Request identifies the job issuing an operation and the File:Tag it
// targets. Job is carried into every audit log line.
type Request struct {
	Job  uint64
	File string
	Tag  string
}

func (r Request) key() objectKey {
	return objectKey{file: r.File, tag: r.Tag}
}

// begin validates the request, takes the object lock and returns a
// logger scoped to the request.
func (s *Store) begin(op string, r Request) (*slog.Logger, func(), error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}
	k := r.key()
	if err := k.validate(); err != nil {
		return nil, nil, err
	}
	unlock := s.objects.lock(k)
	log := s.log.With("op", op, "job", r.Job, "file", r.File, "tag", r.Tag)
	return log, unlock, nil
}

// Create makes an empty, work-in-progress File:Tag.
func (s *Store) Create(ctx context.Context, r Request) error {
	log, unlock, err := s.begin("create", r)
	if err != nil {
		return err
	}
	defer unlock()

	k := r.key()
	if s.exists(k) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, k)
	}
	if err := s.makeObjectDirs(k); err != nil {
		return fmt.Errorf("creating %s: %w", k, err)
	}
	if err := s.saveMetadata(k, &metadata{State: StateWorkInProgress, Blocks: []int64{}}); err != nil {
		return err
	}
	log.InfoContext(ctx, "object created")
	return nil
}

// Truncate grows or shrinks an object to size bytes. Grown blocks
// reference the zero block; dropped blocks lose their owner.
func (s *Store) Truncate(ctx context.Context, r Request, size int64) error {
	if size < 0 || size%s.blockSize != 0 {
		return fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	log, unlock, err := s.begin("truncate", r)
	if err != nil {
		return err
	}
	defer unlock()

	k := r.key()
	m, err := s.loadMetadata(k)
	if err != nil {
		return err
	}
	if m.State == StateCommitted {
		return fmt.Errorf("%w: %s", ErrForbidden, k)
	}

	want := size / s.blockSize
	have := int64(len(m.Blocks))
	if want == have {
		return nil
	}

	var opErr error
	for i := have; i < want; i++ {
		if opErr = s.link(k, i, 0); opErr != nil {
			break
		}
		s.owners.Acquire(0)
		m.Blocks = append(m.Blocks, 0)
		log.DebugContext(ctx, "linked", "logical", i, "block", 0)
	}
	for i := have - 1; i >= want; i-- {
		if opErr = s.unlink(k, i); opErr != nil {
			break
		}
		b := m.Blocks[i]
		m.Blocks = m.Blocks[:i]
		log.DebugContext(ctx, "unlinked", "logical", i, "block", b)
		s.release(ctx, log, b)
	}

	if err := s.saveMetadata(k, m); err != nil {
		return errors.Join(opErr, err)
	}
	log.InfoContext(ctx, "object resized", "from", have*s.blockSize, "to", m.Size)
	return opErr
}

// Write stores content starting at logical block base. The range must
// already exist. Shared blocks and the zero block are copied first.
func (s *Store) Write(ctx context.Context, r Request, base int64, content []byte) error {
	log, unlock, err := s.begin("write", r)
	if err != nil {
		return err
	}
	defer unlock()

	k := r.key()
	m, err := s.loadMetadata(k)
	if err != nil {
		return err
	}
	if m.State == StateCommitted {
		return fmt.Errorf("%w: %s", ErrForbidden, k)
	}
	chunks := (int64(len(content)) + s.blockSize - 1) / s.blockSize
	have := int64(len(m.Blocks))
	if base < 0 || base > have || chunks > have-base {
		return fmt.Errorf("%w: %d blocks at %d of %d", ErrOutOfBounds, chunks, base, have)
	}

	var opErr error
	changed := false
	for i := int64(0); i < chunks; i++ {
		chunk := content[i*s.blockSize : min((i+1)*s.blockSize, int64(len(content)))]
		logical := base + i
		old := m.Blocks[logical]
		var b int64
		b, opErr = s.writeChunk(ctx, log, k, logical, old, chunk)
		if opErr != nil {
			break
		}
		if b != old {
			m.Blocks[logical] = b
			changed = true
		}
	}

	if changed {
		if err := s.saveMetadata(k, m); err != nil {
			return errors.Join(opErr, err)
		}
	}
	if opErr == nil {
		log.DebugContext(ctx, "object written", "base", base, "bytes", len(content))
	}
	return opErr
}

// writeChunk writes one chunk for logical block logical, currently mapped
// to old, and returns the block now holding it.
func (s *Store) writeChunk(ctx context.Context, log *slog.Logger, k objectKey, logical, old int64, chunk []byte) (int64, error) {
	if old != 0 {
		mu := s.stripes.of(old)
		mu.Lock()
		// A dedup pin taken after this check sees the new content.
		if s.owners.Count(old) == 1 {
			err := s.blocks.write(old, chunk)
			mu.Unlock()
			if err != nil {
				return old, err
			}
			s.counters.inPlace.Add(1)
			return old, nil
		}
		mu.Unlock()
	}

	nb, err := s.reserve(ctx, log)
	if err != nil {
		return old, err
	}
	undo := func(err error) (int64, error) {
		s.release(ctx, log, nb)
		return old, err
	}

	buf := make([]byte, s.blockSize)
	if old != 0 {
		prev, err := s.blocks.read(old)
		if err != nil {
			return undo(err)
		}
		copy(buf, prev)
	}
	copy(buf, chunk)
	if err := s.blocks.write(nb, buf); err != nil {
		return undo(err)
	}
	if err := s.link(k, logical, nb); err != nil {
		return undo(err)
	}
	s.counters.cowCopies.Add(1)
	log.DebugContext(ctx, "copied on write", "logical", logical, "from", old, "to", nb)
	s.release(ctx, log, old)
	return nb, nil
}

// Read returns logical block logical. The size argument is accepted for
// protocol compatibility; a full block is always returned.
func (s *Store) Read(ctx context.Context, r Request, logical, size int64) ([]byte, error) {
	_, unlock, err := s.begin("read", r)
	if err != nil {
		return nil, err
	}
	defer unlock()

	k := r.key()
	m, err := s.loadMetadata(k)
	if err != nil {
		return nil, err
	}
	if logical < 0 || logical >= int64(len(m.Blocks)) {
		return nil, fmt.Errorf("%w: block %d of %d", ErrOutOfBounds, logical, len(m.Blocks))
	}
	return s.blocks.read(m.Blocks[logical])
}

// Tag clones the source object into a new work-in-progress object that
// shares every physical block with it.
func (s *Store) Tag(ctx context.Context, r Request, dstFile, dstTag string) error {
	log, unlock, err := s.beginPair(r, objectKey{file: dstFile, tag: dstTag})
	if err != nil {
		return err
	}
	defer unlock()

	src := r.key()
	dst := objectKey{file: dstFile, tag: dstTag}
	m, err := s.loadMetadata(src)
	if err != nil {
		return err
	}
	if s.exists(dst) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, dst)
	}
	if err := s.makeObjectDirs(dst); err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	clone := &metadata{State: StateWorkInProgress, Blocks: make([]int64, 0, len(m.Blocks))}
	var opErr error
	for i, b := range m.Blocks {
		if opErr = s.link(dst, int64(i), b); opErr != nil {
			break
		}
		s.owners.Acquire(b)
		clone.Blocks = append(clone.Blocks, b)
	}
	if err := s.saveMetadata(dst, clone); err != nil {
		return errors.Join(opErr, err)
	}
	if opErr == nil {
		log.InfoContext(ctx, "object tagged", "dst_file", dstFile, "dst_tag", dstTag, "blocks", len(clone.Blocks))
	}
	return opErr
}

func (s *Store) beginPair(r Request, dst objectKey) (*slog.Logger, func(), error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}
	src := r.key()
	if err := src.validate(); err != nil {
		return nil, nil, err
	}
	if err := dst.validate(); err != nil {
		return nil, nil, err
	}
	unlock := s.objects.lockPair(src, dst)
	log := s.log.With("op", "tag", "job", r.Job, "file", r.File, "tag", r.Tag)
	return log, unlock, nil
}

// Commit deduplicates every block against the hash index and freezes the
// object. Committing a committed object does nothing.
func (s *Store) Commit(ctx context.Context, r Request) error {
	log, unlock, err := s.begin("commit", r)
	if err != nil {
		return err
	}
	defer unlock()

	k := r.key()
	m, err := s.loadMetadata(k)
	if err != nil {
		return err
	}
	if m.State == StateCommitted {
		return nil
	}

	deduped := 0
	for i, b := range m.Blocks {
		canon, err := s.dedup(ctx, log, b)
		if err != nil {
			return s.abortCommit(k, m, deduped, err)
		}
		if canon == b {
			continue
		}
		if err := s.link(k, int64(i), canon); err != nil {
			s.release(ctx, log, canon)
			return s.abortCommit(k, m, deduped, err)
		}
		m.Blocks[i] = canon
		deduped++
		log.DebugContext(ctx, "deduplicated", "logical", i, "from", b, "to", canon)
		s.release(ctx, log, b)
	}

	m.State = StateCommitted
	if err := s.saveMetadata(k, m); err != nil {
		return err
	}
	if err := s.index.Save(); err != nil {
		return err
	}
	log.InfoContext(ctx, "object committed", "blocks", len(m.Blocks), "deduplicated", deduped)
	return nil
}

// abortCommit persists the blocks already swapped for their canonical
// copies and leaves the object in progress, so metadata matches the owner
// counts and the commit can be retried.
func (s *Store) abortCommit(k objectKey, m *metadata, deduped int, err error) error {
	if deduped == 0 {
		return err
	}
	return errors.Join(err, s.saveMetadata(k, m))
}

// maxIndexRetries bounds how often dedup chases an index entry that other
// committers keep changing underneath it.
const maxIndexRetries = 4

// dedup returns the canonical block for the content of b. When that is a
// different block the caller has already been made one of its owners.
func (s *Store) dedup(ctx context.Context, log *slog.Logger, b int64) (int64, error) {
	data, err := s.blocks.read(b)
	if err != nil {
		return b, err
	}
	d := s.digest.Sum(data)

	for range maxIndexRetries {
		canon, inserted := s.index.Insert(d, b)
		if inserted || canon == b {
			return b, nil
		}
		if s.pinVerified(ctx, log, canon, d) {
			s.counters.dedupHits.Add(1)
			return canon, nil
		}
		s.counters.staleHits.Add(1)
		log.DebugContext(ctx, "stale index entry", "digest", d.Short(), "block", canon)
		if s.index.Replace(d, canon, b) {
			return b, nil
		}
	}
	return b, nil
}

// pinVerified adopts canon only if it is still owned and still holds
// content with digest d.
func (s *Store) pinVerified(ctx context.Context, log *slog.Logger, canon int64, d util.Digest) bool {
	if canon < 0 || canon >= s.blockCount {
		return false
	}
	mu := s.stripes.of(canon)
	mu.Lock()
	if !s.owners.Pin(canon) {
		mu.Unlock()
		return false
	}
	data, err := s.blocks.read(canon)
	mu.Unlock()
	if err == nil && s.digest.Sum(data) == d {
		return true
	}
	// The last other owner may have gone away while we held the pin.
	s.release(ctx, log, canon)
	return false
}

// Delete removes an object and releases every block it alone referenced.
func (s *Store) Delete(ctx context.Context, r Request) error {
	log, unlock, err := s.begin("delete", r)
	if err != nil {
		return err
	}
	defer unlock()

	k := r.key()
	m, err := s.loadMetadata(k)
	if err != nil {
		return err
	}
	for i := len(m.Blocks) - 1; i >= 0; i-- {
		if err := s.unlink(k, int64(i)); err != nil {
			m.Blocks = m.Blocks[:i+1]
			return errors.Join(err, s.saveMetadata(k, m))
		}
		s.release(ctx, log, m.Blocks[i])
	}
	if err := s.removeObjectDirs(k); err != nil {
		return fmt.Errorf("removing %s: %w", k, err)
	}
	log.InfoContext(ctx, "object deleted", "blocks", len(m.Blocks))
	return nil
}

// Stat returns the metadata of one object.
func (s *Store) Stat(ctx context.Context, file, tag string) (ObjectInfo, error) {
	_, unlock, err := s.begin("stat", Request{File: file, Tag: tag})
	if err != nil {
		return ObjectInfo{}, err
	}
	defer unlock()
	k := objectKey{file: file, tag: tag}
	m, err := s.loadMetadata(k)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{File: file, Tag: tag, Size: m.Size, State: m.State, Blocks: m.Blocks}, nil
}

// List returns every object in the store, in directory order.
func (s *Store) List(ctx context.Context) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := s.walkObjects(func(k objectKey) error {
		info, err := s.Stat(ctx, k.file, k.tag)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	return out, err
}
