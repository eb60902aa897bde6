package store

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dendrascience/dendra-blockstore/util"
)

// Report is the outcome of Validate.
type Report struct {
	ObjectsChecked int
	BlocksChecked  int64
	// Problems are inconsistencies Repair cannot fix.
	Problems []string
	// Leaked blocks are allocated but referenced by no object.
	Leaked []int64
	// Stale index entries point at free or unowned blocks.
	Stale map[util.Digest]int64
}

// OK reports whether nothing was found.
func (r *Report) OK() bool {
	return len(r.Problems) == 0 && len(r.Leaked) == 0 && len(r.Stale) == 0
}

// Validate cross-checks metadata, links, owner counts, the bitmap and the
// hash index. Objects are checked concurrently.
func (s *Store) Validate(ctx context.Context) (*Report, error) {
	var keys []objectKey
	if err := s.walkObjects(func(k objectKey) error {
		keys = append(keys, k)
		return nil
	}); err != nil {
		return nil, err
	}

	report := &Report{ObjectsChecked: len(keys), Stale: make(map[util.Digest]int64)}
	var mu sync.Mutex
	problem := func(format string, args ...any) {
		mu.Lock()
		report.Problems = append(report.Problems, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	refs := make([]atomic.Int64, s.blockCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, k := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s.validateObject(k, refs, problem)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for b := int64(0); b < s.blockCount; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.BlocksChecked++
		want := refs[b].Load()
		have := int64(s.owners.Count(b))
		if b == 0 {
			have--
		}
		if have != want {
			problem("block %d: %d owners recorded, %d references in metadata", b, have, want)
		}
		occupied := s.bitmap.IsOccupied(b)
		if want > 0 && !occupied {
			problem("block %d: referenced but free in bitmap", b)
		}
		if b != 0 && occupied && want == 0 && have <= 0 {
			report.Leaked = append(report.Leaked, b)
		}
		nlink, err := s.blocks.nlink(b)
		if err != nil {
			problem("block %d: %v", b, err)
			continue
		}
		if nlink != uint64(want)+1 {
			problem("block %d: %d hard links, expected %d", b, nlink, want+1)
		}
	}

	for d, b := range s.index.Snapshot() {
		if b < 0 || b >= s.blockCount || !s.bitmap.IsOccupied(b) || s.owners.Count(b) <= 0 {
			report.Stale[d] = b
		}
	}
	sort.Strings(report.Problems)
	return report, nil
}

func (s *Store) validateObject(k objectKey, refs []atomic.Int64, problem func(string, ...any)) {
	unlock := s.objects.lock(k)
	defer unlock()

	m, err := s.loadMetadata(k)
	if err != nil {
		problem("%s: %v", k, err)
		return
	}
	if m.State != StateWorkInProgress && m.State != StateCommitted {
		problem("%s: unknown state %q", k, m.State)
	}
	for i, b := range m.Blocks {
		if b < 0 || b >= s.blockCount {
			problem("%s block %d: %v %d", k, i, ErrInvalidBlock, b)
			continue
		}
		refs[b].Add(1)
		if !s.bitmap.IsOccupied(b) {
			problem("%s block %d: physical block %d is free", k, i, b)
		}
		li, err := os.Stat(s.logicalPath(k, int64(i)))
		if err != nil {
			problem("%s block %d: %v", k, i, err)
			continue
		}
		pi, err := os.Stat(s.blocks.path(b))
		if err != nil {
			problem("%s block %d: %v", k, i, err)
			continue
		}
		if !os.SameFile(li, pi) {
			problem("%s block %d: link does not point at physical block %d", k, i, b)
		}
	}
}

// Repair releases leaked blocks and drops stale index entries found by
// Validate. It returns how many of each it fixed.
func (s *Store) Repair(ctx context.Context, r *Report) (released, dropped int, err error) {
	for _, b := range r.Leaked {
		if s.owners.Count(b) != 0 || !s.bitmap.IsOccupied(b) {
			continue
		}
		if err := s.bitmap.Release(b); err != nil {
			return released, dropped, err
		}
		released++
		s.log.InfoContext(ctx, "leaked block released", "block", b)
	}
	for d, b := range r.Stale {
		if s.index.Remove(d, b) {
			dropped++
		}
	}
	if dropped > 0 {
		s.log.InfoContext(ctx, "stale index entries dropped", "count", dropped)
	}
	return released, dropped, s.Sync()
}
