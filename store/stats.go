package store

import "context"

// Stats is a point-in-time summary of the store.
type Stats struct {
	BlockSize      int64 `json:"block_size"`
	BlocksTotal    int64 `json:"blocks_total"`
	BlocksOccupied int64 `json:"blocks_occupied"`
	Objects        int64 `json:"objects"`
	Committed      int64 `json:"committed"`
	LogicalBlocks  int64 `json:"logical_blocks"`
	IndexEntries   int64 `json:"index_entries"`
	LockedObjects  int64 `json:"locked_objects"`

	// Counters since Open.
	Allocated int64 `json:"allocated"`
	Released  int64 `json:"released"`
	CowCopies int64 `json:"cow_copies"`
	InPlace   int64 `json:"in_place_writes"`
	DedupHits int64 `json:"dedup_hits"`
	StaleHits int64 `json:"stale_index_hits"`
}

// Stats scans the metadata tree and reports usage with the running counters.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		BlockSize:      s.blockSize,
		BlocksTotal:    s.blockCount,
		BlocksOccupied: s.bitmap.Occupied(),
		IndexEntries:   int64(s.index.Len()),
		LockedObjects:  int64(s.objects.active()),
		Allocated:      s.counters.allocated.Load(),
		Released:       s.counters.released.Load(),
		CowCopies:      s.counters.cowCopies.Load(),
		InPlace:        s.counters.inPlace.Load(),
		DedupHits:      s.counters.dedupHits.Load(),
		StaleHits:      s.counters.staleHits.Load(),
	}
	objects, err := s.List(ctx)
	if err != nil {
		return st, err
	}
	for _, o := range objects {
		st.Objects++
		if o.State == StateCommitted {
			st.Committed++
		}
		st.LogicalBlocks += int64(len(o.Blocks))
	}
	return st, nil
}
