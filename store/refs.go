package store

import (
	"fmt"
	"sync/atomic"
)

// owners counts the logical-block references to every physical block.
// Block 0 carries one extra synthetic owner so its count never reaches
// zero and it is never handed back to the allocator.
type owners struct {
	counts []atomic.Int32
}

func newOwners(count int64) *owners {
	o := &owners{counts: make([]atomic.Int32, count)}
	if count > 0 {
		o.counts[0].Store(1)
	}
	return o
}

// Acquire adds an owner to idx.
func (o *owners) Acquire(idx int64) {
	o.counts[idx].Add(1)
}

// Drop removes an owner and returns how many remain.
func (o *owners) Drop(idx int64) int32 {
	n := o.counts[idx].Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("store: owner count of block %d dropped below zero", idx))
	}
	return n
}

// Pin adds an owner only if the block already has one. A block whose
// count has reached zero is free, or about to be, and cannot be adopted.
func (o *owners) Pin(idx int64) bool {
	for {
		n := o.counts[idx].Load()
		if n <= 0 {
			return false
		}
		if o.counts[idx].CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Count returns the current owner count of idx.
func (o *owners) Count(idx int64) int32 {
	return o.counts[idx].Load()
}

// Len is the number of blocks tracked.
func (o *owners) Len() int64 {
	return int64(len(o.counts))
}
