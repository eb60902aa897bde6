package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOwnersZeroBlockIsPinned(t *testing.T) {
	o := newOwners(4)
	require.EqualValues(t, 1, o.Count(0))
	require.True(t, o.Pin(0))
	require.EqualValues(t, 1, o.Drop(0))
}

func TestOwnersPinOnlyOwnedBlocks(t *testing.T) {
	o := newOwners(4)
	require.False(t, o.Pin(2), "a free block cannot be pinned")

	o.Acquire(2)
	require.True(t, o.Pin(2))
	require.EqualValues(t, 2, o.Count(2))
	require.EqualValues(t, 1, o.Drop(2))
	require.EqualValues(t, 0, o.Drop(2))
	require.False(t, o.Pin(2))
}

func TestOwnersDropBelowZeroPanics(t *testing.T) {
	o := newOwners(2)
	require.Panics(t, func() { o.Drop(1) })
}

func TestOwnersConcurrentPin(t *testing.T) {
	o := newOwners(2)
	o.Acquire(1)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if o.Pin(1) {
				o.Drop(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, o.Count(1))
}
