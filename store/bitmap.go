//go:build linux || darwin

package store

import (
	"fmt"
	"math/bits"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const bitmapFile = "bitmap.bin"

// bitmap is the persistent allocation map. Bit i of byte i/8 is set when
// physical block i is in use. The backing file is mapped MAP_SHARED so
// every change lands in the page cache immediately; Sync forces it to disk.
type bitmap struct {
	mu    sync.Mutex
	fd    int
	data  []byte
	count int64
	used  int64
}

func bitmapBytes(count int64) int64 {
	return (count + 7) / 8
}

// createBitmap truncates path to a zeroed bitmap for count blocks, syncs
// it, and reserves block 0.
func createBitmap(path string, count int64) (*bitmap, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating bitmap %s: %w", path, err)
	}
	if err := unix.Ftruncate(fd, bitmapBytes(count)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sizing bitmap: %w", err)
	}
	bm, err := mapBitmap(fd, count)
	if err != nil {
		return nil, err
	}
	clear(bm.data)
	bm.data[0] |= 1
	bm.used = 1
	if err := unix.Msync(bm.data, unix.MS_SYNC); err != nil {
		bm.Close()
		return nil, fmt.Errorf("syncing fresh bitmap: %w", err)
	}
	return bm, nil
}

// openBitmap attaches to an existing bitmap and trusts its bit pattern.
func openBitmap(path string, count int64) (*bitmap, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingBitmap, path)
		}
		return nil, fmt.Errorf("opening bitmap %s: %w", path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stating bitmap: %w", err)
	}
	if st.Size < bitmapBytes(count) {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: bitmap holds %d bytes, %d blocks need %d",
			ErrBadGeometry, st.Size, count, bitmapBytes(count))
	}
	bm, err := mapBitmap(fd, count)
	if err != nil {
		return nil, err
	}
	for i := range bm.data {
		bm.used += int64(bits.OnesCount8(bm.data[i]))
	}
	// Block 0 must survive any bitmap written by an older build.
	if bm.data[0]&1 == 0 {
		bm.data[0] |= 1
		bm.used++
	}
	return bm, nil
}

func mapBitmap(fd int, count int64) (*bitmap, error) {
	data, err := unix.Mmap(fd, 0, int(bitmapBytes(count)), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memory-mapping bitmap: %w", err)
	}
	return &bitmap{fd: fd, data: data, count: count}, nil
}

// Reserve claims the lowest free block. The scan and the set happen under
// one lock so no two callers can receive the same index.
func (b *bitmap) Reserve() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range b.data {
		if v == 0xff {
			continue
		}
		bit := int64(bits.TrailingZeros8(^v))
		idx := int64(i)*8 + bit
		if idx >= b.count {
			break
		}
		b.data[i] |= 1 << bit
		b.used++
		return idx, true
	}
	return 0, false
}

// Release clears the bit for idx. It does not check ownership; callers
// must know the block is unreferenced.
func (b *bitmap) Release(idx int64) error {
	if idx < 0 || idx >= b.count {
		return fmt.Errorf("%w: %d", ErrInvalidBlock, idx)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	mask := byte(1) << (idx % 8)
	if b.data[idx/8]&mask != 0 {
		b.data[idx/8] &^= mask
		b.used--
	}
	return nil
}

// IsOccupied reports whether idx is allocated. Out of range is never occupied.
func (b *bitmap) IsOccupied(idx int64) bool {
	if idx < 0 || idx >= b.count {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data[idx/8]&(1<<(idx%8)) != 0
}

// Occupied returns the number of allocated blocks, block 0 included.
func (b *bitmap) Occupied() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

func (b *bitmap) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil
	}
	return unix.Msync(b.data, unix.MS_SYNC)
}

// Close syncs, unmaps and closes the bitmap.
func (b *bitmap) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil
	}
	var firstErr error
	if err := unix.Msync(b.data, unix.MS_SYNC); err != nil {
		firstErr = fmt.Errorf("syncing bitmap: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("unmapping bitmap: %w", err)
	}
	if err := unix.Close(b.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing bitmap: %w", err)
	}
	b.data = nil
	return firstErr
}
