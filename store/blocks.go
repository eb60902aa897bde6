//go:build linux || darwin

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const physicalDir = "physical_blocks"

// blockFiles reads and writes the fixed-size files backing physical
// blocks. Each access maps the file, copies, and unmaps; nothing is held
// open between operations.
type blockFiles struct {
	dir       string
	blockSize int64
	count     int64
	syncWrite bool
}

func (f *blockFiles) path(idx int64) string {
	return filepath.Join(f.dir, fmt.Sprintf("block%04d.dat", idx))
}

func (f *blockFiles) check(idx int64) error {
	if idx < 0 || idx >= f.count {
		return fmt.Errorf("%w: %d", ErrInvalidBlock, idx)
	}
	return nil
}

// create makes every block file at full size, zero filled.
func (f *blockFiles) create(ctx context.Context) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0) * 2)
	for i := int64(0); i < f.count; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fh, err := os.OpenFile(f.path(i), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("creating block %d: %w", i, err)
			}
			if err := fh.Truncate(f.blockSize); err != nil {
				fh.Close()
				return fmt.Errorf("sizing block %d: %w", i, err)
			}
			return fh.Close()
		})
	}
	return g.Wait()
}

func (f *blockFiles) mmap(idx int64, prot int) ([]byte, error) {
	if err := f.check(idx); err != nil {
		return nil, err
	}
	flag := unix.O_RDONLY
	if prot&unix.PROT_WRITE != 0 {
		flag = unix.O_RDWR
	}
	fd, err := unix.Open(f.path(idx), flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening block %d: %w", idx, err)
	}
	// The mapping keeps the file referenced after the descriptor closes.
	defer unix.Close(fd)
	data, err := unix.Mmap(fd, 0, int(f.blockSize), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mapping block %d: %w", idx, err)
	}
	return data, nil
}

// read returns a copy of the whole block.
func (f *blockFiles) read(idx int64) ([]byte, error) {
	data, err := f.mmap(idx, unix.PROT_READ)
	if err != nil {
		return nil, err
	}
	defer unix.Munmap(data)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// write overlays p at the start of the block. Bytes past len(p) keep
// their previous content.
func (f *blockFiles) write(idx int64, p []byte) error {
	if int64(len(p)) > f.blockSize {
		return fmt.Errorf("write of %d bytes exceeds block size %d", len(p), f.blockSize)
	}
	data, err := f.mmap(idx, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return err
	}
	copy(data, p)
	flags := unix.MS_ASYNC
	if f.syncWrite {
		flags = unix.MS_SYNC
	}
	if err := unix.Msync(data, flags); err != nil {
		unix.Munmap(data)
		return fmt.Errorf("syncing block %d: %w", idx, err)
	}
	return unix.Munmap(data)
}

// nlink returns the hard link count of the block file.
func (f *blockFiles) nlink(idx int64) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(f.path(idx), &st); err != nil {
		return 0, err
	}
	return uint64(st.Nlink), nil
}
