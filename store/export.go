package store

import (
	"context"
	"fmt"
	"io"
)

// Export streams the content of a committed object to w and returns the
// number of bytes written.
func (s *Store) Export(ctx context.Context, file, tag string, w io.Writer) (int64, error) {
	log, unlock, err := s.begin("export", Request{File: file, Tag: tag})
	if err != nil {
		return 0, err
	}
	defer unlock()

	k := objectKey{file: file, tag: tag}
	m, err := s.loadMetadata(k)
	if err != nil {
		return 0, err
	}
	if m.State != StateCommitted {
		return 0, fmt.Errorf("%w: %s", ErrNotCommitted, k)
	}

	var total int64
	for i, b := range m.Blocks {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		data, err := s.blocks.read(b)
		if err != nil {
			return total, fmt.Errorf("reading %s block %d: %w", k, i, err)
		}
		n, err := w.Write(data)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	log.InfoContext(ctx, "object exported", "bytes", total)
	return total, nil
}
