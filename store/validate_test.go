package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateCleanStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 8)
	r := req("f", "t")
	require.NoError(t, s.Create(ctx, r))
	require.NoError(t, s.Truncate(ctx, r, 2*testBlockSize))
	require.NoError(t, s.Write(ctx, r, 0, padded("v")))
	require.NoError(t, s.Tag(ctx, r, "f", "u"))
	require.NoError(t, s.Commit(ctx, r))

	report, err := s.Validate(ctx)
	require.NoError(t, err)
	require.True(t, report.OK(), "problems: %v leaked: %v stale: %v", report.Problems, report.Leaked, report.Stale)
	require.Equal(t, 3, report.ObjectsChecked)
	require.EqualValues(t, 8, report.BlocksChecked)
}

func TestValidateFindsLeakAndRepairs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 8)

	leaked, ok := s.bitmap.Reserve()
	require.True(t, ok)

	report, err := s.Validate(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{leaked}, report.Leaked)
	require.Empty(t, report.Problems)

	released, dropped, err := s.Repair(ctx, report)
	require.NoError(t, err)
	require.Equal(t, 1, released)
	require.Zero(t, dropped)
	require.False(t, s.bitmap.IsOccupied(leaked))

	report, err = s.Validate(ctx)
	require.NoError(t, err)
	require.True(t, report.OK())
}

func TestValidateFindsStaleIndexEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 8)
	r := req("f", "t")
	require.NoError(t, s.Create(ctx, r))
	require.NoError(t, s.Truncate(ctx, r, testBlockSize))
	require.NoError(t, s.Write(ctx, r, 0, padded("indexed")))
	require.NoError(t, s.Commit(ctx, r))
	require.NoError(t, s.Delete(ctx, r))

	report, err := s.Validate(ctx)
	require.NoError(t, err)
	require.Len(t, report.Stale, 1)

	_, dropped, err := s.Repair(ctx, report)
	require.NoError(t, err)
	require.Equal(t, 1, dropped)
	_, ok := s.index.Lookup(s.digest.Sum(padded("indexed")))
	require.False(t, ok)
}

func TestValidateFindsBrokenLink(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 8)
	r := req("f", "t")
	require.NoError(t, s.Create(ctx, r))
	require.NoError(t, s.Truncate(ctx, r, testBlockSize))
	require.NoError(t, os.Remove(s.logicalPath(r.key(), 0)))

	report, err := s.Validate(ctx)
	require.NoError(t, err)
	require.False(t, report.OK())
	require.NotEmpty(t, report.Problems)
}
