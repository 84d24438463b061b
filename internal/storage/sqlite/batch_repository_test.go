package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/s3_batcher/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *InstrumentedBatchRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "batches.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	// nil telemetry exercises the pass-through path
	return NewInstrumentedBatchRepository(db, nil)
}

func record(id string, finished time.Time, failures ...storage.ItemFailure) storage.BatchRecord {
	return storage.BatchRecord{
		ID:          id,
		Operation:   "download_multiple_files",
		Bucket:      "reports",
		Total:       3,
		Successful:  3 - len(failures),
		Failed:      len(failures),
		SuccessRate: float64(3-len(failures)) / 3,
		StartedAt:   finished.Add(-time.Second),
		FinishedAt:  finished,
		Failures:    failures,
	}
}

func TestBatchRepository_SaveAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	finished := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

	rec := record("b1", finished, storage.ItemFailure{Identifier: "missing.txt", Cause: "object not found"})
	require.NoError(t, repo.SaveBatch(ctx, rec))

	got, err := repo.GetBatch(ctx, "b1")
	require.NoError(t, err)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Bucket, got.Bucket)
	assert.Equal(t, 2, got.Successful)
	assert.Equal(t, 1, got.Failed)
	assert.InDelta(t, 0.6667, got.SuccessRate, 0.0001)
	assert.True(t, rec.FinishedAt.Equal(got.FinishedAt))
	assert.True(t, rec.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, rec.Failures, got.Failures)
}

func TestBatchRepository_GetWithoutFailures(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveBatch(ctx, record("clean", time.Now())))

	got, err := repo.GetBatch(ctx, "clean")
	require.NoError(t, err)

	require.NotNil(t, got.Failures)
	assert.Empty(t, got.Failures)
}

func TestBatchRepository_GetMissing(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetBatch(context.Background(), "nope")
	require.ErrorIs(t, err, storage.ErrBatchNotFound)
}

func TestBatchRepository_DuplicateID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveBatch(ctx, record("dup", time.Now())))
	require.Error(t, repo.SaveBatch(ctx, record("dup", time.Now())))
}

func TestBatchRepository_ListNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.SaveBatch(ctx, record(id, base.Add(time.Duration(i)*time.Hour))))
	}

	batches, err := repo.ListBatches(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "new", batches[0].ID)
	assert.Equal(t, "mid", batches[1].ID)
	assert.Empty(t, batches[0].Failures)
}

func TestBatchRepository_DeleteBatchesBefore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	cutoff := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveBatch(ctx, record("expired", cutoff.Add(-time.Millisecond),
		storage.ItemFailure{Identifier: "a", Cause: "x"})))
	require.NoError(t, repo.SaveBatch(ctx, record("kept", cutoff.Add(time.Millisecond))))

	deleted, err := repo.DeleteBatchesBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetBatch(ctx, "expired")
	require.ErrorIs(t, err, storage.ErrBatchNotFound)

	_, err = repo.GetBatch(ctx, "kept")
	require.NoError(t, err)

	var orphans int
	require.NoError(t, repo.repo.db.QueryRow(`SELECT COUNT(*) FROM batch_failures`).Scan(&orphans))
	assert.Zero(t, orphans, "failures cascade with their batch")
}
