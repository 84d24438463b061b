package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/italolelis/s3_batcher/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakeHistory) SaveBatch(context.Context, storage.BatchRecord) error { return nil }

func (f *fakeHistory) DeleteBatchesBefore(_ context.Context, t time.Time) (int64, error) {
	f.cutoff = t

	return f.deleted, f.err
}

func TestPruneHistory(t *testing.T) {
	now := time.Date(2024, 6, 8, 12, 0, 0, 0, time.UTC)
	repo := &fakeHistory{deleted: 4}

	deleted, err := PruneHistory(context.Background(), repo, 7*24*time.Hour, now)
	require.NoError(t, err)

	assert.Equal(t, int64(4), deleted)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), repo.cutoff)
}

func TestPruneHistory_Error(t *testing.T) {
	repo := &fakeHistory{err: errors.New("database is locked")}

	_, err := PruneHistory(context.Background(), repo, time.Hour, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}
