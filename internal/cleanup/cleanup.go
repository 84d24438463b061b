package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/s3_batcher/internal/logctx"
	"github.com/italolelis/s3_batcher/internal/storage"
)

// PruneHistory deletes batch records that finished more than keepDuration ago.
func PruneHistory(ctx context.Context, repo storage.BatchWriteRepository, keepDuration time.Duration, now time.Time) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	cutoff := now.Add(-keepDuration)

	deleted, err := repo.DeleteBatchesBefore(ctx, cutoff)
	if err != nil {
		logger.Error("failed to prune batch history", "cutoff", cutoff, "err", err)

		return 0, fmt.Errorf("failed to prune batch history: %w", err)
	}

	if deleted > 0 {
		logger.Info("pruned batch history", "deleted", deleted, "cutoff", cutoff)
	}

	return deleted, nil
}
