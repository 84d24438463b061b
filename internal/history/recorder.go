// Package history persists finished batches and reports failed ones.
package history

import (
	"context"
	"time"

	"github.com/italolelis/s3_batcher/internal/logctx"
	"github.com/italolelis/s3_batcher/internal/notifier"
	"github.com/italolelis/s3_batcher/internal/storage"
	"github.com/italolelis/s3_batcher/internal/telemetry"
	"github.com/italolelis/s3_batcher/internal/transfer"
)

// Recorder is safe to use with a nil repository or notifier; the missing
// side is skipped.
type Recorder struct {
	repo      storage.BatchWriteRepository
	notifier  notifier.Notifier
	telemetry *telemetry.Telemetry
	now       func() time.Time
}

func NewRecorder(repo storage.BatchWriteRepository, n notifier.Notifier, tel *telemetry.Telemetry) *Recorder {
	return &Recorder{
		repo:      repo,
		notifier:  n,
		telemetry: tel,
		now:       time.Now,
	}
}

// Record saves the batch and, when it has failures, sends a summary.
// Errors are logged and counted but never returned: a batch that ran is not
// undone by bookkeeping failing.
func (r *Recorder) Record(ctx context.Context, operation, bucket string, result *transfer.BatchResult, startedAt time.Time) {
	if r == nil || result == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	if r.repo != nil {
		rec := storage.NewBatchRecord(operation, bucket, result, startedAt, r.now())
		if err := r.repo.SaveBatch(ctx, rec); err != nil {
			logger.ErrorContext(ctx, "failed to save batch history", "batch_id", result.ID, "err", err)
			r.telemetry.RecordSystemError(ctx, "history", "save_failed")
		}
	}

	if r.notifier != nil && result.HasFailures() {
		if err := r.notifier.Notify(ctx, notifier.FormatBatchSummary(operation, bucket, result)); err != nil {
			logger.WarnContext(ctx, "failed to send batch notification", "batch_id", result.ID, "err", err)
			r.telemetry.RecordSystemError(ctx, "notifier", "notify_failed")
		}
	}
}
