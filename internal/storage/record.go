package storage

import (
	"time"

	"github.com/italolelis/s3_batcher/internal/transfer"
)

// NewBatchRecord summarises a finished batch for persistence.
func NewBatchRecord(operation, bucket string, result *transfer.BatchResult, startedAt, finishedAt time.Time) BatchRecord {
	rec := BatchRecord{
		ID:          result.ID,
		Operation:   operation,
		Bucket:      bucket,
		Total:       result.TotalCount(),
		Successful:  len(result.Successful),
		Failed:      len(result.Failed),
		SuccessRate: result.SuccessRate(),
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}

	for i, id := range result.Failed {
		f := ItemFailure{Identifier: id}
		if i < len(result.Causes) {
			f.Cause = result.Causes[i]
		}

		rec.Failures = append(rec.Failures, f)
	}

	return rec
}
