package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/s3_batcher/internal/storage"
	"github.com/italolelis/s3_batcher/internal/telemetry"
)

// InstrumentedBatchRepository wraps BatchRepository with telemetry.
type InstrumentedBatchRepository struct {
	repo      *BatchRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedBatchRepository creates a new instrumented batch repository.
func NewInstrumentedBatchRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedBatchRepository {
	return &InstrumentedBatchRepository{
		repo:      NewBatchRepository(dbConn),
		telemetry: tel,
	}
}

// SaveBatch stores a batch with telemetry.
func (r *InstrumentedBatchRepository) SaveBatch(ctx context.Context, rec storage.BatchRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_batch", func(ctx context.Context) error {
		return r.repo.SaveBatch(ctx, rec)
	})
}

// ListBatches lists batches with telemetry.
func (r *InstrumentedBatchRepository) ListBatches(ctx context.Context, limit int) ([]storage.BatchRecord, error) {
	var result []storage.BatchRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_batches", func(ctx context.Context) error {
		var err error

		result, err = r.repo.ListBatches(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetBatch loads one batch with telemetry.
func (r *InstrumentedBatchRepository) GetBatch(ctx context.Context, id string) (*storage.BatchRecord, error) {
	var result *storage.BatchRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_batch", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetBatch(ctx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteBatchesBefore prunes history with telemetry.
func (r *InstrumentedBatchRepository) DeleteBatchesBefore(ctx context.Context, t time.Time) (int64, error) {
	var deleted int64

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_batches_before", func(ctx context.Context) error {
		var err error

		deleted, err = r.repo.DeleteBatchesBefore(ctx, t)

		return err
	})

	return deleted, err
}
