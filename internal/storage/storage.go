package storage

import (
	"context"
	"errors"
	"time"
)

var ErrBatchNotFound = errors.New("batch not found")

// BatchRecord is the persisted summary of one finished batch.
type BatchRecord struct {
	ID          string        `json:"id"`
	Operation   string        `json:"operation"`
	Bucket      string        `json:"bucket"`
	Total       int           `json:"total"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Failures    []ItemFailure `json:"failures,omitempty"`
}

// ItemFailure is one entry of a batch's failed list.
type ItemFailure struct {
	Identifier string `json:"identifier"`
	Cause      string `json:"cause"`
}

type BatchReadRepository interface {
	// ListBatches returns the most recent batches first, without failures.
	ListBatches(ctx context.Context, limit int) ([]BatchRecord, error)
	// GetBatch returns one batch with its failures, or ErrBatchNotFound.
	// Failures is empty, never nil, when nothing failed.
	GetBatch(ctx context.Context, id string) (*BatchRecord, error)
}

type BatchWriteRepository interface {
	SaveBatch(ctx context.Context, rec BatchRecord) error
	// DeleteBatchesBefore removes batches that finished before t and reports how many.
	DeleteBatchesBefore(ctx context.Context, t time.Time) (int64, error)
}

type BatchRepository interface {
	BatchReadRepository
	BatchWriteRepository
}
