package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/s3_batcher/internal/storage"
)

// timeLayout is fixed width so that text comparison in SQL orders correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// BatchRepository implements storage.BatchRepository on SQLite.
type BatchRepository struct {
	db *sql.DB
}

func NewBatchRepository(dbConn *sql.DB) *BatchRepository {
	return &BatchRepository{db: dbConn}
}

func (r *BatchRepository) SaveBatch(ctx context.Context, rec storage.BatchRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, operation, bucket, total, successful, failed, success_rate, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Operation, rec.Bucket, rec.Total, rec.Successful, rec.Failed, rec.SuccessRate,
		rec.StartedAt.UTC().Format(timeLayout), rec.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	for _, f := range rec.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_failures (batch_id, identifier, cause) VALUES (?, ?, ?)`,
			rec.ID, f.Identifier, f.Cause,
		); err != nil {
			return fmt.Errorf("failed to insert batch failure: %w", err)
		}
	}

	return tx.Commit()
}

func (r *BatchRepository) ListBatches(ctx context.Context, limit int) ([]storage.BatchRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id,
			operation,
			bucket,
			total,
			successful,
			failed,
			success_rate,
			started_at,
			finished_at
		FROM batches
		ORDER BY finished_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	batches := []storage.BatchRecord{}

	for rows.Next() {
		rec, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}

		batches = append(batches, *rec)
	}

	return batches, rows.Err()
}

func (r *BatchRepository) GetBatch(ctx context.Context, id string) (*storage.BatchRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, operation, bucket, total, successful, failed, success_rate, started_at, finished_at
		FROM batches WHERE id = ?`, id)

	rec, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrBatchNotFound
	}

	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT identifier, cause FROM batch_failures WHERE batch_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	rec.Failures = []storage.ItemFailure{}

	for rows.Next() {
		var f storage.ItemFailure
		if err := rows.Scan(&f.Identifier, &f.Cause); err != nil {
			return nil, err
		}

		rec.Failures = append(rec.Failures, f)
	}

	return rec, rows.Err()
}

func (r *BatchRepository) DeleteBatchesBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM batches WHERE finished_at < ?`, t.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(s scanner) (*storage.BatchRecord, error) {
	var (
		rec                   storage.BatchRecord
		startedAt, finishedAt string
	)

	if err := s.Scan(&rec.ID, &rec.Operation, &rec.Bucket, &rec.Total, &rec.Successful, &rec.Failed,
		&rec.SuccessRate, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	var err error

	if rec.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	if rec.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}

	return &rec, nil
}
