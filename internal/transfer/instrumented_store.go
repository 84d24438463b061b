package transfer

import (
	"context"
	"io"

	"github.com/italolelis/s3_batcher/internal/telemetry"
)

// InstrumentedStore wraps ObjectStore with telemetry.
type InstrumentedStore struct {
	store     ObjectStore
	telemetry *telemetry.Telemetry
	storeType string
}

// NewInstrumentedStore creates a new instrumented object store.
func NewInstrumentedStore(store ObjectStore, tel *telemetry.Telemetry, storeType string) *InstrumentedStore {
	return &InstrumentedStore{
		store:     store,
		telemetry: tel,
		storeType: storeType,
	}
}

// GetObject opens an object with telemetry. Only the call is measured, not reading the body.
func (s *InstrumentedStore) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	var result *Object

	err := s.telemetry.InstrumentClientOperation(ctx, s.storeType, "get_object", func(ctx context.Context) error {
		var err error

		result, err = s.store.GetObject(ctx, bucket, key)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// PutObject stores an object with telemetry.
func (s *InstrumentedStore) PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64) error {
	return s.telemetry.InstrumentClientOperation(ctx, s.storeType, "put_object", func(ctx context.Context) error {
		return s.store.PutObject(ctx, bucket, key, body, size)
	})
}
