package transfer

import (
	"context"
	"io"
)

// Object is a readable object body. Size is -1 when the store did not report it.
type Object struct {
	Body io.ReadCloser
	Size int64
}

// ObjectStore is the storage capability the engine drives. Implementations
// return *StorageError values wrapping ErrObjectNotFound or ErrAccessDenied
// where the backend can tell them apart.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) (*Object, error)
	PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64) error
}
