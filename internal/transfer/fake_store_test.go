package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// fakeStore is an in-memory ObjectStore that records how many calls overlap.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	errs    map[string]error
	panics  map[string]bool
	bodies  map[string]io.ReadCloser

	delay  time.Duration
	active atomic.Int64
	peak   atomic.Int64
	gets   atomic.Int64
	puts   atomic.Int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string][]byte),
		errs:    make(map[string]error),
		panics:  make(map[string]bool),
		bodies:  make(map[string]io.ReadCloser),
	}
}

func objectID(bucket, key string) string {
	return bucket + "/" + key
}

func (s *fakeStore) put(bucket, key, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[objectID(bucket, key)] = []byte(data)
}

func (s *fakeStore) failWith(bucket, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errs[objectID(bucket, key)] = err
}

func (s *fakeStore) object(bucket, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.objects[objectID(bucket, key)]

	return string(b), ok
}

func (s *fakeStore) enter() func() {
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	return func() { s.active.Add(-1) }
}

func (s *fakeStore) GetObject(_ context.Context, bucket, key string) (*Object, error) {
	s.gets.Add(1)
	defer s.enter()()

	id := objectID(bucket, key)

	s.mu.Lock()
	data, ok := s.objects[id]
	err := s.errs[id]
	shouldPanic := s.panics[id]
	body := s.bodies[id]
	s.mu.Unlock()

	if shouldPanic {
		panic("boom: " + key)
	}

	if err != nil {
		return nil, err
	}

	if body != nil {
		return &Object{Body: body, Size: -1}, nil
	}

	if !ok {
		return nil, &StorageError{Operation: "get_object", Bucket: bucket, Key: key, Err: ErrObjectNotFound}
	}

	return &Object{Body: io.NopCloser(bytes.NewReader(bytes.Clone(data))), Size: int64(len(data))}, nil
}

func (s *fakeStore) PutObject(_ context.Context, bucket, key string, body io.ReadSeeker, _ int64) error {
	s.puts.Add(1)
	defer s.enter()()

	id := objectID(bucket, key)

	s.mu.Lock()
	err := s.errs[id]
	s.mu.Unlock()

	if err != nil {
		return err
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.objects[id] = data
	s.mu.Unlock()

	return nil
}

// brokenBody returns some bytes and then fails, like a dropped connection.
type brokenBody struct {
	sent bool
}

var errConnectionReset = errors.New("connection reset by peer")

func (b *brokenBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true

		return copy(p, "partial"), nil
	}

	return 0, errConnectionReset
}

func (b *brokenBody) Close() error { return nil }
