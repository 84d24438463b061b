package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/s3_batcher/internal/storage"
	"github.com/italolelis/s3_batcher/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTransferClient implements TransferClient for testing.
type mockTransferClient struct {
	downloadFileFunc  func(ctx context.Context, bucket, key, localPath string) (string, error)
	uploadFileFunc    func(ctx context.Context, bucket, key, localPath string) (string, error)
	downloadManyFunc  func(ctx context.Context, bucket string, keys []string, baseDir string) (*transfer.BatchResult, error)
	downloadPathsFunc func(ctx context.Context, bucket string, pairs []transfer.DownloadPair) (*transfer.BatchResult, error)
	uploadManyFunc    func(ctx context.Context, bucket string, pairs []transfer.UploadPair) (*transfer.BatchResult, error)
}

func (m *mockTransferClient) DownloadFile(ctx context.Context, bucket, key, localPath string) (string, error) {
	if m.downloadFileFunc != nil {
		return m.downloadFileFunc(ctx, bucket, key, localPath)
	}

	return localPath, nil
}

func (m *mockTransferClient) UploadFile(ctx context.Context, bucket, key, localPath string) (string, error) {
	if m.uploadFileFunc != nil {
		return m.uploadFileFunc(ctx, bucket, key, localPath)
	}

	return key, nil
}

func (m *mockTransferClient) DownloadMultipleFiles(ctx context.Context, bucket string, keys []string, baseDir string, _ ...transfer.BatchOption) (*transfer.BatchResult, error) {
	if m.downloadManyFunc != nil {
		return m.downloadManyFunc(ctx, bucket, keys, baseDir)
	}

	return transfer.NewBatchResult(nil, nil), nil
}

func (m *mockTransferClient) DownloadMultipleFilesWithPaths(ctx context.Context, bucket string, pairs []transfer.DownloadPair, _ ...transfer.BatchOption) (*transfer.BatchResult, error) {
	if m.downloadPathsFunc != nil {
		return m.downloadPathsFunc(ctx, bucket, pairs)
	}

	return transfer.NewBatchResult(nil, nil), nil
}

func (m *mockTransferClient) UploadMultipleFiles(ctx context.Context, bucket string, pairs []transfer.UploadPair, _ ...transfer.BatchOption) (*transfer.BatchResult, error) {
	if m.uploadManyFunc != nil {
		return m.uploadManyFunc(ctx, bucket, pairs)
	}

	return transfer.NewBatchResult(nil, nil), nil
}

type memoryHistory struct {
	mu      sync.Mutex
	saved   []storage.BatchRecord
	saveErr error
}

func (m *memoryHistory) SaveBatch(_ context.Context, rec storage.BatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}

	m.saved = append(m.saved, rec)

	return nil
}

func (m *memoryHistory) DeleteBatchesBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (m *memoryHistory) ListBatches(_ context.Context, limit int) ([]storage.BatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit > len(m.saved) {
		limit = len(m.saved)
	}

	return m.saved[:limit], nil
}

func (m *memoryHistory) GetBatch(_ context.Context, id string) (*storage.BatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.saved {
		if rec.ID == id {
			return &rec, nil
		}
	}

	return nil, storage.ErrBatchNotFound
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, content string) error {
	n.messages = append(n.messages, content)

	return nil
}

const testRoot = "/srv/s3_batcher"

func mixedResult() *transfer.BatchResult {
	r := transfer.NewBatchResult([]string{"/srv/s3_batcher/data/a.txt", "/srv/s3_batcher/data/b.txt"}, []string{"missing.txt"})
	r.ID = "batch-1"
	r.Causes[0] = "object not found"

	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestHandleDownloadBatch_RecordsAndNotifies(t *testing.T) {
	var gotKeys []string

	client := &mockTransferClient{
		downloadManyFunc: func(_ context.Context, bucket string, keys []string, baseDir string) (*transfer.BatchResult, error) {
			assert.Equal(t, "reports", bucket)
			assert.Equal(t, filepath.Join(testRoot, "data"), baseDir)

			gotKeys = keys

			return mixedResult(), nil
		},
	}
	history := &memoryHistory{}
	n := &recordingNotifier{}

	h := NewBatchHandler(client, history, n, testRoot, "", "", nil).Routes()

	rec := do(t, h, http.MethodPost, "/downloads/batch",
		`{"bucket":"reports","keys":["a.txt","b.txt","missing.txt"],"base_directory":"data"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		BatchID           string   `json:"batch_id"`
		Successful        []string `json:"successful"`
		Failed            []string `json:"failed"`
		TotalCount        int      `json:"total_count"`
		SuccessRate       float64  `json:"success_rate"`
		IsCompleteSuccess bool     `json:"is_complete_success"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, []string{"a.txt", "b.txt", "missing.txt"}, gotKeys)
	assert.Equal(t, "batch-1", resp.BatchID)
	assert.Equal(t, 3, resp.TotalCount)
	assert.InDelta(t, 0.6667, resp.SuccessRate, 0.0001)
	assert.False(t, resp.IsCompleteSuccess)
	assert.Equal(t, []string{"missing.txt"}, resp.Failed)

	require.Len(t, history.saved, 1)
	assert.Equal(t, "download_multiple_files", history.saved[0].Operation)
	assert.Equal(t, 1, history.saved[0].Failed)

	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "missing.txt")
}

func TestHandleUploadBatch_CompleteSuccessSkipsNotifier(t *testing.T) {
	client := &mockTransferClient{
		uploadManyFunc: func(_ context.Context, _ string, pairs []transfer.UploadPair) (*transfer.BatchResult, error) {
			var uploaded []string
			for _, p := range pairs {
				uploaded = append(uploaded, p.LocalPath)
			}

			assert.Equal(t, []string{filepath.Join(testRoot, "x")}, uploaded)

			return transfer.NewBatchResult(uploaded, nil), nil
		},
	}
	n := &recordingNotifier{}

	h := NewBatchHandler(client, nil, n, testRoot, "", "", nil).Routes()

	rec := do(t, h, http.MethodPost, "/uploads/batch",
		`{"bucket":"b","uploads":[{"local_path":"x","key":"x"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), `"is_complete_success":true`)
	assert.Empty(t, n.messages)
}

func TestHandleDownloadPaths_EmptyListsEncodeAsArrays(t *testing.T) {
	h := NewBatchHandler(&mockTransferClient{}, nil, nil, testRoot, "", "", nil).Routes()

	rec := do(t, h, http.MethodPost, "/downloads/batch/paths", `{"bucket":"b","downloads":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), `"successful":[]`)
	assert.Contains(t, rec.Body.String(), `"failed":[]`)
	assert.Contains(t, rec.Body.String(), `"success_rate":0`)
}

func TestHandleDownloadBatch_FatalDirectoryError(t *testing.T) {
	client := &mockTransferClient{
		downloadManyFunc: func(context.Context, string, []string, string) (*transfer.BatchResult, error) {
			return nil, &transfer.DirectoryError{Path: filepath.Join(testRoot, "data"), Reason: "not a directory"}
		},
	}
	history := &memoryHistory{}

	h := NewBatchHandler(client, history, nil, testRoot, "", "", nil).Routes()

	rec := do(t, h, http.MethodPost, "/downloads/batch", `{"bucket":"b","keys":["a"],"base_directory":"data"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "not a directory")
	assert.Empty(t, history.saved)
}

func TestHandleDownload(t *testing.T) {
	h := NewBatchHandler(&mockTransferClient{}, nil, nil, testRoot, "", "", nil).Routes()

	rec := do(t, h, http.MethodPost, "/downloads", `{"bucket":"b","key":"k","local_path":"out/k"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, filepath.Join(testRoot, "out", "k"), resp["local_path"])
}

func TestHandleUpload(t *testing.T) {
	h := NewBatchHandler(&mockTransferClient{}, nil, nil, testRoot, "", "", nil).Routes()

	rec := do(t, h, http.MethodPost, "/uploads", `{"bucket":"b","key":"k","local_path":"k"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"k"}`, rec.Body.String())
}

func TestHandleSingle_BadRequests(t *testing.T) {
	h := NewBatchHandler(&mockTransferClient{}, nil, nil, testRoot, "", "", nil).Routes()

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "malformed json", path: "/downloads", body: `{"bucket":`},
		{name: "missing key", path: "/downloads", body: `{"bucket":"b","local_path":"x"}`},
		{name: "missing local path", path: "/uploads", body: `{"bucket":"b","key":"k"}`},
		{name: "missing base directory", path: "/downloads/batch", body: `{"bucket":"b","keys":["a"]}`},
		{name: "missing bucket", path: "/uploads/batch", body: `{"uploads":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestLocalPaths_RejectedOutsideRoot(t *testing.T) {
	client := &mockTransferClient{
		downloadFileFunc: func(context.Context, string, string, string) (string, error) {
			t.Error("download must not start for a rejected path")

			return "", nil
		},
		uploadFileFunc: func(context.Context, string, string, string) (string, error) {
			t.Error("upload must not start for a rejected path")

			return "", nil
		},
		downloadManyFunc: func(context.Context, string, []string, string) (*transfer.BatchResult, error) {
			t.Error("batch download must not start for a rejected path")

			return nil, nil
		},
		downloadPathsFunc: func(context.Context, string, []transfer.DownloadPair) (*transfer.BatchResult, error) {
			t.Error("batch download must not start for a rejected path")

			return nil, nil
		},
		uploadManyFunc: func(context.Context, string, []transfer.UploadPair) (*transfer.BatchResult, error) {
			t.Error("batch upload must not start for a rejected path")

			return nil, nil
		},
	}
	history := &memoryHistory{}

	h := NewBatchHandler(client, history, nil, testRoot, "", "", nil).Routes()

	tests := []struct {
		name string
		path string
		body string
	}{
		{
			name: "download into home directory",
			path: "/downloads",
			body: `{"bucket":"b","key":"k","local_path":"/root/.ssh/authorized_keys"}`,
		},
		{
			name: "download with parent traversal",
			path: "/downloads",
			body: `{"bucket":"b","key":"k","local_path":"../../root/.ssh/authorized_keys"}`,
		},
		{
			name: "upload system file",
			path: "/uploads",
			body: `{"bucket":"b","key":"k","local_path":"/etc/passwd"}`,
		},
		{
			name: "absolute base directory",
			path: "/downloads/batch",
			body: `{"bucket":"b","keys":["a"],"base_directory":"/tmp/anywhere"}`,
		},
		{
			name: "base directory above root",
			path: "/downloads/batch",
			body: `{"bucket":"b","keys":["a"],"base_directory":"data/../.."}`,
		},
		{
			name: "filesystem root as base directory",
			path: "/downloads/batch",
			body: `{"bucket":"b","keys":["a"],"base_directory":"/"}`,
		},
		{
			name: "one bad download pair",
			path: "/downloads/batch/paths",
			body: `{"bucket":"b","downloads":[{"key":"a","local_path":"a"},{"key":"b","local_path":"/tmp/anywhere/b"}]}`,
		},
		{
			name: "one bad upload pair",
			path: "/uploads/batch",
			body: `{"bucket":"b","uploads":[{"local_path":"ok.txt","key":"ok"},{"local_path":"../../etc/shadow","key":"s"}]}`,
		},
		{
			name: "empty pair path",
			path: "/uploads/batch",
			body: `{"bucket":"b","uploads":[{"local_path":"","key":"k"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid local path")
		})
	}

	assert.Empty(t, history.saved)
}

func TestLocalPaths_ResolvedBelowRoot(t *testing.T) {
	var (
		gotBaseDir string
		gotPairs   []transfer.DownloadPair
	)

	client := &mockTransferClient{
		downloadManyFunc: func(_ context.Context, _ string, _ []string, baseDir string) (*transfer.BatchResult, error) {
			gotBaseDir = baseDir

			return transfer.NewBatchResult(nil, nil), nil
		},
		downloadPathsFunc: func(_ context.Context, _ string, pairs []transfer.DownloadPair) (*transfer.BatchResult, error) {
			gotPairs = pairs

			return transfer.NewBatchResult(nil, nil), nil
		},
	}

	h := NewBatchHandler(client, nil, nil, testRoot, "", "", nil).Routes()

	t.Run("base directory", func(t *testing.T) {
		tests := map[string]string{
			".":            testRoot,
			"./":           testRoot,
			"reports/":     filepath.Join(testRoot, "reports"),
			"a/./b/../c":   filepath.Join(testRoot, "a", "c"),
			"nightly/2024": filepath.Join(testRoot, "nightly", "2024"),
		}

		for input, want := range tests {
			rec := do(t, h, http.MethodPost, "/downloads/batch",
				fmt.Sprintf(`{"bucket":"b","keys":["a"],"base_directory":%q}`, input))

			require.Equal(t, http.StatusOK, rec.Code, input)
			assert.Equal(t, want, gotBaseDir, input)
		}
	})

	t.Run("download pairs", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/downloads/batch/paths",
			`{"bucket":"b","downloads":[{"key":"a","local_path":"in/a.txt"},{"key":"b","local_path":"b.txt"}]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, []transfer.DownloadPair{
			{Key: "a", LocalPath: filepath.Join(testRoot, "in", "a.txt")},
			{Key: "b", LocalPath: filepath.Join(testRoot, "b.txt")},
		}, gotPairs)
	})
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "not found",
			err:  &transfer.StorageError{Operation: "get_object", Bucket: "b", Key: "k", Err: transfer.ErrObjectNotFound},
			want: http.StatusNotFound,
		},
		{
			name: "access denied",
			err:  &transfer.StorageError{Operation: "put_object", Bucket: "b", Key: "k", Err: fmt.Errorf("%w: 403", transfer.ErrAccessDenied)},
			want: http.StatusForbidden,
		},
		{
			name: "invalid key",
			err:  &transfer.InvalidKeyError{Key: "../x", Reason: "escapes base directory"},
			want: http.StatusBadRequest,
		},
		{
			name: "directory",
			err:  &transfer.DirectoryError{Path: "/x", Reason: "permission denied"},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "local file",
			err:  &transfer.LocalFileError{Operation: "open", Path: "/x", Err: errors.New("no such file")},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "other storage failure",
			err:  &transfer.StorageError{Operation: "get_object", Bucket: "b", Key: "k", Err: errors.New("timeout")},
			want: http.StatusBadGateway,
		},
		{
			name: "cancelled",
			err:  fmt.Errorf("transfer not started: %w", context.Canceled),
			want: http.StatusServiceUnavailable,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestHandleDownload_MapsErrors(t *testing.T) {
	client := &mockTransferClient{
		downloadFileFunc: func(_ context.Context, bucket, key, _ string) (string, error) {
			return "", &transfer.StorageError{Operation: "get_object", Bucket: bucket, Key: key, Err: transfer.ErrObjectNotFound}
		},
	}

	h := NewBatchHandler(client, nil, nil, testRoot, "", "", nil).Routes()

	rec := do(t, h, http.MethodPost, "/downloads", `{"bucket":"b","key":"missing","local_path":"m"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "object not found")
}

func TestBatchHistoryEndpoints(t *testing.T) {
	history := &memoryHistory{}
	h := NewBatchHandler(&mockTransferClient{
		downloadManyFunc: func(context.Context, string, []string, string) (*transfer.BatchResult, error) {
			return mixedResult(), nil
		},
	}, history, nil, testRoot, "", "", nil).Routes()

	rec := do(t, h, http.MethodPost, "/downloads/batch", `{"bucket":"b","keys":["a"],"base_directory":"data"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("list", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/batches?limit=5", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var batches []storage.BatchRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batches))
		require.Len(t, batches, 1)
		assert.Equal(t, "batch-1", batches[0].ID)
	})

	t.Run("invalid limit", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/batches?limit=zero", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/batches/batch-1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var batch storage.BatchRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
		require.Len(t, batch.Failures, 1)
		assert.Equal(t, "missing.txt", batch.Failures[0].Identifier)
	})

	t.Run("get without failures", func(t *testing.T) {
		require.NoError(t, history.SaveBatch(context.Background(), storage.BatchRecord{ID: "clean", Total: 1, Successful: 1}))

		rec := do(t, h, http.MethodGet, "/batches/clean", "")
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Contains(t, rec.Body.String(), `"failures":[]`)
		assert.NotContains(t, rec.Body.String(), "null")
	})

	t.Run("get missing", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/batches/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHistorySaveFailureDoesNotFailRequest(t *testing.T) {
	history := &memoryHistory{saveErr: errors.New("disk full")}
	h := NewBatchHandler(&mockTransferClient{}, history, nil, testRoot, "", "", nil).Routes()

	rec := do(t, h, http.MethodPost, "/uploads/batch", `{"bucket":"b","uploads":[]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHistoryRoutesDisabledWithoutRepository(t *testing.T) {
	h := NewBatchHandler(&mockTransferClient{}, nil, nil, testRoot, "", "", nil).Routes()

	rec := do(t, h, http.MethodGet, "/batches", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	h := NewBatchHandler(&mockTransferClient{}, nil, nil, testRoot, "admin", "secret", nil).Routes()
	body := `{"bucket":"b","key":"k","local_path":"k"}`

	tests := []struct {
		name     string
		user     string
		pass     string
		setAuth  bool
		wantCode int
	}{
		{name: "no credentials", wantCode: http.StatusUnauthorized},
		{name: "wrong password", user: "admin", pass: "nope", setAuth: true, wantCode: http.StatusUnauthorized},
		{name: "valid", user: "admin", pass: "secret", setAuth: true, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/downloads", strings.NewReader(body))
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
