package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/s3_batcher/internal/history"
	"github.com/italolelis/s3_batcher/internal/logctx"
	"github.com/italolelis/s3_batcher/internal/notifier"
	"github.com/italolelis/s3_batcher/internal/storage"
	"github.com/italolelis/s3_batcher/internal/telemetry"
	"github.com/italolelis/s3_batcher/internal/transfer"
)

const (
	maxBodySize = 1 << 20

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// TransferClient is the subset of *transfer.Client the handler drives.
type TransferClient interface {
	DownloadFile(ctx context.Context, bucket, key, localPath string) (string, error)
	UploadFile(ctx context.Context, bucket, key, localPath string) (string, error)
	DownloadMultipleFiles(ctx context.Context, bucket string, keys []string, baseDir string, opts ...transfer.BatchOption) (*transfer.BatchResult, error)
	DownloadMultipleFilesWithPaths(ctx context.Context, bucket string, pairs []transfer.DownloadPair, opts ...transfer.BatchOption) (*transfer.BatchResult, error)
	UploadMultipleFiles(ctx context.Context, bucket string, pairs []transfer.UploadPair, opts ...transfer.BatchOption) (*transfer.BatchResult, error)
}

type singleTransferRequest struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	LocalPath string `json:"local_path"`
}

type downloadBatchRequest struct {
	Bucket        string   `json:"bucket"`
	Keys          []string `json:"keys"`
	BaseDirectory string   `json:"base_directory"`
}

type downloadPathsRequest struct {
	Bucket    string                  `json:"bucket"`
	Downloads []transfer.DownloadPair `json:"downloads"`
}

type uploadBatchRequest struct {
	Bucket  string                `json:"bucket"`
	Uploads []transfer.UploadPair `json:"uploads"`
}

// BatchResponse is a BatchResult plus the figures derived from it.
type BatchResponse struct {
	*transfer.BatchResult

	TotalCount        int     `json:"total_count"`
	SuccessRate       float64 `json:"success_rate"`
	IsCompleteSuccess bool    `json:"is_complete_success"`
}

func newBatchResponse(r *transfer.BatchResult) BatchResponse {
	return BatchResponse{
		BatchResult:       r,
		TotalCount:        r.TotalCount(),
		SuccessRate:       r.RoundedSuccessRate(),
		IsCompleteSuccess: r.IsCompleteSuccess(),
	}
}

// batchDetail always carries failures, unlike list entries which leave them out.
type batchDetail struct {
	storage.BatchRecord

	Failures []storage.ItemFailure `json:"failures"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type BatchHandler struct {
	client   TransferClient
	history  storage.BatchReadRepository
	recorder *history.Recorder
	rootDir  string
	username string
	password string
}

// NewBatchHandler wires the transfer endpoints. Every local path a request
// names is resolved beneath rootDir. repo and n may be nil, in which case
// batches are neither recorded nor reported. Basic auth is enforced when
// username is set.
func NewBatchHandler(client TransferClient, repo storage.BatchRepository, n notifier.Notifier, rootDir, username, password string, t *telemetry.Telemetry) *BatchHandler {
	return &BatchHandler{
		client:   client,
		history:  repo,
		recorder: history.NewRecorder(repo, n, t),
		rootDir:  rootDir,
		username: username,
		password: password,
	}
}

func (h *BatchHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/downloads", h.HandleDownload)
	r.Post("/downloads/batch", h.HandleDownloadBatch)
	r.Post("/downloads/batch/paths", h.HandleDownloadPaths)
	r.Post("/uploads", h.HandleUpload)
	r.Post("/uploads/batch", h.HandleUploadBatch)

	if h.history != nil {
		r.Get("/batches", h.HandleListBatches)
		r.Get("/batches/{id}", h.HandleGetBatch)
	}

	return r
}

func (h *BatchHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	var req singleTransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Bucket == "" || req.Key == "" || req.LocalPath == "" {
		writeError(w, http.StatusBadRequest, "bucket, key and local_path are required")

		return
	}

	localPath, err := h.localFile(req.LocalPath)
	if err != nil {
		h.writeTransferError(w, r, err)

		return
	}

	path, err := h.client.DownloadFile(r.Context(), req.Bucket, req.Key, localPath)
	if err != nil {
		h.writeTransferError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"local_path": path})
}

func (h *BatchHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	var req singleTransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Bucket == "" || req.Key == "" || req.LocalPath == "" {
		writeError(w, http.StatusBadRequest, "bucket, key and local_path are required")

		return
	}

	localPath, err := h.localFile(req.LocalPath)
	if err != nil {
		h.writeTransferError(w, r, err)

		return
	}

	key, err := h.client.UploadFile(r.Context(), req.Bucket, req.Key, localPath)
	if err != nil {
		h.writeTransferError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"key": key})
}

func (h *BatchHandler) HandleDownloadBatch(w http.ResponseWriter, r *http.Request) {
	var req downloadBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Bucket == "" || req.BaseDirectory == "" {
		writeError(w, http.StatusBadRequest, "bucket and base_directory are required")

		return
	}

	baseDir, err := h.localDir(req.BaseDirectory)
	if err != nil {
		h.writeTransferError(w, r, err)

		return
	}

	h.runBatch(w, r, "download_multiple_files", req.Bucket, func(ctx context.Context) (*transfer.BatchResult, error) {
		return h.client.DownloadMultipleFiles(ctx, req.Bucket, req.Keys, baseDir)
	})
}

func (h *BatchHandler) HandleDownloadPaths(w http.ResponseWriter, r *http.Request) {
	var req downloadPathsRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Bucket == "" {
		writeError(w, http.StatusBadRequest, "bucket is required")

		return
	}

	downloads := make([]transfer.DownloadPair, len(req.Downloads))
	for i, d := range req.Downloads {
		localPath, err := h.localFile(d.LocalPath)
		if err != nil {
			h.writeTransferError(w, r, err)

			return
		}

		downloads[i] = transfer.DownloadPair{Key: d.Key, LocalPath: localPath}
	}

	h.runBatch(w, r, "download_multiple_files_with_paths", req.Bucket, func(ctx context.Context) (*transfer.BatchResult, error) {
		return h.client.DownloadMultipleFilesWithPaths(ctx, req.Bucket, downloads)
	})
}

func (h *BatchHandler) HandleUploadBatch(w http.ResponseWriter, r *http.Request) {
	var req uploadBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Bucket == "" {
		writeError(w, http.StatusBadRequest, "bucket is required")

		return
	}

	uploads := make([]transfer.UploadPair, len(req.Uploads))
	for i, u := range req.Uploads {
		localPath, err := h.localFile(u.LocalPath)
		if err != nil {
			h.writeTransferError(w, r, err)

			return
		}

		uploads[i] = transfer.UploadPair{LocalPath: localPath, Key: u.Key}
	}

	h.runBatch(w, r, "upload_multiple_files", req.Bucket, func(ctx context.Context) (*transfer.BatchResult, error) {
		return h.client.UploadMultipleFiles(ctx, req.Bucket, uploads)
	})
}

func (h *BatchHandler) HandleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")

			return
		}

		limit = min(n, maxHistoryLimit)
	}

	batches, err := h.history.ListBatches(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to list batches", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list batches")

		return
	}

	if batches == nil {
		batches = []storage.BatchRecord{}
	}

	writeJSON(w, r, http.StatusOK, batches)
}

func (h *BatchHandler) HandleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	batch, err := h.history.GetBatch(r.Context(), id)
	if errors.Is(err, storage.ErrBatchNotFound) {
		writeError(w, http.StatusNotFound, err.Error())

		return
	}

	if err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to get batch", "batch_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get batch")

		return
	}

	detail := batchDetail{BatchRecord: *batch, Failures: batch.Failures}
	if detail.Failures == nil {
		detail.Failures = []storage.ItemFailure{}
	}

	writeJSON(w, r, http.StatusOK, detail)
}

func (h *BatchHandler) runBatch(w http.ResponseWriter, r *http.Request, operation, bucket string, run func(context.Context) (*transfer.BatchResult, error)) {
	ctx := r.Context()
	startedAt := time.Now()

	result, err := run(ctx)
	if err != nil {
		h.writeTransferError(w, r, err)

		return
	}

	h.recorder.Record(ctx, operation, bucket, result, startedAt)

	writeJSON(w, r, http.StatusOK, newBatchResponse(result))
}

// localFile places a request's file path beneath the root directory with the
// same rules object keys follow: no absolute paths and no parent traversal.
func (h *BatchHandler) localFile(p string) (string, error) {
	path, err := transfer.JoinKey(h.rootDir, p)
	if err != nil {
		return "", fmt.Errorf("invalid local path: %w", err)
	}

	return path, nil
}

// localDir is localFile for directories. "." names the root itself and a
// single trailing slash is allowed.
func (h *BatchHandler) localDir(p string) (string, error) {
	if filepath.Clean(p) == "." {
		return filepath.Clean(h.rootDir), nil
	}

	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}

	return h.localFile(p)
}

func (h *BatchHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).WarnContext(r.Context(), "failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return false
	}

	return true
}

func (h *BatchHandler) writeTransferError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)

	logger := logctx.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "transfer request failed", "status", status, "err", err)
	} else {
		logger.WarnContext(r.Context(), "transfer request rejected", "status", status, "err", err)
	}

	writeError(w, status, err.Error())
}

// statusForError maps engine errors to HTTP statuses. Sentinels are checked
// first since a StorageError usually wraps one.
func statusForError(err error) int {
	var (
		dirErr     *transfer.DirectoryError
		localErr   *transfer.LocalFileError
		storageErr *transfer.StorageError
		configErr  *transfer.ConfigError
	)

	switch {
	case errors.Is(err, transfer.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, transfer.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, transfer.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.As(err, &dirErr), errors.As(err, &localErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &storageErr):
		return http.StatusBadGateway
	case errors.As(err, &configErr):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *BatchHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="s3_batcher"`)
			writeError(w, http.StatusUnauthorized, "invalid authorization format")

			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1

		if !userOK || !passOK {
			writeError(w, http.StatusUnauthorized, "invalid username or password")

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(errorResponse{Error: strings.TrimSpace(msg)})
}
