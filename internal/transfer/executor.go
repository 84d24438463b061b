package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/s3_batcher/internal/logctx"
	"github.com/italolelis/s3_batcher/internal/telemetry"
	"github.com/italolelis/s3_batcher/internal/transfer/progress"
)

const defaultProgressInterval = int64(100 * 1024 * 1024) // 100MB

var errIsDirectory = errors.New("is a directory")

// Executor performs exactly one transfer per call and reports it as an Outcome.
type Executor struct {
	store            ObjectStore
	paths            PathResolver
	telemetry        *telemetry.Telemetry
	progressInterval int64
}

func NewExecutor(store ObjectStore, tel *telemetry.Telemetry) *Executor {
	return &Executor{
		store:            store,
		telemetry:        tel,
		progressInterval: defaultProgressInterval,
	}
}

// Execute runs req and never returns its failure as anything but Outcome.Err.
// A panic inside the transfer is recovered into a failed outcome.
func (e *Executor) Execute(ctx context.Context, req Request) (out Outcome) {
	start := time.Now()
	out.Request = req

	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "transfer panic",
				"direction", req.Direction,
				"key", req.Key,
				"panic", r,
				"stack", string(debug.Stack()))

			e.telemetry.RecordSystemError(ctx, "executor", "panic")

			out.Err = fmt.Errorf("transfer panicked: %v", r)
		}

		out.Duration = time.Since(start)
	}()

	direction := string(req.Direction)

	out.Err = e.telemetry.InstrumentTransfer(ctx, direction, func(ctx context.Context) error {
		var err error

		switch req.Direction {
		case Upload:
			out.Bytes, err = e.upload(ctx, req)
		case Download:
			out.Bytes, err = e.download(ctx, req)
		default:
			err = fmt.Errorf("unknown transfer direction %q", req.Direction)
		}

		return err
	})

	if out.Err == nil {
		e.telemetry.RecordTransferBytes(ctx, direction, out.Bytes)
	}

	return out
}

func (e *Executor) download(ctx context.Context, req Request) (int64, error) {
	logger := logctx.LoggerFromContext(ctx).With("key", req.Key)

	if err := e.paths.EnsureParentDir(ctx, req.LocalPath); err != nil {
		return 0, err
	}

	obj, err := e.store.GetObject(ctx, req.Bucket, req.Key)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get object", "err", err)

		return 0, err
	}

	defer obj.Body.Close()

	out, err := os.Create(req.LocalPath)
	if err != nil {
		return 0, &LocalFileError{Operation: "create", Path: req.LocalPath, Err: err}
	}

	n, err := e.writeFile(ctx, out, obj, req)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = &LocalFileError{Operation: "close", Path: req.LocalPath, Err: closeErr}
	}

	if err != nil {
		// a truncated file is worse than none
		if rmErr := os.Remove(req.LocalPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.WarnContext(ctx, "failed to remove partial file", "target", req.LocalPath, "err", rmErr)
		}

		logger.ErrorContext(ctx, "failed to download object", "target", req.LocalPath, "err", err)

		return 0, err
	}

	logger.InfoContext(ctx, "downloaded and saved file", "target", req.LocalPath, "size", humanize.Bytes(uint64(n)))

	return n, nil
}

func (e *Executor) writeFile(ctx context.Context, out *os.File, obj *Object, req Request) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if obj.Size >= 0 {
		logger.DebugContext(ctx, "downloading file", "key", req.Key, "file_size", humanize.Bytes(uint64(obj.Size)))
	}

	progressCb := func(read int64, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"key", req.Key,
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.DebugContext(ctx, "download progress", "key", req.Key, "downloaded", humanize.Bytes(uint64(read)))
		}
	}
	pr := progress.NewReader(obj.Body, obj.Size, e.progressInterval, progressCb)

	n, err := io.Copy(out, pr)
	if err != nil {
		if readErr := pr.ReadErr(); readErr != nil {
			return n, &StorageError{Operation: "read_body", Bucket: req.Bucket, Key: req.Key, Err: readErr}
		}

		return n, &LocalFileError{Operation: "write", Path: req.LocalPath, Err: err}
	}

	return n, nil
}

func (e *Executor) upload(ctx context.Context, req Request) (int64, error) {
	logger := logctx.LoggerFromContext(ctx).With("key", req.Key)

	f, err := os.Open(req.LocalPath)
	if err != nil {
		return 0, &LocalFileError{Operation: "open", Path: req.LocalPath, Err: err}
	}

	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, &LocalFileError{Operation: "stat", Path: req.LocalPath, Err: err}
	}

	if info.IsDir() {
		return 0, &LocalFileError{Operation: "open", Path: req.LocalPath, Err: errIsDirectory}
	}

	logger.DebugContext(ctx, "uploading file", "source", req.LocalPath, "file_size", humanize.Bytes(uint64(info.Size())))

	if err := e.store.PutObject(ctx, req.Bucket, req.Key, f, info.Size()); err != nil {
		logger.ErrorContext(ctx, "failed to upload file", "source", req.LocalPath, "err", err)

		return 0, err
	}

	logger.InfoContext(ctx, "uploaded file", "source", req.LocalPath, "size", humanize.Bytes(uint64(info.Size())))

	return info.Size(), nil
}
