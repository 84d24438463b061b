package transfer

import (
	"context"
	"strings"

	"github.com/italolelis/s3_batcher/internal/logctx"
	"github.com/italolelis/s3_batcher/internal/telemetry"
)

// DefaultMaxConcurrency is used when EngineConfig.MaxConcurrency is zero.
const DefaultMaxConcurrency = 5

// EngineConfig is fixed for the lifetime of a Client.
type EngineConfig struct {
	Region         string
	MaxConcurrency int
}

// Validate fills defaults and rejects unusable values.
func (c *EngineConfig) Validate() error {
	if strings.TrimSpace(c.Region) == "" {
		return &ConfigError{Field: "region", Reason: "must not be empty"}
	}

	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}

	if c.MaxConcurrency < 0 {
		return &ConfigError{Field: "max_concurrency", Reason: "must be a positive integer"}
	}

	return nil
}

type clientOptions struct {
	telemetry *telemetry.Telemetry
}

// ClientOption configures NewClient.
type ClientOption func(*clientOptions)

// WithTelemetry records transfer and batch metrics on tel.
func WithTelemetry(tel *telemetry.Telemetry) ClientOption {
	return func(o *clientOptions) {
		o.telemetry = tel
	}
}

// Client is the entry point for single and batch transfers. All calls on a
// Client share one concurrency limit.
type Client struct {
	cfg     EngineConfig
	exec    *Executor
	limiter *Limiter
	orch    *Orchestrator
	paths   PathResolver
}

func NewClient(cfg EngineConfig, store ObjectStore, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	exec := NewExecutor(store, o.telemetry)
	limiter := NewLimiter(cfg.MaxConcurrency)

	return &Client{
		cfg:     cfg,
		exec:    exec,
		limiter: limiter,
		orch:    NewOrchestrator(exec, limiter, o.telemetry),
	}, nil
}

func (c *Client) Config() EngineConfig {
	return c.cfg
}

// DownloadFile writes bucket/key to localPath and returns localPath.
func (c *Client) DownloadFile(ctx context.Context, bucket, key, localPath string) (string, error) {
	ctx = logctx.With(ctx, "operation", "download_file", "bucket", bucket)

	if err := c.paths.EnsureParentDir(ctx, localPath); err != nil {
		return "", err
	}

	out, err := c.single(ctx, Request{Direction: Download, Bucket: bucket, Key: key, LocalPath: localPath})
	if err != nil {
		return "", err
	}

	return out.Request.LocalPath, nil
}

// UploadFile stores localPath under bucket/key and returns key.
func (c *Client) UploadFile(ctx context.Context, bucket, key, localPath string) (string, error) {
	ctx = logctx.With(ctx, "operation", "upload_file", "bucket", bucket)

	out, err := c.single(ctx, Request{Direction: Upload, Bucket: bucket, Key: key, LocalPath: localPath})
	if err != nil {
		return "", err
	}

	return out.Request.Key, nil
}

func (c *Client) single(ctx context.Context, req Request) (Outcome, error) {
	var out Outcome

	err := c.limiter.Do(ctx, func(ctx context.Context) error {
		out = c.exec.Execute(ctx, req)

		return out.Err
	})

	return out, err
}

// DownloadMultipleFiles downloads every key to baseDir/key. A baseDir that
// cannot be created aborts the call. Keys that cannot be placed below
// baseDir are recorded as failures.
func (c *Client) DownloadMultipleFiles(ctx context.Context, bucket string, keys []string, baseDir string, opts ...BatchOption) (*BatchResult, error) {
	ctx = logctx.With(ctx, "operation", "download_multiple_files", "bucket", bucket)

	if err := c.paths.EnsureDir(ctx, baseDir); err != nil {
		return nil, err
	}

	reqs := make([]Request, 0, len(keys))

	var rejected []Outcome

	for _, key := range keys {
		req := Request{Direction: Download, Bucket: bucket, Key: key}

		localPath, err := JoinKey(baseDir, key)
		if err != nil {
			logctx.LoggerFromContext(ctx).WarnContext(ctx, "rejecting key", "key", key, "err", err)

			rejected = append(rejected, Outcome{Request: req, Err: err})

			continue
		}

		req.LocalPath = localPath
		reqs = append(reqs, req)
	}

	if len(rejected) > 0 {
		opts = append(opts, withRejected(rejected))
	}

	return c.orch.RunBatch(ctx, reqs, opts...)
}

// DownloadMultipleFilesWithPaths downloads each pair to its explicit local path.
func (c *Client) DownloadMultipleFilesWithPaths(ctx context.Context, bucket string, pairs []DownloadPair, opts ...BatchOption) (*BatchResult, error) {
	ctx = logctx.With(ctx, "operation", "download_multiple_files_with_paths", "bucket", bucket)

	return c.orch.RunBatch(ctx, downloadRequests(bucket, pairs), opts...)
}

// UploadMultipleFiles uploads each local file to its key.
func (c *Client) UploadMultipleFiles(ctx context.Context, bucket string, pairs []UploadPair, opts ...BatchOption) (*BatchResult, error) {
	ctx = logctx.With(ctx, "operation", "upload_multiple_files", "bucket", bucket)

	return c.orch.RunBatch(ctx, uploadRequests(bucket, pairs), opts...)
}
