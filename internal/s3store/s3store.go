// Package s3store adapts the AWS S3 API to transfer.ObjectStore.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"
	"github.com/italolelis/s3_batcher/internal/transfer"
)

const defaultMaxRetries = 3

var regionPattern = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-\d+$`)

// API is the subset of the S3 client used by Store.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures New.
type Options struct {
	Region string
	// Endpoint overrides the S3 endpoint, e.g. for LocalStack or MinIO.
	// Region format is not enforced when it is set.
	Endpoint       string
	ForcePathStyle bool
	MaxRetries     int
	// Credentials replaces the default credential chain when set.
	Credentials aws.CredentialsProvider
}

// Validate checks the region against the AWS naming scheme.
func (o Options) Validate() error {
	if o.Region == "" {
		return &transfer.ConfigError{Field: "region", Reason: "must not be empty"}
	}

	if o.Endpoint == "" && !regionPattern.MatchString(o.Region) {
		return &transfer.ConfigError{Field: "region", Reason: fmt.Sprintf("%q is not a valid AWS region", o.Region)}
	}

	if o.MaxRetries < 0 {
		return &transfer.ConfigError{Field: "max_retries", Reason: "must not be negative"}
	}

	return nil
}

// Store implements transfer.ObjectStore on top of S3.
type Store struct {
	api API
}

// New loads the default AWS configuration chain and builds an S3 client.
func New(ctx context.Context, opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}

	if opts.Credentials != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(opts.Credentials))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	cfg.RetryMaxAttempts = maxRetries

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle

		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	return NewWithAPI(client), nil
}

// NewWithAPI wraps an existing client. Used with mocks in tests.
func NewWithAPI(api API) *Store {
	return &Store{api: api}
}

func (s *Store) GetObject(ctx context.Context, bucket, key string) (*transfer.Object, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storageError("get_object", bucket, key, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}

	return &transfer.Object{Body: out.Body, Size: size}, nil
}

// PutObject uploads body, detecting its content type from the first bytes.
func (s *Store) PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64) error {
	contentType := "application/octet-stream"

	mt, err := mimetype.DetectReader(body)
	if err == nil {
		contentType = mt.String()
	}

	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return storageError("put_object", bucket, key, fmt.Errorf("rewind body: %w", err))
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.api.PutObject(ctx, input); err != nil {
		return storageError("put_object", bucket, key, err)
	}

	return nil
}

func storageError(op, bucket, key string, err error) error {
	if kind := classify(err); kind != nil {
		err = fmt.Errorf("%w: %w", kind, err)
	}

	return &transfer.StorageError{Operation: op, Bucket: bucket, Key: key, Err: err}
}

// classify maps S3 error codes onto the engine's sentinel errors.
func classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}

	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return transfer.ErrObjectNotFound
	case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled":
		return transfer.ErrAccessDenied
	default:
		return nil
	}
}
