package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/s3_batcher/internal/logctx"
	"github.com/italolelis/s3_batcher/internal/manifest"
	"github.com/italolelis/s3_batcher/internal/transfer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newDownloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download BUCKET KEY PATH",
		Short: "Download one object to a local path",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.client.DownloadFile(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), path)

			return nil
		},
	}
}

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload BUCKET KEY PATH",
		Short: "Upload one local file to an object key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.client.UploadFile(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), key)

			return nil
		},
	}
}

func newDownloadManyCmd(a *app, flags *globalFlags) *cobra.Command {
	var baseDir, manifestPath string

	cmd := &cobra.Command{
		Use:   "download-many [BUCKET KEY...]",
		Short: "Download several objects below a base directory, keeping their key layout",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := resolveDownloadMany(args, manifestPath, baseDir)
			if err != nil {
				return err
			}

			return runBatch(cmd, a, flags, "download_multiple_files", in.bucket, len(in.keys),
				func(ctx context.Context, opts ...transfer.BatchOption) (*transfer.BatchResult, error) {
					return a.client.DownloadMultipleFiles(ctx, in.bucket, in.keys, in.baseDir, opts...)
				})
		},
	}

	cmd.Flags().StringVar(&baseDir, "base-dir", "", "directory the keys are written below (overrides the manifest's base_directory)")
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "YAML or JSON manifest with a keys list")

	return cmd
}

type downloadManyInput struct {
	bucket  string
	keys    []string
	baseDir string
}

// resolveDownloadMany takes the batch from a manifest when one is given and
// from BUCKET KEY... otherwise. The two sources never mix.
func resolveDownloadMany(args []string, manifestPath, baseDir string) (downloadManyInput, error) {
	if manifestPath == "" {
		if len(args) < 2 {
			return downloadManyInput{}, errors.New("requires BUCKET and at least one KEY, or --manifest")
		}

		if baseDir == "" {
			return downloadManyInput{}, errors.New("required flag \"base-dir\" not set")
		}

		return downloadManyInput{bucket: args[0], keys: args[1:], baseDir: baseDir}, nil
	}

	if len(args) > 0 {
		return downloadManyInput{}, errors.New("positional arguments cannot be combined with --manifest")
	}

	m, err := loadManifest(manifestPath, "keys", func(m *manifest.Manifest) int { return len(m.Keys) })
	if err != nil {
		return downloadManyInput{}, err
	}

	if baseDir == "" {
		baseDir = m.BaseDirectory
	}

	return downloadManyInput{bucket: m.Bucket, keys: m.Keys, baseDir: baseDir}, nil
}

// loadManifest rejects a manifest whose list for this command is empty, even
// when it lists transfers for another command.
func loadManifest(path, list string, count func(*manifest.Manifest) int) (*manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}

	if count(m) == 0 {
		return nil, fmt.Errorf("manifest %s has no %s: %w", path, list, manifest.ErrEmpty)
	}

	return m, nil
}

func newDownloadPathsCmd(a *app, flags *globalFlags) *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "download-paths",
		Short: "Download the objects listed in a manifest to explicit local paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := loadManifest(manifestPath, "downloads", func(m *manifest.Manifest) int { return len(m.Downloads) })
			if err != nil {
				return err
			}

			return runBatch(cmd, a, flags, "download_multiple_files_with_paths", m.Bucket, len(m.Downloads),
				func(ctx context.Context, opts ...transfer.BatchOption) (*transfer.BatchResult, error) {
					return a.client.DownloadMultipleFilesWithPaths(ctx, m.Bucket, m.Downloads, opts...)
				})
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "YAML or JSON manifest with a downloads list")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func newUploadManyCmd(a *app, flags *globalFlags) *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "upload-many",
		Short: "Upload the files listed in a manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := loadManifest(manifestPath, "uploads", func(m *manifest.Manifest) int { return len(m.Uploads) })
			if err != nil {
				return err
			}

			return runBatch(cmd, a, flags, "upload_multiple_files", m.Bucket, len(m.Uploads),
				func(ctx context.Context, opts ...transfer.BatchOption) (*transfer.BatchResult, error) {
					return a.client.UploadMultipleFiles(ctx, m.Bucket, m.Uploads, opts...)
				})
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "YAML or JSON manifest with an uploads list")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

type batchFunc func(ctx context.Context, opts ...transfer.BatchOption) (*transfer.BatchResult, error)

type recordFunc func(ctx context.Context, result *transfer.BatchResult, startedAt time.Time)

func runBatch(cmd *cobra.Command, a *app, flags *globalFlags, operation, bucket string, total int, run batchFunc) error {
	return runBatchWith(cmd, flags, operation, total, run, func(ctx context.Context, result *transfer.BatchResult, startedAt time.Time) {
		a.recorder(ctx).Record(ctx, operation, bucket, result, startedAt)
	})
}

// runBatchWith draws a progress bar while the batch runs, records it and
// prints a summary. A batch with failed items yields errPartialBatch.
func runBatchWith(cmd *cobra.Command, flags *globalFlags, operation string, total int, run batchFunc, record recordFunc) error {
	ctx := cmd.Context()
	logger := logctx.LoggerFromContext(ctx)

	bar := newProgressBar(cmd.ErrOrStderr(), total, operation, flags.quiet)

	var transferred int64

	observe := transfer.WithObserver(func(o transfer.Outcome) {
		transferred += o.Bytes
		_ = bar.Add(1)

		if !o.Succeeded() {
			logger.DebugContext(ctx, "item failed", "item", o.Identifier(), "err", o.Err)
		}
	})

	startedAt := time.Now()

	result, err := run(ctx, observe)
	if err != nil {
		_ = bar.Exit()

		return err
	}

	_ = bar.Finish()

	if record != nil {
		record(ctx, result, startedAt)
	}

	printSummary(cmd.OutOrStdout(), result, transferred, time.Since(startedAt))

	if result.HasFailures() {
		return errPartialBatch
	}

	return nil
}

func newProgressBar(w io.Writer, total int, description string, quiet bool) *progressbar.ProgressBar {
	if quiet {
		w = io.Discard
	}

	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}

func printSummary(w io.Writer, result *transfer.BatchResult, bytes int64, elapsed time.Duration) {
	fmt.Fprintf(w, "batch %s: %s, %.2f%% success, %s in %s\n",
		result.ID, result.String(), result.RoundedSuccessRate()*100,
		humanize.Bytes(uint64(max(bytes, 0))), elapsed.Round(time.Millisecond))

	for i, id := range result.Failed {
		cause := ""
		if i < len(result.Causes) {
			cause = result.Causes[i]
		}

		fmt.Fprintf(w, "  failed %s: %s\n", id, cause)
	}
}
