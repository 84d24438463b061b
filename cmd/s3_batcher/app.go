package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/italolelis/s3_batcher/internal/config"
	"github.com/italolelis/s3_batcher/internal/history"
	"github.com/italolelis/s3_batcher/internal/logctx"
	"github.com/italolelis/s3_batcher/internal/notifier"
	"github.com/italolelis/s3_batcher/internal/s3store"
	"github.com/italolelis/s3_batcher/internal/storage/sqlite"
	"github.com/italolelis/s3_batcher/internal/telemetry"
	"github.com/italolelis/s3_batcher/internal/transfer"
	"github.com/spf13/cobra"
)

// app holds what every command needs once flags and environment are resolved.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	client *transfer.Client

	db   *sql.DB
	repo *sqlite.InstrumentedBatchRepository
}

type globalFlags struct {
	envFile     string
	region      string
	concurrency int
	quiet       bool
}

func (a *app) setup(cmd *cobra.Command, flags *globalFlags) error {
	var envFiles []string
	if flags.envFile != "" {
		envFiles = append(envFiles, flags.envFile)
	}

	cfg, err := config.LoadConfig(envFiles...)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("region") {
		cfg.Region = flags.region
	}

	if cmd.Flags().Changed("concurrency") {
		cfg.MaxConcurrency = flags.concurrency
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx := logctx.WithLogger(cmd.Context(), logger)
	cmd.SetContext(ctx)

	tel, err := telemetry.New(ctx, cfg.TelemetryConfig(version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.tel = tel

	store, err := s3store.New(ctx, cfg.S3Options())
	if err != nil {
		return fmt.Errorf("failed to build s3 client: %w", err)
	}

	client, err := transfer.NewClient(cfg.EngineConfig(),
		transfer.NewInstrumentedStore(store, tel, "s3"),
		transfer.WithTelemetry(tel),
	)
	if err != nil {
		return err
	}

	a.client = client

	logger.DebugContext(ctx, "engine ready",
		"region", cfg.Region,
		"max_concurrency", client.Config().MaxConcurrency,
		"endpoint", cfg.S3Endpoint)

	return nil
}

// history opens the batch history database on first use.
func (a *app) history() (*sqlite.InstrumentedBatchRepository, error) {
	if a.repo != nil {
		return a.repo, nil
	}

	db, err := sqlite.InitDB(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch history: %w", err)
	}

	a.db = db
	a.repo = sqlite.NewInstrumentedBatchRepository(db, a.tel)

	return a.repo, nil
}

func (a *app) notifier() notifier.Notifier {
	if a.cfg.DiscordWebhookURL == "" {
		return nil
	}

	return notifier.NewDiscordNotifier(a.cfg.DiscordWebhookURL)
}

// recorder falls back to notification only when the history database cannot be opened.
func (a *app) recorder(ctx context.Context) *history.Recorder {
	repo, err := a.history()
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "batch history disabled", "err", err)

		return history.NewRecorder(nil, a.notifier(), a.tel)
	}

	return history.NewRecorder(repo, a.notifier(), a.tel)
}

func (a *app) close(ctx context.Context) error {
	var errs []error

	if a.db != nil {
		errs = append(errs, a.db.Close())
	}

	errs = append(errs, a.tel.Shutdown(ctx))

	return errors.Join(errs...)
}
