package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/s3_batcher/internal/cleanup"
	"github.com/italolelis/s3_batcher/internal/http/rest"
	"github.com/italolelis/s3_batcher/internal/logctx"
	"github.com/italolelis/s3_batcher/internal/storage"
	"github.com/italolelis/s3_batcher/internal/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the transfer API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	logger := logctx.LoggerFromContext(ctx)
	cfg := a.cfg

	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	// =========================================================================
	// Start Database
	repo, err := a.history()
	if err != nil {
		return err
	}

	// =========================================================================
	// Start API Service
	handler := rest.NewBatchHandler(a.client, repo, a.notifier(), cfg.Web.RootDir, cfg.Web.Username, cfg.Web.Password, a.tel)

	server := setupServer(ctx, a, handler)

	// Buffered so the goroutine can exit if nobody collects the error.
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress, "root_dir", cfg.Web.RootDir)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("s3 batcher serving",
		"region", cfg.Region,
		"max_concurrency", a.client.Config().MaxConcurrency,
		"retention", cfg.KeepHistoryFor.String(),
		"version", version,
	)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, repo, cfg.KeepHistoryFor, cfg.CleanupInterval)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// setupServer mounts the API under /v1 next to /metrics.
func setupServer(ctx context.Context, a *app, handler *rest.BatchHandler) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(a.tel).Middleware)

	r.Handle("/metrics", a.tel.Handler())
	r.Mount("/v1", handler.Routes())

	cfg := a.cfg

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "s3_batcher"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, repo storage.BatchWriteRepository, keepFor, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			// failures are logged by PruneHistory and retried on the next tick
			_, _ = cleanup.PruneHistory(ctx, repo, keepFor, time.Now())

			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down")

				return
			case <-ticker.C:
			}
		}
	}()
}
