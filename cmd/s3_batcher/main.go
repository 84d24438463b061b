package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/s3_batcher/internal/transfer"
)

var version = "dev"

const (
	exitFatal   = 1
	exitPartial = 2
)

// errPartialBatch is returned by batch commands whose batch ran but has failed items.
var errPartialBatch = errors.New("batch completed with failures")

func main() {
	os.Exit(execute())
}

func execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	defer func() {
		if err := a.close(context.Background()); err != nil {
			slog.Error("failed to release resources", "err", err)
		}
	}()

	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		if errors.Is(err, errPartialBatch) {
			return exitPartial
		}

		slog.Error("fatal error", "err", err, "fatal", transfer.IsFatal(err))

		return exitFatal
	}

	return 0
}
