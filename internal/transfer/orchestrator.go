package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/s3_batcher/internal/logctx"
	"github.com/italolelis/s3_batcher/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Observer is called once per outcome, in completion order, from a single goroutine.
type Observer func(Outcome)

type batchOptions struct {
	observers []Observer
	rejected  []Outcome
}

// BatchOption customises a single RunBatch call.
type BatchOption func(*batchOptions)

// WithObserver registers fn to see every outcome of the batch as it completes.
func WithObserver(fn Observer) BatchOption {
	return func(o *batchOptions) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// withRejected folds outcomes that failed validation before execution into the batch.
func withRejected(outcomes []Outcome) BatchOption {
	return func(o *batchOptions) {
		o.rejected = append(o.rejected, outcomes...)
	}
}

// Orchestrator fans a batch out across the limiter and folds the outcomes
// into one BatchResult.
type Orchestrator struct {
	exec      *Executor
	limiter   *Limiter
	paths     PathResolver
	telemetry *telemetry.Telemetry
}

func NewOrchestrator(exec *Executor, limiter *Limiter, tel *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		exec:      exec,
		limiter:   limiter,
		telemetry: tel,
	}
}

// RunBatch executes every request and returns once all of them have an outcome.
// Individual failures are recorded in the result. The only error returned is
// a *DirectoryError from creating download destinations, in which case no
// transfer was started and the result is nil.
func (o *Orchestrator) RunBatch(ctx context.Context, reqs []Request, opts ...BatchOption) (*BatchResult, error) {
	var bo batchOptions
	for _, opt := range opts {
		opt(&bo)
	}

	batchID := uuid.NewString()
	direction := batchDirection(reqs, bo.rejected)

	ctx = logctx.WithBatchID(ctx, batchID)
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "starting batch",
		"direction", direction,
		"items", len(reqs)+len(bo.rejected),
		"max_concurrency", o.limiter.Capacity())

	if err := o.paths.EnsureParentDirs(ctx, reqs); err != nil {
		logger.ErrorContext(ctx, "aborting batch before any transfer", "err", err)

		return nil, err
	}

	start := time.Now()
	result := NewBatchResult(nil, nil)
	result.ID = batchID

	_ = o.telemetry.InstrumentBatch(ctx, direction, func(ctx context.Context) error {
		o.run(ctx, reqs, &bo, result)

		return nil
	})

	duration := time.Since(start)
	o.telemetry.RecordBatch(ctx, direction, len(result.Successful), len(result.Failed), duration)

	logger.InfoContext(ctx, "batch finished",
		"successful", len(result.Successful),
		"failed", len(result.Failed),
		"success_rate", result.RoundedSuccessRate(),
		"duration", duration.String())

	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, reqs []Request, bo *batchOptions, result *BatchResult) {
	outcomes := make(chan Outcome)
	done := make(chan struct{})

	// single consumer, so the result lists need no lock
	go func() {
		defer close(done)

		for out := range outcomes {
			result.add(out)

			for _, observe := range bo.observers {
				observe(out)
			}
		}
	}()

	for _, out := range bo.rejected {
		outcomes <- out
	}

	var wg errgroup.Group

	for i, req := range reqs {
		if err := o.limiter.Acquire(ctx); err != nil {
			// ctx is done: account for everything not yet started
			for _, rest := range reqs[i:] {
				outcomes <- Outcome{Request: rest, Err: fmt.Errorf("transfer not started: %w", err)}
			}

			break
		}

		wg.Go(func() error {
			defer o.limiter.Release()

			outcomes <- o.exec.Execute(ctx, req)

			return nil
		})
	}

	_ = wg.Wait()

	close(outcomes)
	<-done
}

func batchDirection(reqs []Request, rejected []Outcome) string {
	all := make([]Direction, 0, len(reqs)+len(rejected))
	for _, r := range reqs {
		all = append(all, r.Direction)
	}

	for _, out := range rejected {
		all = append(all, out.Request.Direction)
	}

	if len(all) == 0 {
		return "empty"
	}

	for _, d := range all[1:] {
		if d != all[0] {
			return "mixed"
		}
	}

	return string(all[0])
}
