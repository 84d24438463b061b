package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes here feed metrics, so they stay bounded: direction,
// operation, status and component only. Keys, buckets, paths and batch ids
// belong in logs, which carry trace_id for correlation.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	return t.instrument(ctx, operationName, component, fn)
}

func (t *Telemetry) instrument(ctx context.Context, operationName, component string, fn InstrumentedFunc, attrs ...attribute.KeyValue) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)
	span.SetAttributes(attrs...)

	err := fn(ctx)
	duration := time.Since(start)

	status := statusOf(err)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentClientOperation instruments object store calls.
func (t *Telemetry) InstrumentClientOperation(ctx context.Context, client, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.instrument(ctx, "client_"+operation, "object_store", fn,
		attribute.String("client.type", client),
		attribute.String("client.operation", operation),
	)

	t.RecordClientOperation(ctx, client, operation, statusOf(err))

	return err
}

// InstrumentTransfer instruments a single download or upload.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, direction string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.AddActiveTransfers(ctx, direction, 1)
	defer t.AddActiveTransfers(ctx, direction, -1)

	err := t.InstrumentOperation(ctx, "transfer_"+direction, "transfer", fn)

	t.RecordTransfer(ctx, direction, statusOf(err), time.Since(start))

	return err
}

// InstrumentBatch wraps a whole batch in a parent span so transfer spans nest under it.
func (t *Telemetry) InstrumentBatch(ctx context.Context, direction string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	return t.InstrumentOperation(ctx, "batch_"+direction, "orchestrator", fn)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
