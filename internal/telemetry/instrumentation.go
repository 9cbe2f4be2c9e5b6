package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes must stay low cardinality: directions, executor
// types, operation names and outcomes. Owners, paths and transfer ids belong
// in logs only.

const (
	outcomeSuccess   = "success"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// outcome classifies err for the status label. A cancelled transfer is not an error.
func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, context.Canceled):
		return outcomeCancelled
	default:
		return outcomeError
	}
}

// traced runs fn inside a span named name and reports how long it took.
func (t *Telemetry) traced(ctx context.Context, name string, fn InstrumentedFunc, attrs ...attribute.KeyValue) (time.Duration, error) {
	start := time.Now()

	ctx, span := t.Tracer().Start(ctx, name)
	defer span.End()

	span.SetAttributes(attrs...)

	err := fn(ctx)

	status := outcome(err)
	span.SetAttributes(attribute.String("status", status))

	if status == outcomeError {
		span.SetStatus(codes.Error, err.Error())
	}

	return time.Since(start), err
}

// InstrumentDBOperation traces a record store call and records its duration.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	took, err := t.traced(ctx, "db_"+operation, fn,
		attribute.String("component", "database"),
		attribute.String("db.operation", operation),
	)

	t.RecordDBOperation(operation, outcome(err), took)

	return err
}

// InstrumentClientOperation traces one executor call against the remote.
func (t *Telemetry) InstrumentClientOperation(ctx context.Context, executor, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	_, err := t.traced(ctx, "executor_"+operation, fn,
		attribute.String("component", "executor"),
		attribute.String("executor.type", executor),
		attribute.String("executor.operation", operation),
	)

	t.RecordExecutorOperation(executor, operation, outcome(err))

	return err
}

// InstrumentTransfer tracks one transfer run from start to terminal state.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, direction string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	t.IncrementActiveTransfers()
	defer t.DecrementActiveTransfers()

	took, err := t.traced(ctx, "transfer_"+direction, fn,
		attribute.String("component", "transfer"),
		attribute.String("transfer.direction", direction),
	)

	t.RecordTransfer(direction, outcome(err), took)

	return err
}
