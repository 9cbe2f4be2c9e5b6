package transfer

import (
	"context"

	"github.com/italolelis/syncbox/internal/telemetry"
)

// InstrumentedExecutor wraps an Executor with telemetry.
type InstrumentedExecutor struct {
	executor     Executor
	telemetry    *telemetry.Telemetry
	executorType string
}

// NewInstrumentedExecutor creates a new instrumented executor.
func NewInstrumentedExecutor(executor Executor, tel *telemetry.Telemetry, executorType string) *InstrumentedExecutor {
	return &InstrumentedExecutor{
		executor:     executor,
		telemetry:    tel,
		executorType: executorType,
	}
}

// Download downloads a file with telemetry.
func (e *InstrumentedExecutor) Download(ctx context.Context, req Request, onProgress ProgressFunc) (File, error) {
	var result File

	err := e.telemetry.InstrumentClientOperation(ctx, e.executorType, "download", func(ctx context.Context) error {
		var err error

		result, err = e.executor.Download(ctx, req, onProgress)

		return err
	})

	return result, err
}

// Upload uploads a file with telemetry.
func (e *InstrumentedExecutor) Upload(ctx context.Context, req Request, onProgress ProgressFunc) (File, error) {
	var result File

	err := e.telemetry.InstrumentClientOperation(ctx, e.executorType, "upload", func(ctx context.Context) error {
		var err error

		result, err = e.executor.Upload(ctx, req, onProgress)

		return err
	})

	return result, err
}
