package transfer

import (
	"context"
	"time"
)

// ProgressFunc receives a completion percentage between 0 and 100.
type ProgressFunc func(percent int)

// Result is what a finished task reports back to the registry.
type Result struct {
	File    File
	Success bool
}

// Task performs one transfer. Cancellation is signalled through ctx and is
// honoured at the task's next checkpoint.
type Task func(ctx context.Context, onProgress ProgressFunc) Result

// TaskFactory turns a request into a task.
type TaskFactory interface {
	NewTask(req Request) Task
}

// SimulatedTask reports progress from 0 to 100 with a fixed delay between steps
// and succeeds unless ctx is cancelled first. It never touches the network.
func SimulatedTask(req Request, step time.Duration) Task {
	return func(ctx context.Context, onProgress ProgressFunc) Result {
		for p := 0; p <= 100; p++ {
			if ctx.Err() != nil {
				return Result{File: req.File}
			}

			onProgress(p)

			if p == 100 || step <= 0 {
				continue
			}

			select {
			case <-ctx.Done():
				return Result{File: req.File}
			case <-time.After(step):
			}
		}

		return Result{File: req.File, Success: true}
	}
}
