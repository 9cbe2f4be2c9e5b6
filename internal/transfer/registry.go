package transfer

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// StartFunc launches the work for a transfer that was just promoted to running.
type StartFunc func(id uuid.UUID, req Request)

// ChangeFunc receives every new record produced by the registry.
type ChangeFunc func(t Transfer)

// Registry owns the pending, running and completed queues.
//
// Registry is not safe for concurrent use. Every call must come from the same
// serialised context; Manager provides one.
type Registry struct {
	maxConcurrency int
	completedLimit int
	onStart        StartFunc
	onChanged      ChangeFunc

	pending   []Transfer
	running   []Transfer
	completed []Transfer
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithCompletedLimit caps the completed queue, dropping the oldest records first.
// A limit of zero keeps every completed record.
func WithCompletedLimit(n int) RegistryOption {
	return func(r *Registry) {
		r.completedLimit = max(0, n)
	}
}

// NewRegistry creates a registry running at most maxConcurrency transfers at once.
func NewRegistry(maxConcurrency int, onStart StartFunc, onChanged ChangeFunc, opts ...RegistryOption) *Registry {
	r := &Registry{
		maxConcurrency: max(1, maxConcurrency),
		onStart:        onStart,
		onChanged:      onChanged,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Add queues a pending record for req and returns its id. It does not start anything.
func (r *Registry) Add(req Request) uuid.UUID {
	if _, ok := r.Transfer(req.ID); ok {
		return req.ID
	}

	r.pending = append(r.pending, newTransfer(req))

	return req.ID
}

// StartNext promotes pending records while there is free capacity.
func (r *Registry) StartNext() {
	free := max(0, r.maxConcurrency-len(r.running))
	n := min(free, len(r.pending))

	for range n {
		if len(r.pending) == 0 {
			panic(fmt.Errorf("%w: pending queue drained while promoting", ErrInvalidState))
		}

		next := r.pending[0]
		r.pending = slices.Delete(r.pending, 0, 1)

		started := next.transition(StateRunning)
		r.running = append(r.running, started)

		r.onStart(started.ID, started.Request)
		r.onChanged(started)
	}
}

// Progress records the progress of a running transfer. Unknown or finished ids are ignored.
func (r *Registry) Progress(id uuid.UUID, value int) {
	i := indexOf(r.running, id)
	if i < 0 {
		return
	}

	updated := r.running[i].withProgress(value)
	r.running[i] = updated

	r.onChanged(updated)
}

// Complete finishes a running transfer. A nil file keeps the last known snapshot.
// Completing an id that is not running is a no-op.
func (r *Registry) Complete(id uuid.UUID, success bool, file *File) {
	i := indexOf(r.running, id)
	if i < 0 {
		return
	}

	done := r.running[i]
	r.running = slices.Delete(r.running, i, i+1)

	next := StateFailed
	if success {
		next = StateCompleted
	}

	done = done.transition(next)
	if file != nil {
		done = done.withFile(*file)
	}

	r.completed = append(r.completed, done)
	if r.completedLimit > 0 && len(r.completed) > r.completedLimit {
		r.completed = slices.Delete(r.completed, 0, len(r.completed)-r.completedLimit)
	}

	r.onChanged(done)
}

// Transfer finds a record by id, searching pending, running and completed in that order.
func (r *Registry) Transfer(id uuid.UUID) (Transfer, bool) {
	return r.find(func(t Transfer) bool { return t.ID == id })
}

// TransferByFile finds the first record whose target has the same remote path.
func (r *Registry) TransferByFile(f File) (Transfer, bool) {
	return r.find(func(t Transfer) bool { return t.Request.File.RemotePath == f.RemotePath })
}

func (r *Registry) find(match func(Transfer) bool) (Transfer, bool) {
	for _, q := range [][]Transfer{r.pending, r.running, r.completed} {
		if i := slices.IndexFunc(q, match); i >= 0 {
			return q[i], true
		}
	}

	return Transfer{}, false
}

// Pending returns a copy of the pending queue.
func (r *Registry) Pending() []Transfer { return slices.Clone(r.pending) }

// Running returns a copy of the running queue.
func (r *Registry) Running() []Transfer { return slices.Clone(r.running) }

// Completed returns a copy of the completed queue.
func (r *Registry) Completed() []Transfer { return slices.Clone(r.completed) }

// IsRunning reports whether any work is pending or running.
func (r *Registry) IsRunning() bool {
	return len(r.pending) > 0 || len(r.running) > 0
}

// Status returns copies of all three queues.
func (r *Registry) Status() Status {
	return Status{
		Pending:   r.Pending(),
		Running:   r.Running(),
		Completed: r.Completed(),
	}
}

func indexOf(q []Transfer, id uuid.UUID) int {
	return slices.IndexFunc(q, func(t Transfer) bool { return t.ID == id })
}
