package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxConcurrency = 2
	defaultSimulatedStep  = 50 * time.Millisecond
)

var errTransferFailed = errors.New("transfer failed")

// Manager schedules the transfers of one owner.
//
// All registry access happens on a single loop goroutine. Public methods post
// closures to that loop and never block on a transfer. Listeners are invoked
// from a separate notifier goroutine in the order changes happened, so they
// may call back into the manager.
type Manager struct {
	owner          string
	tasks          TaskFactory
	maxConcurrency int
	completedLimit int
	simulatedStep  time.Duration
	telemetry      *telemetry.Telemetry

	inbox  *mailbox
	outbox *mailbox

	listenersMu       sync.RWMutex
	transferListeners map[TransferListener]struct{}
	statusListeners   map[StatusListener]struct{}

	startOnce sync.Once
	started   chan struct{}
	done      chan struct{}
	workers   errgroup.Group

	// owned by the loop goroutine
	ctx       context.Context
	logger    *slog.Logger
	registry  *Registry
	cancels   map[uuid.UUID]context.CancelFunc
	cancelled map[uuid.UUID]struct{}
}

// Option customises a Manager.
type Option func(*Manager)

// WithMaxConcurrency bounds the number of running transfers.
func WithMaxConcurrency(n int) Option {
	return func(m *Manager) {
		m.maxConcurrency = n
	}
}

// WithRetainedCompleted caps how many finished transfers are remembered.
func WithRetainedCompleted(n int) Option {
	return func(m *Manager) {
		m.completedLimit = n
	}
}

// WithSimulatedStep sets the delay between progress steps of simulated transfers.
func WithSimulatedStep(d time.Duration) Option {
	return func(m *Manager) {
		m.simulatedStep = d
	}
}

// WithTelemetry records transfer metrics and spans.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(m *Manager) {
		m.telemetry = t
	}
}

// NewManager creates a manager for owner. Call Start to begin processing.
func NewManager(owner string, tasks TaskFactory, opts ...Option) *Manager {
	m := &Manager{
		owner:             owner,
		tasks:             tasks,
		maxConcurrency:    defaultMaxConcurrency,
		simulatedStep:     defaultSimulatedStep,
		inbox:             newMailbox(),
		outbox:            newMailbox(),
		transferListeners: make(map[TransferListener]struct{}),
		statusListeners:   make(map[StatusListener]struct{}),
		started:           make(chan struct{}),
		done:              make(chan struct{}),
		cancels:           make(map[uuid.UUID]context.CancelFunc),
		cancelled:         make(map[uuid.UUID]struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.registry = NewRegistry(m.maxConcurrency, m.startTransfer, m.transferChanged, WithCompletedLimit(m.completedLimit))

	return m
}

// Owner is the user this manager works for.
func (m *Manager) Owner() string {
	return m.owner
}

// Start runs the manager until ctx is cancelled. Cancelling ctx also cancels running tasks.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.ctx = ctx
		m.logger = logctx.LoggerFromContext(ctx).With("owner", m.owner)

		go m.loop(ctx)
		go m.notify(ctx)

		close(m.started)
	})
}

// Wait blocks until the manager stopped and every task returned.
func (m *Manager) Wait() error {
	select {
	case <-m.started:
	default:
		return nil
	}

	<-m.done

	return m.workers.Wait()
}

// Done is closed once the manager loop stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)

	m.logger.DebugContext(ctx, "transfer manager started", "max_concurrency", m.maxConcurrency)

	for {
		select {
		case <-ctx.Done():
			m.abandonPending()
			m.logger.InfoContext(ctx, "transfer manager shutdown", "reason", "context_cancelled")

			return
		case <-m.inbox.signal:
			for _, fn := range m.inbox.drain() {
				fn()
			}
		}
	}
}

// abandonPending runs on the loop as it stops. Pending transfers will never start.
func (m *Manager) abandonPending() {
	m.telemetry.DropPendingTransfers(len(m.registry.Pending()))
	clear(m.cancelled)
}

func (m *Manager) notify(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.outbox.signal:
			for _, fn := range m.outbox.drain() {
				fn()
			}
		}
	}
}

func (m *Manager) closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (m *Manager) call(ctx context.Context, fn func()) error {
	if m.closed() {
		return ErrManagerClosed
	}

	finished := make(chan struct{})

	m.inbox.post(func() {
		fn()
		close(finished)
	})

	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue schedules req. It returns as soon as the request is handed to the loop.
func (m *Manager) Enqueue(req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	if req.Owner != m.owner {
		return &ValidationError{Field: "owner", Reason: fmt.Sprintf("request for %s sent to manager of %s", req.Owner, m.owner)}
	}

	if m.closed() {
		return ErrManagerClosed
	}

	m.inbox.post(func() {
		if _, known := m.registry.Transfer(req.ID); known {
			m.logger.Debug("ignoring duplicate request", "transfer_id", req.ID)

			return
		}

		m.registry.Add(req)
		m.telemetry.IncrementPendingTransfers()
		m.transferChanged(newTransfer(req))

		m.registry.StartNext()
	})

	return nil
}

// Transfer returns the current record for id.
func (m *Manager) Transfer(ctx context.Context, id uuid.UUID) (Transfer, bool, error) {
	var (
		t  Transfer
		ok bool
	)

	err := m.call(ctx, func() { t, ok = m.registry.Transfer(id) })

	return t, ok, err
}

// TransferByFile returns the first record targeting the same remote path as f.
func (m *Manager) TransferByFile(ctx context.Context, f File) (Transfer, bool, error) {
	var (
		t  Transfer
		ok bool
	)

	err := m.call(ctx, func() { t, ok = m.registry.TransferByFile(f) })

	return t, ok, err
}

// Status returns a fresh snapshot of all queues.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	var s Status

	err := m.call(ctx, func() { s = m.registry.Status() })

	return s, err
}

// IsRunning reports whether any transfer is pending or running.
func (m *Manager) IsRunning(ctx context.Context) (bool, error) {
	var running bool

	err := m.call(ctx, func() { running = m.registry.IsRunning() })

	return running, err
}

// Cancel asks a pending or running transfer to stop. The transfer fails at its
// next checkpoint. It reports whether the transfer was still cancellable.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	var found bool

	err := m.call(ctx, func() {
		if cancel, ok := m.cancels[id]; ok {
			cancel()

			found = true

			return
		}

		if t, ok := m.registry.Transfer(id); ok && t.State == StatePending {
			m.cancelled[id] = struct{}{}

			found = true
		}
	})

	return found, err
}

// RegisterTransferListener adds l. Adding the same listener twice has no effect.
func (m *Manager) RegisterTransferListener(l TransferListener) {
	MustBeComparable(l)

	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.transferListeners[l] = struct{}{}
}

// RemoveTransferListener removes l if registered.
func (m *Manager) RemoveTransferListener(l TransferListener) {
	if !IsComparable(l) {
		return
	}

	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	delete(m.transferListeners, l)
}

// RegisterStatusListener adds l. Adding the same listener twice has no effect.
func (m *Manager) RegisterStatusListener(l StatusListener) {
	MustBeComparable(l)

	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.statusListeners[l] = struct{}{}
}

// RemoveStatusListener removes l if registered.
func (m *Manager) RemoveStatusListener(l StatusListener) {
	if !IsComparable(l) {
		return
	}

	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	delete(m.statusListeners, l)
}

func (m *Manager) hasStatusListeners() bool {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()

	return len(m.statusListeners) > 0
}

// transferChanged runs on the loop. The status snapshot is only built when someone listens.
func (m *Manager) transferChanged(t Transfer) {
	var status *Status

	if m.hasStatusListeners() {
		s := m.registry.Status()
		status = &s
	}

	m.outbox.post(func() { m.deliver(t, status) })
}

func (m *Manager) deliver(t Transfer, status *Status) {
	m.listenersMu.RLock()

	transferListeners := make([]TransferListener, 0, len(m.transferListeners))
	for l := range m.transferListeners {
		transferListeners = append(transferListeners, l)
	}

	statusListeners := make([]StatusListener, 0, len(m.statusListeners))
	for l := range m.statusListeners {
		statusListeners = append(statusListeners, l)
	}

	m.listenersMu.RUnlock()

	for _, l := range transferListeners {
		l.TransferChanged(t)
	}

	if status == nil {
		return
	}

	for _, l := range statusListeners {
		l.StatusChanged(*status)
	}
}

func (m *Manager) taskFor(req Request) Task {
	if req.Simulated {
		return SimulatedTask(req, m.simulatedStep)
	}

	return m.tasks.NewTask(req)
}

// startTransfer runs on the loop when the registry promotes id.
func (m *Manager) startTransfer(id uuid.UUID, req Request) {
	task := m.taskFor(req)

	ctx, cancel := context.WithCancel(m.ctx)
	if _, ok := m.cancelled[id]; ok {
		delete(m.cancelled, id)
		cancel()
	}

	m.cancels[id] = cancel
	m.telemetry.DecrementPendingTransfers()

	m.logger.InfoContext(ctx, "transfer started",
		"transfer_id", id,
		"direction", req.Direction,
		"remote_path", req.File.RemotePath,
		"simulated", req.Simulated,
	)

	m.workers.Go(func() error {
		m.execute(ctx, id, req, task)

		return nil
	})
}

// execute runs on a worker goroutine and reports back through the inbox.
func (m *Manager) execute(ctx context.Context, id uuid.UUID, req Request, task Task) {
	logger := logctx.LoggerFromContext(ctx).With("owner", m.owner, "transfer_id", id)

	onProgress := func(p int) {
		m.inbox.post(func() { m.registry.Progress(id, p) })
	}

	var result Result

	err := m.telemetry.InstrumentTransfer(ctx, string(req.Direction), func(ctx context.Context) error {
		var err error

		result, err = runTask(ctx, task, onProgress)
		if err != nil {
			return err
		}

		if !result.Success {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return errTransferFailed
		}

		return nil
	})

	var panicErr *taskPanic
	if errors.As(err, &panicErr) {
		logger.ErrorContext(ctx, "transfer task panicked",
			"panic", panicErr.value,
			"stack", string(panicErr.stack))

		m.inbox.post(func() { m.finish(id, false, nil) })

		return
	}

	var file *File
	if result.File.RemotePath != "" {
		f := result.File
		file = &f
	}

	if result.Success {
		logger.InfoContext(ctx, "transfer completed", "remote_path", req.File.RemotePath)
	} else {
		logger.WarnContext(ctx, "transfer failed", "remote_path", req.File.RemotePath, "cancelled", ctx.Err() != nil)
	}

	m.inbox.post(func() { m.finish(id, result.Success, file) })
}

// finish runs on the loop. Starting the next transfer keeps the queue flowing.
func (m *Manager) finish(id uuid.UUID, success bool, file *File) {
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}

	m.registry.Complete(id, success, file)
	m.registry.StartNext()
}

type taskPanic struct {
	value any
	stack []byte
}

func (p *taskPanic) Error() string {
	return fmt.Sprintf("transfer task panic: %v", p.value)
}

func runTask(ctx context.Context, task Task, onProgress ProgressFunc) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &taskPanic{value: r, stack: debug.Stack()}
		}
	}()

	return task(ctx, onProgress), nil
}
