// Package connection lets an observer outside the host process enqueue
// transfers and follow them across attach and detach cycles.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

// ErrNotConnected is returned by queries made while no binding is held.
var ErrNotConnected = errors.New("not connected to transfer manager")

// Host reaches the long-lived process that owns the transfer managers.
type Host interface {
	// Enqueue hands req to the owner's manager without waiting for a binding.
	Enqueue(ctx context.Context, req transfer.Request) error
	// Bind attaches to owner's manager, starting it if needed.
	Bind(ctx context.Context, owner string) (Binding, error)
}

// Binding is a live attachment to one owner's manager.
type Binding interface {
	Transfer(ctx context.Context, id uuid.UUID) (transfer.Transfer, bool, error)
	Status(ctx context.Context) (transfer.Status, error)

	RegisterTransferListener(l transfer.TransferListener)
	RemoveTransferListener(l transfer.TransferListener)
	RegisterStatusListener(l transfer.StatusListener)
	RemoveStatusListener(l transfer.StatusListener)

	// Done is closed when the binding is lost.
	Done() <-chan struct{}
	Close() error
}

// finishedLimit bounds how many terminal ids are remembered to suppress late records.
const finishedLimit = 1024

// Connection keeps listeners locally so they survive reconnects, and replays
// records for requests it enqueued while nobody was attached.
type Connection struct {
	host  Host
	owner string

	connectMu sync.Mutex

	mu                sync.Mutex
	binding           Binding
	relay             *relay
	transferListeners map[transfer.TransferListener]struct{}
	statusListeners   map[transfer.StatusListener]struct{}
	tracked           map[uuid.UUID]struct{}

	// deliverMu keeps live and replayed deliveries from interleaving.
	deliverMu sync.Mutex
	// latest is the newest record delivered per id, across bindings.
	latest map[uuid.UUID]transfer.Transfer
	// finished holds ids whose terminal record was delivered, oldest first.
	finished []uuid.UUID
}

// New creates a disconnected Connection for owner.
func New(host Host, owner string) *Connection {
	return &Connection{
		host:              host,
		owner:             owner,
		transferListeners: make(map[transfer.TransferListener]struct{}),
		statusListeners:   make(map[transfer.StatusListener]struct{}),
		tracked:           make(map[uuid.UUID]struct{}),
		latest:            make(map[uuid.UUID]transfer.Transfer),
	}
}

// Owner is the user whose manager this connection targets.
func (c *Connection) Owner() string {
	return c.owner
}

// Connected reports whether a binding is currently held.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.binding != nil
}

// Enqueue forwards req to the host immediately. When transfer listeners are
// registered the id is tracked so its records can be replayed on the next connect.
func (c *Connection) Enqueue(ctx context.Context, req transfer.Request) error {
	c.mu.Lock()

	track := len(c.transferListeners) > 0
	if track {
		c.tracked[req.ID] = struct{}{}
	}

	c.mu.Unlock()

	if err := c.host.Enqueue(ctx, req); err != nil {
		if track {
			c.mu.Lock()
			delete(c.tracked, req.ID)
			c.mu.Unlock()
		}

		return fmt.Errorf("failed to enqueue transfer: %w", err)
	}

	return nil
}

// Connect binds to the owner's manager, relays its changes to the local
// listeners and replays every tracked transfer and one status snapshot.
// Connecting while connected is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.Connected() {
		return nil
	}

	logger := logctx.LoggerFromContext(ctx).With("owner", c.owner)

	b, err := c.host.Bind(ctx, c.owner)
	if err != nil {
		return fmt.Errorf("failed to bind transfer manager: %w", err)
	}

	r := &relay{conn: c, binding: b}
	b.RegisterTransferListener(r)
	b.RegisterStatusListener(r)

	c.mu.Lock()
	c.binding = b
	c.relay = r
	ids := make([]uuid.UUID, 0, len(c.tracked))

	for id := range c.tracked {
		ids = append(ids, id)
	}

	wantStatus := len(c.statusListeners) > 0
	c.mu.Unlock()

	go c.watch(ctx, b)

	logger.InfoContext(ctx, "connected to transfer manager", "replaying", len(ids))

	for _, id := range ids {
		t, ok, err := b.Transfer(ctx, id)
		if err != nil {
			logger.WarnContext(ctx, "failed to fetch transfer for redelivery", "transfer_id", id, "err", err)

			continue
		}

		if !ok {
			c.mu.Lock()
			delete(c.tracked, id)
			c.mu.Unlock()

			continue
		}

		c.deliverTransfer(b, t)
	}

	if !wantStatus {
		return nil
	}

	s, err := b.Status(ctx)
	if err != nil {
		logger.WarnContext(ctx, "failed to fetch status for redelivery", "err", err)

		return nil
	}

	c.deliverStatus(b, s)

	return nil
}

// KeepConnected connects and reconnects with exponential backoff every time
// the binding is lost, so tracked transfers are replayed. It returns nil once
// ctx ends, or the last connect error when opts give up. Cancel ctx rather
// than calling Disconnect while it runs.
func (c *Connection) KeepConnected(ctx context.Context, opts ...backoff.RetryOption) error {
	logger := logctx.LoggerFromContext(ctx).With("owner", c.owner)

	opts = append([]backoff.RetryOption{
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WarnContext(ctx, "failed to reconnect to transfer manager", "err", err, "retry_in", next)
		}),
	}, opts...)

	connect := func() (struct{}, error) {
		return struct{}{}, c.Connect(ctx)
	}

	for {
		b := c.current()
		if b == nil {
			if _, err := backoff.Retry(ctx, connect, opts...); err != nil {
				if ctx.Err() != nil {
					return nil
				}

				return err
			}

			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-b.Done():
			if c.detach(b) {
				logger.InfoContext(ctx, "connection to transfer manager lost, reconnecting")
			}
		}
	}
}

// watch drops the binding once it is lost. Listeners stay registered locally.
func (c *Connection) watch(ctx context.Context, b Binding) {
	<-b.Done()

	if c.detach(b) {
		logctx.LoggerFromContext(ctx).InfoContext(ctx, "connection to transfer manager lost", "owner", c.owner)
	}
}

// Disconnect releases the binding. Listeners stay registered locally.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	b := c.binding
	c.mu.Unlock()

	if b == nil {
		return nil
	}

	c.detach(b)

	return b.Close()
}

func (c *Connection) detach(b Binding) bool {
	c.mu.Lock()

	if c.binding != b {
		c.mu.Unlock()

		return false
	}

	r := c.relay
	c.binding = nil
	c.relay = nil
	c.mu.Unlock()

	b.RemoveTransferListener(r)
	b.RemoveStatusListener(r)

	return true
}

// Transfer fetches the current record of id from the bound manager.
func (c *Connection) Transfer(ctx context.Context, id uuid.UUID) (transfer.Transfer, bool, error) {
	b := c.current()
	if b == nil {
		return transfer.Transfer{}, false, ErrNotConnected
	}

	return b.Transfer(ctx, id)
}

// Status fetches a snapshot from the bound manager.
func (c *Connection) Status(ctx context.Context) (transfer.Status, error) {
	b := c.current()
	if b == nil {
		return transfer.Status{}, ErrNotConnected
	}

	return b.Status(ctx)
}

func (c *Connection) current() Binding {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.binding
}

// RegisterTransferListener adds l locally. Safe from any goroutine, connected or not.
func (c *Connection) RegisterTransferListener(l transfer.TransferListener) {
	transfer.MustBeComparable(l)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.transferListeners[l] = struct{}{}
}

// RemoveTransferListener removes l.
func (c *Connection) RemoveTransferListener(l transfer.TransferListener) {
	if !transfer.IsComparable(l) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.transferListeners, l)
}

// RegisterStatusListener adds l locally. Safe from any goroutine, connected or not.
func (c *Connection) RegisterStatusListener(l transfer.StatusListener) {
	transfer.MustBeComparable(l)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.statusListeners[l] = struct{}{}
}

// RemoveStatusListener removes l.
func (c *Connection) RemoveStatusListener(l transfer.StatusListener) {
	if !transfer.IsComparable(l) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.statusListeners, l)
}

// deliverTransfer hands t to the local listeners unless it comes from a stale
// binding or is not newer than what was already delivered for its id.
// Replayed and live records of the same id may arrive in either order.
func (c *Connection) deliverTransfer(from Binding, t transfer.Transfer) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()

	if c.binding != from {
		c.mu.Unlock()

		return
	}

	if last, ok := c.latest[t.ID]; ok && !t.After(last) {
		c.mu.Unlock()

		return
	}

	c.latest[t.ID] = t

	if t.IsFinished() {
		delete(c.tracked, t.ID)
		c.rememberFinished(t.ID)
	}

	listeners := make([]transfer.TransferListener, 0, len(c.transferListeners))
	for l := range c.transferListeners {
		listeners = append(listeners, l)
	}

	c.mu.Unlock()

	for _, l := range listeners {
		l.TransferChanged(t)
	}
}

func (c *Connection) deliverStatus(from Binding, s transfer.Status) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()

	if c.binding != from {
		c.mu.Unlock()

		return
	}

	listeners := make([]transfer.StatusListener, 0, len(c.statusListeners))
	for l := range c.statusListeners {
		listeners = append(listeners, l)
	}

	c.mu.Unlock()

	for _, l := range listeners {
		l.StatusChanged(s)
	}
}

// rememberFinished keeps id as a tombstone so lagging records for it are
// dropped. The oldest tombstone is forgotten once finishedLimit is reached.
// Callers hold c.mu.
func (c *Connection) rememberFinished(id uuid.UUID) {
	c.finished = append(c.finished, id)

	if len(c.finished) <= finishedLimit {
		return
	}

	delete(c.latest, c.finished[0])
	c.finished = c.finished[1:]
}

// relay forwards one binding's changes into the connection.
type relay struct {
	conn    *Connection
	binding Binding
}

func (r *relay) TransferChanged(t transfer.Transfer) {
	r.conn.deliverTransfer(r.binding, t)
}

func (r *relay) StatusChanged(s transfer.Status) {
	r.conn.deliverStatus(r.binding, s)
}
