// Package host keeps one transfer manager per owner alive inside the
// long-running daemon.
package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/italolelis/syncbox/internal/connection"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

// BuildFunc creates the (not yet started) manager for owner.
type BuildFunc func(owner string) *transfer.Manager

// Host starts managers lazily on first use and stops them all on Shutdown.
type Host struct {
	ctx    context.Context
	cancel context.CancelFunc
	build  BuildFunc

	mu       sync.Mutex
	managers map[string]*transfer.Manager
	closed   bool
}

// New creates a Host whose managers live until ctx is cancelled or Shutdown is called.
func New(ctx context.Context, build BuildFunc) *Host {
	ctx, cancel := context.WithCancel(ctx)

	return &Host{
		ctx:      ctx,
		cancel:   cancel,
		build:    build,
		managers: make(map[string]*transfer.Manager),
	}
}

// Manager returns owner's manager, starting it on first use.
func (h *Host) Manager(owner string) (*transfer.Manager, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, transfer.ErrManagerClosed
	}

	if m, ok := h.managers[owner]; ok {
		return m, nil
	}

	m := h.build(owner)
	m.Start(h.ctx)
	h.managers[owner] = m

	logctx.LoggerFromContext(h.ctx).InfoContext(h.ctx, "transfer manager created", "owner", owner)

	return m, nil
}

// Lookup returns owner's manager without creating one.
func (h *Host) Lookup(owner string) (*transfer.Manager, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, transfer.ErrManagerClosed
	}

	m, ok := h.managers[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", transfer.ErrUnknownOwner, owner)
	}

	return m, nil
}

// Enqueue routes req to its owner's manager.
func (h *Host) Enqueue(_ context.Context, req transfer.Request) error {
	if req.Owner == "" {
		return &transfer.ValidationError{Field: "owner", Reason: "must be set"}
	}

	m, err := h.Manager(req.Owner)
	if err != nil {
		return err
	}

	return m.Enqueue(req)
}

// Cancel asks owner's transfer id to stop. An unknown owner has nothing to cancel.
func (h *Host) Cancel(ctx context.Context, owner string, id uuid.UUID) (bool, error) {
	m, err := h.Lookup(owner)
	if errors.Is(err, transfer.ErrUnknownOwner) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return m.Cancel(ctx, id)
}

// Bind attaches in process to owner's manager.
func (h *Host) Bind(_ context.Context, owner string) (connection.Binding, error) {
	m, err := h.Manager(owner)
	if err != nil {
		return nil, err
	}

	return newBinding(m), nil
}

// IsRunning reports whether any manager has pending or running transfers.
func (h *Host) IsRunning(ctx context.Context) (bool, error) {
	for _, m := range h.snapshot() {
		running, err := m.IsRunning(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to query manager of %s: %w", m.Owner(), err)
		}

		if running {
			return true, nil
		}
	}

	return false, nil
}

// Owners lists the owners with a started manager, sorted.
func (h *Host) Owners() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	owners := make([]string, 0, len(h.managers))
	for owner := range h.managers {
		owners = append(owners, owner)
	}

	slices.Sort(owners)

	return owners
}

// Shutdown stops every manager and waits for their tasks until ctx expires.
func (h *Host) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()

	done := make(chan error, 1)

	go func() {
		var errs []error

		for _, m := range h.snapshot() {
			if err := m.Wait(); err != nil {
				errs = append(errs, fmt.Errorf("manager of %s: %w", m.Owner(), err))
			}
		}

		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for transfer managers: %w", ctx.Err())
	}
}

func (h *Host) snapshot() []*transfer.Manager {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*transfer.Manager, 0, len(h.managers))
	for _, m := range h.managers {
		out = append(out, m)
	}

	return out
}
