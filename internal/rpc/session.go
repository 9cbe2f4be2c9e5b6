package rpc

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

type push struct {
	method string
	params any
}

// session is the server side of one client connection.
type session struct {
	managers Managers
	srv      *jrpc2.Server
	queue    chan push
	done     chan struct{}

	mu         sync.Mutex
	closed     bool
	transfers  map[string]*transferWatch
	statuses   map[string]*statusWatch
	overflowed bool
}

func newSession(managers Managers, queueSize int) *session {
	return &session{
		managers:  managers,
		queue:     make(chan push, queueSize),
		done:      make(chan struct{}),
		transfers: make(map[string]*transferWatch),
		statuses:  make(map[string]*statusWatch),
	}
}

func (s *session) methods() handler.Map {
	return handler.Map{
		methodEnqueue:     handler.New(s.enqueue),
		methodGet:         handler.New(s.get),
		methodFind:        handler.New(s.find),
		methodStatus:      handler.New(s.status),
		methodCancel:      handler.New(s.cancel),
		methodSubscribe:   handler.New(s.subscribe),
		methodWatchStatus: handler.New(s.watchStatus),
	}
}

// manager resolves owner's manager, starting it when needed. Only enqueue and
// subscribe, which backs a client Bind, may create one.
func (s *session) manager(owner string) (*transfer.Manager, error) {
	return s.resolve(owner, s.managers.Manager)
}

func (s *session) lookup(owner string) (*transfer.Manager, error) {
	return s.resolve(owner, s.managers.Lookup)
}

func (s *session) resolve(owner string, find func(string) (*transfer.Manager, error)) (*transfer.Manager, error) {
	if owner == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: owner"}
	}

	m, err := find(owner)
	if err != nil {
		return nil, rpcError(err)
	}

	return m, nil
}

func (s *session) enqueue(_ context.Context, req *transfer.Request) (*EnqueueResult, error) {
	m, err := s.manager(req.Owner)
	if err != nil {
		return nil, err
	}

	if err := m.Enqueue(*req); err != nil {
		return nil, rpcError(err)
	}

	return &EnqueueResult{ID: req.ID}, nil
}

func (s *session) get(ctx context.Context, p *IDParams) (*TransferResult, error) {
	m, err := s.lookup(p.Owner)
	if err != nil {
		return nil, err
	}

	t, ok, err := m.Transfer(ctx, p.ID)
	if err != nil {
		return nil, rpcError(err)
	}

	return &TransferResult{Found: ok, Transfer: t}, nil
}

func (s *session) find(ctx context.Context, p *FindParams) (*TransferResult, error) {
	m, err := s.lookup(p.Owner)
	if err != nil {
		return nil, err
	}

	t, ok, err := m.TransferByFile(ctx, p.File)
	if err != nil {
		return nil, rpcError(err)
	}

	return &TransferResult{Found: ok, Transfer: t}, nil
}

func (s *session) status(ctx context.Context, p *OwnerParams) (*transfer.Status, error) {
	m, err := s.lookup(p.Owner)
	if err != nil {
		return nil, err
	}

	st, err := m.Status(ctx)
	if err != nil {
		return nil, rpcError(err)
	}

	return &st, nil
}

func (s *session) cancel(ctx context.Context, p *IDParams) (*CancelResult, error) {
	m, err := s.lookup(p.Owner)
	if err != nil {
		return nil, err
	}

	found, err := m.Cancel(ctx, p.ID)
	if err != nil {
		return nil, rpcError(err)
	}

	if !found {
		return nil, &jrpc2.Error{Code: codeNotFound, Message: "transfer not found or already finished"}
	}

	return &CancelResult{Cancelled: true}, nil
}

// subscribe starts transfer.changed pushes for the owner. Subscribing twice is a no-op.
func (s *session) subscribe(_ context.Context, p *OwnerParams) (bool, error) {
	m, err := s.manager(p.Owner)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, &jrpc2.Error{Code: codeUnavailable, Message: "session closed"}
	}

	if _, ok := s.transfers[p.Owner]; ok {
		return true, nil
	}

	w := &transferWatch{sess: s, manager: m}
	s.transfers[p.Owner] = w
	m.RegisterTransferListener(w)

	return true, nil
}

// watchStatus starts status.changed pushes for the owner. It is sent as a notification.
func (s *session) watchStatus(_ context.Context, p *OwnerParams) error {
	m, err := s.lookup(p.Owner)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if _, ok := s.statuses[p.Owner]; ok {
		return nil
	}

	w := &statusWatch{sess: s, owner: p.Owner, manager: m}
	s.statuses[p.Owner] = w
	m.RegisterStatusListener(w)

	return nil
}

// send queues a push without blocking the manager. On overflow the session is
// stopped so the client notices the lost binding instead of missing records.
func (s *session) send(p push) {
	select {
	case s.queue <- p:
	default:
		s.mu.Lock()
		first := !s.overflowed
		s.overflowed = true
		s.mu.Unlock()

		if first {
			go s.srv.Stop()
		}
	}
}

func (s *session) pump(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-s.done:
			return
		case p := <-s.queue:
			if err := s.srv.Notify(ctx, p.method, p.params); err != nil {
				if !errors.Is(err, jrpc2.ErrConnClosed) {
					logger.DebugContext(ctx, "rpc push failed", "method", p.method, "err", err)
				}

				return
			}
		}
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.done)

	for _, w := range s.transfers {
		w.manager.RemoveTransferListener(w)
	}

	for _, w := range s.statuses {
		w.manager.RemoveStatusListener(w)
	}
}

type transferWatch struct {
	sess    *session
	manager *transfer.Manager
}

func (w *transferWatch) TransferChanged(t transfer.Transfer) {
	w.sess.send(push{method: pushTransferChanged, params: t})
}

type statusWatch struct {
	sess    *session
	owner   string
	manager *transfer.Manager
}

func (w *statusWatch) StatusChanged(st transfer.Status) {
	w.sess.send(push{method: pushStatusChanged, params: StatusChanged{Owner: w.owner, Status: st}})
}

func rpcError(err error) error {
	var validation *transfer.ValidationError

	switch {
	case errors.As(err, &validation):
		return &jrpc2.Error{Code: codeInvalidParams, Message: validation.Error()}
	case errors.Is(err, transfer.ErrManagerClosed):
		return &jrpc2.Error{Code: codeUnavailable, Message: err.Error()}
	case errors.Is(err, transfer.ErrUnknownOwner):
		return &jrpc2.Error{Code: codeNotFound, Message: err.Error()}
	default:
		return err
	}
}
