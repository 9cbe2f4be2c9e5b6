// Package rpc exposes the host's transfer managers over JSON-RPC 2.0, on a
// unix socket for local observers and over websocket for remote ones.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/telemetry"
	"github.com/italolelis/syncbox/internal/transfer"
)

const defaultQueueSize = 256

// Managers resolves an owner's manager. Manager creates it when needed,
// Lookup only finds one that already exists.
type Managers interface {
	Manager(owner string) (*transfer.Manager, error)
	Lookup(owner string) (*transfer.Manager, error)
}

// Server serves one jrpc2 session per connection.
type Server struct {
	managers  Managers
	queueSize int
	telemetry *telemetry.Telemetry

	wg sync.WaitGroup
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithQueueSize bounds the pushes buffered per session. A session whose
// queue overflows is closed so the client reconnects and replays.
func WithQueueSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithTelemetry counts active sessions.
func WithTelemetry(t *telemetry.Telemetry) ServerOption {
	return func(s *Server) {
		s.telemetry = t
	}
}

// NewServer creates a Server over managers.
func NewServer(managers Managers, opts ...ServerOption) *Server {
	s := &Server{
		managers:  managers,
		queueSize: defaultQueueSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Serve accepts connections on ln until ctx is cancelled or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.InfoContext(ctx, "rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()

				return nil
			}

			return fmt.Errorf("failed to accept rpc connection: %w", err)
		}

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			s.ServeChannel(ctx, channel.Line(conn, conn))
		}()
	}
}

// ServeChannel runs one session on ch and returns when it ends.
func (s *Server) ServeChannel(ctx context.Context, ch channel.Channel) {
	logger := logctx.LoggerFromContext(ctx)

	sess := newSession(s.managers, s.queueSize)

	srv := jrpc2.NewServer(sess.methods(), &jrpc2.ServerOptions{
		AllowPush:  true,
		NewContext: func() context.Context { return ctx },
	})

	sess.srv = srv

	s.telemetry.IncrementRPCSessions()
	defer s.telemetry.DecrementRPCSessions()

	srv.Start(ch)

	go sess.pump(ctx)

	stop := context.AfterFunc(ctx, srv.Stop)
	defer stop()

	if err := srv.Wait(); err != nil && !errors.Is(err, jrpc2.ErrConnClosed) {
		logger.DebugContext(ctx, "rpc session ended", "err", err)
	}

	sess.close()
}
