package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/google/uuid"

	"github.com/italolelis/syncbox/internal/connection"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

// DialFunc opens a new channel to the server.
type DialFunc func(ctx context.Context) (channel.Channel, error)

// UnixDialer dials the daemon's unix socket.
func UnixDialer(socket string) DialFunc {
	return func(ctx context.Context) (channel.Channel, error) {
		var d net.Dialer

		conn, err := d.DialContext(ctx, "unix", socket)
		if err != nil {
			return nil, err
		}

		return channel.Line(conn, conn), nil
	}
}

// WebSocketDialer dials a websocket endpoint.
func WebSocketDialer(url string) DialFunc {
	return func(ctx context.Context) (channel.Channel, error) {
		return DialWebSocket(ctx, url)
	}
}

// Client reaches the daemon from another process. It implements connection.Host.
type Client struct {
	dial DialFunc
}

// NewClient creates a Client that opens channels with dial.
func NewClient(dial DialFunc) *Client {
	return &Client{dial: dial}
}

// call runs one request on a short-lived connection.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	ch, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach syncbox daemon: %w", err)
	}

	cli := jrpc2.NewClient(ch, nil)
	defer cli.Close()

	return cli.CallResult(ctx, method, params, result)
}

// Enqueue forwards req to the daemon.
func (c *Client) Enqueue(ctx context.Context, req transfer.Request) error {
	var res EnqueueResult

	return c.call(ctx, methodEnqueue, req, &res)
}

// Cancel asks the daemon to stop owner's transfer id.
func (c *Client) Cancel(ctx context.Context, owner string, id uuid.UUID) (bool, error) {
	var res CancelResult

	if err := c.call(ctx, methodCancel, IDParams{Owner: owner, ID: id}, &res); err != nil {
		return false, err
	}

	return res.Cancelled, nil
}

// Bind keeps a subscribed connection to owner's manager open until it is closed or lost.
func (c *Client) Bind(ctx context.Context, owner string) (connection.Binding, error) {
	ch, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reach syncbox daemon: %w", err)
	}

	b := &binding{
		owner:             owner,
		transferListeners: make(map[transfer.TransferListener]struct{}),
		statusListeners:   make(map[transfer.StatusListener]struct{}),
		done:              make(chan struct{}),
	}

	logger := logctx.LoggerFromContext(ctx)

	b.cli = jrpc2.NewClient(ch, &jrpc2.ClientOptions{
		OnNotify: b.onNotify,
		OnStop: func(_ *jrpc2.Client, err error) {
			logger.DebugContext(ctx, "rpc binding stopped", "owner", owner, "err", err)
			close(b.done)
		},
	})

	var ok bool
	if err := b.cli.CallResult(ctx, methodSubscribe, OwnerParams{Owner: owner}, &ok); err != nil {
		b.cli.Close()

		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return b, nil
}

// binding is a remote attachment to one owner's manager.
type binding struct {
	owner string
	cli   *jrpc2.Client
	done  chan struct{}

	mu                sync.Mutex
	transferListeners map[transfer.TransferListener]struct{}
	statusListeners   map[transfer.StatusListener]struct{}
	watchingStatus    bool
}

func (b *binding) Transfer(ctx context.Context, id uuid.UUID) (transfer.Transfer, bool, error) {
	var res TransferResult

	if err := b.cli.CallResult(ctx, methodGet, IDParams{Owner: b.owner, ID: id}, &res); err != nil {
		return transfer.Transfer{}, false, err
	}

	return res.Transfer, res.Found, nil
}

func (b *binding) Status(ctx context.Context) (transfer.Status, error) {
	var st transfer.Status

	err := b.cli.CallResult(ctx, methodStatus, OwnerParams{Owner: b.owner}, &st)

	return st, err
}

func (b *binding) RegisterTransferListener(l transfer.TransferListener) {
	transfer.MustBeComparable(l)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.transferListeners[l] = struct{}{}
}

func (b *binding) RemoveTransferListener(l transfer.TransferListener) {
	if !transfer.IsComparable(l) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.transferListeners, l)
}

// RegisterStatusListener asks the server for status pushes on first use.
func (b *binding) RegisterStatusListener(l transfer.StatusListener) {
	transfer.MustBeComparable(l)

	b.mu.Lock()
	b.statusListeners[l] = struct{}{}
	watch := !b.watchingStatus
	b.watchingStatus = true
	b.mu.Unlock()

	if watch {
		_ = b.cli.Notify(context.Background(), methodWatchStatus, OwnerParams{Owner: b.owner})
	}
}

func (b *binding) RemoveStatusListener(l transfer.StatusListener) {
	if !transfer.IsComparable(l) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.statusListeners, l)
}

func (b *binding) Done() <-chan struct{} {
	return b.done
}

func (b *binding) Close() error {
	return b.cli.Close()
}

// onNotify runs for every push, in arrival order.
func (b *binding) onNotify(req *jrpc2.Request) {
	switch req.Method() {
	case pushTransferChanged:
		var t transfer.Transfer
		if err := req.UnmarshalParams(&t); err != nil {
			return
		}

		b.mu.Lock()
		listeners := make([]transfer.TransferListener, 0, len(b.transferListeners))
		for l := range b.transferListeners {
			listeners = append(listeners, l)
		}
		b.mu.Unlock()

		for _, l := range listeners {
			l.TransferChanged(t)
		}
	case pushStatusChanged:
		var sc StatusChanged
		if err := req.UnmarshalParams(&sc); err != nil {
			return
		}

		b.mu.Lock()
		listeners := make([]transfer.StatusListener, 0, len(b.statusListeners))
		for l := range b.statusListeners {
			listeners = append(listeners, l)
		}
		b.mu.Unlock()

		for _, l := range listeners {
			l.StatusChanged(sc.Status)
		}
	}
}
