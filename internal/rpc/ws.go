package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/creachadair/jrpc2/channel"

	"github.com/italolelis/syncbox/internal/logctx"
)

const wsReadLimit = 1 << 20

// wsChannel adapts a websocket connection to the jrpc2 channel interface.
type wsChannel struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (c *wsChannel) Send(data []byte) error {
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

func (c *wsChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)

	return data, err
}

func (c *wsChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// WebSocketHandler upgrades the request and serves one session over it.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logctx.LoggerFromContext(ctx)

		// Sessions outlive the server's request timeouts.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.WarnContext(ctx, "failed to accept websocket", "err", err)

			return
		}

		conn.SetReadLimit(wsReadLimit)

		s.ServeChannel(ctx, &wsChannel{conn: conn, ctx: ctx})
	})
}

// DialWebSocket opens a client channel to a WebSocketHandler at url.
func DialWebSocket(ctx context.Context, url string) (channel.Channel, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(wsReadLimit)

	return &wsChannel{conn: conn, ctx: context.WithoutCancel(ctx)}, nil
}
