package notifier

import (
	"context"
	"fmt"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

const defaultQueueSize = 64

// TransferNotifier announces finished transfers. It sends from its own
// goroutine; records arriving while its queue is full are dropped.
type TransferNotifier struct {
	notif  Notifier
	events chan transfer.Transfer
}

func NewTransferNotifier(notif Notifier) *TransferNotifier {
	return &TransferNotifier{
		notif:  notif,
		events: make(chan transfer.Transfer, defaultQueueSize),
	}
}

// TransferChanged queues terminal records. Records are dropped when the queue is full.
func (n *TransferNotifier) TransferChanged(t transfer.Transfer) {
	if !t.IsFinished() {
		return
	}

	select {
	case n.events <- t:
	default:
	}
}

// Run sends queued notifications until ctx is cancelled.
func (n *TransferNotifier) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "transfer notifier shutting down")

			return
		case t := <-n.events:
			if err := n.notif.Notify(ctx, Message(t)); err != nil {
				logger.ErrorContext(ctx, "failed to send notification", "transfer_id", t.ID, "err", err)
			}
		}
	}
}

// Message renders the notification text for a finished transfer.
func Message(t transfer.Transfer) string {
	if t.State == transfer.StateCompleted {
		return fmt.Sprintf("✅ %s finished for %s: %s", t.Direction(), t.Request.Owner, t.File.RemotePath)
	}

	return fmt.Sprintf("❌ %s failed for %s: %s", t.Direction(), t.Request.Owner, t.File.RemotePath)
}
