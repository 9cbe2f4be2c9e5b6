package rpc

import (
	"github.com/creachadair/jrpc2"
	"github.com/google/uuid"

	"github.com/italolelis/syncbox/internal/transfer"
)

const (
	methodEnqueue     = "transfers.enqueue"
	methodGet         = "transfers.get"
	methodFind        = "transfers.find"
	methodStatus      = "transfers.status"
	methodCancel      = "transfers.cancel"
	methodSubscribe   = "transfers.subscribe"
	methodWatchStatus = "transfers.watch_status"

	pushTransferChanged = "transfer.changed"
	pushStatusChanged   = "status.changed"
)

// Custom JSON-RPC error codes.
const (
	codeNotFound      = jrpc2.Code(-32001)
	codeUnavailable   = jrpc2.Code(-32002)
	codeInvalidParams = jrpc2.Code(-32602)
)

// EnqueueResult is the response of transfers.enqueue.
type EnqueueResult struct {
	ID uuid.UUID `json:"id"`
}

// OwnerParams selects an owner's manager.
type OwnerParams struct {
	Owner string `json:"owner"`
}

// IDParams selects one transfer of an owner.
type IDParams struct {
	Owner string    `json:"owner"`
	ID    uuid.UUID `json:"id"`
}

// FindParams looks a transfer up by the file it targets.
type FindParams struct {
	Owner string        `json:"owner"`
	File  transfer.File `json:"file"`
}

// TransferResult is the response of transfers.get and transfers.find.
type TransferResult struct {
	Found    bool              `json:"found"`
	Transfer transfer.Transfer `json:"transfer"`
}

// CancelResult is the response of transfers.cancel.
type CancelResult struct {
	Cancelled bool `json:"cancelled"`
}

// StatusChanged is the payload of the status.changed push.
type StatusChanged struct {
	Owner  string          `json:"owner"`
	Status transfer.Status `json:"status"`
}
