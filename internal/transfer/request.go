package transfer

import (
	"time"

	"github.com/google/uuid"
)

// Direction tells whether a transfer reads from or writes to the remote.
type Direction string

const (
	Download Direction = "download"
	Upload   Direction = "upload"
)

// CollisionPolicy decides what an upload does when the remote path is taken.
type CollisionPolicy string

const (
	CollisionCancel    CollisionPolicy = "cancel"
	CollisionRename    CollisionPolicy = "rename"
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionAskUser   CollisionPolicy = "ask_user"
)

// ParseCollisionPolicy converts a string to a CollisionPolicy, defaulting to cancel.
func ParseCollisionPolicy(s string) CollisionPolicy {
	switch CollisionPolicy(s) {
	case CollisionRename:
		return CollisionRename
	case CollisionOverwrite:
		return CollisionOverwrite
	case CollisionAskUser:
		return CollisionAskUser
	case CollisionCancel:
		fallthrough
	default:
		return CollisionCancel
	}
}

// LocalAction is applied to the local source after a successful upload.
type LocalAction string

const (
	LocalKeep   LocalAction = "keep"
	LocalCopy   LocalAction = "copy"
	LocalMove   LocalAction = "move"
	LocalDelete LocalAction = "delete"
)

// ParseLocalAction converts a string to a LocalAction, defaulting to keep.
func ParseLocalAction(s string) LocalAction {
	switch LocalAction(s) {
	case LocalCopy:
		return LocalCopy
	case LocalMove:
		return LocalMove
	case LocalDelete:
		return LocalDelete
	case LocalKeep:
		fallthrough
	default:
		return LocalKeep
	}
}

// Trigger records who asked for an upload.
type Trigger string

const (
	TriggerUser Trigger = "user"
	TriggerAuto Trigger = "auto"
)

// File is a snapshot of a file as known when the snapshot was taken.
// It is never updated in place; components that need the latest state re-fetch it.
type File struct {
	RemotePath   string    `json:"remote_path"`
	RemoteID     string    `json:"remote_id,omitempty"`
	LocalPath    string    `json:"local_path,omitempty"`
	Length       int64     `json:"length"`
	MimeType     string    `json:"mime_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
	ModifiedAt   time.Time `json:"modified_at"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// UploadOptions are the upload-only parameters of a Request.
type UploadOptions struct {
	LocalPath     string          `json:"local_path"`
	Collision     CollisionPolicy `json:"collision"`
	CreateParents bool            `json:"create_parents"`
	LocalAction   LocalAction     `json:"local_action"`
	WiFiOnly      bool            `json:"wifi_only"`
	ChargingOnly  bool            `json:"charging_only"`
	Trigger       Trigger         `json:"trigger"`
}

// Request describes one unit of work for a single owner.
type Request struct {
	ID        uuid.UUID     `json:"id"`
	Owner     string        `json:"owner"`
	Direction Direction     `json:"direction"`
	File      File          `json:"file"`
	Simulated bool          `json:"simulated"`
	Upload    UploadOptions `json:"upload"`
}

// RequestOption customises a Request at construction.
type RequestOption func(*Request)

// Simulated marks the request as a dry run that produces synthetic progress.
func Simulated() RequestOption {
	return func(r *Request) {
		r.Simulated = true
	}
}

// NewDownloadRequest builds a download request with a fresh id.
func NewDownloadRequest(owner string, file File, opts ...RequestOption) Request {
	r := Request{
		ID:        uuid.New(),
		Owner:     owner,
		Direction: Download,
		File:      file,
	}

	for _, opt := range opts {
		opt(&r)
	}

	return r
}

// NewUploadRequest builds an upload request with a fresh id.
// Empty policy fields fall back to cancel on collision, keep the local file and a user trigger.
func NewUploadRequest(owner string, file File, upload UploadOptions, opts ...RequestOption) Request {
	if upload.Collision == "" {
		upload.Collision = CollisionCancel
	}

	if upload.LocalAction == "" {
		upload.LocalAction = LocalKeep
	}

	if upload.Trigger == "" {
		upload.Trigger = TriggerUser
	}

	if file.LocalPath == "" {
		file.LocalPath = upload.LocalPath
	}

	r := Request{
		ID:        uuid.New(),
		Owner:     owner,
		Direction: Upload,
		File:      file,
		Upload:    upload,
	}

	for _, opt := range opts {
		opt(&r)
	}

	return r
}

// Validate reports whether the request can be scheduled.
func (r Request) Validate() error {
	switch {
	case r.ID == uuid.Nil:
		return &ValidationError{Field: "id", Reason: "must be set"}
	case r.Owner == "":
		return &ValidationError{Field: "owner", Reason: "must be set"}
	case r.File.RemotePath == "":
		return &ValidationError{Field: "file.remote_path", Reason: "must be set"}
	}

	switch r.Direction {
	case Download:
		return nil
	case Upload:
		if r.Upload.LocalPath == "" && !r.Simulated {
			return &ValidationError{Field: "upload.local_path", Reason: "must be set for uploads"}
		}

		return nil
	default:
		return &ValidationError{Field: "direction", Reason: "unknown direction " + string(r.Direction)}
	}
}
