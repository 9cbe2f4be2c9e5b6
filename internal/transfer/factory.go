package transfer

import (
	"context"
	"time"

	"github.com/italolelis/syncbox/internal/logctx"
)

// Executor moves bytes between the local host and the remote store.
// Implementations must be safe for concurrent use by different requests.
type Executor interface {
	Download(ctx context.Context, req Request, onProgress ProgressFunc) (File, error)
	Upload(ctx context.Context, req Request, onProgress ProgressFunc) (File, error)
}

// FileStore persists the authoritative metadata of files, keyed by owner and remote path.
type FileStore interface {
	GetFile(ctx context.Context, owner, remotePath string) (File, error)
	SaveFile(ctx context.Context, owner string, f File) error
}

// Conditions reports the host's network and power state for constrained uploads.
type Conditions interface {
	OnWiFi() bool
	Charging() bool
}

// FactoryOption customises a Factory.
type FactoryOption func(*Factory)

// WithConditions checks upload constraints against c before uploading.
func WithConditions(c Conditions) FactoryOption {
	return func(f *Factory) {
		f.conditions = c
	}
}

// WithClock overrides the time source used to stamp synced files.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) {
		f.now = now
	}
}

// Factory builds download and upload tasks around an Executor.
type Factory struct {
	executor   Executor
	store      FileStore
	conditions Conditions
	now        func() time.Time
}

// NewFactory creates a Factory. store may be nil, in which case executor results are returned as is.
func NewFactory(executor Executor, store FileStore, opts ...FactoryOption) *Factory {
	f := &Factory{
		executor: executor,
		store:    store,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// NewTask returns the task matching the request direction.
func (f *Factory) NewTask(req Request) Task {
	if req.Direction == Upload {
		return f.uploadTask(req)
	}

	return f.downloadTask(req)
}

func (f *Factory) downloadTask(req Request) Task {
	return func(ctx context.Context, onProgress ProgressFunc) Result {
		logger := logctx.LoggerFromContext(ctx).With("transfer_id", req.ID, "remote_path", req.File.RemotePath)

		downloaded, err := f.executor.Download(ctx, req, onProgress)
		if err != nil {
			logger.ErrorContext(ctx, "download failed", "err", err)

			return Result{File: req.File}
		}

		downloaded.LastSyncedAt = f.now()

		return Result{File: f.persist(ctx, req.Owner, downloaded), Success: true}
	}
}

func (f *Factory) uploadTask(req Request) Task {
	return func(ctx context.Context, onProgress ProgressFunc) Result {
		logger := logctx.LoggerFromContext(ctx).With("transfer_id", req.ID, "remote_path", req.File.RemotePath)

		if err := f.checkConstraints(req.Upload); err != nil {
			logger.WarnContext(ctx, "upload postponed by constraint", "err", err)

			return Result{File: req.File}
		}

		uploaded, err := f.executor.Upload(ctx, req, onProgress)
		if err != nil {
			logger.ErrorContext(ctx, "upload failed", "err", err)

			return Result{File: req.File}
		}

		uploaded.LastSyncedAt = f.now()

		return Result{File: f.persist(ctx, req.Owner, uploaded), Success: true}
	}
}

// persist writes the executor's view and re-reads the store's authoritative record.
// Store errors do not undo a finished transfer; the executor's view is returned instead.
func (f *Factory) persist(ctx context.Context, owner string, file File) File {
	if f.store == nil {
		return file
	}

	logger := logctx.LoggerFromContext(ctx)

	if err := f.store.SaveFile(ctx, owner, file); err != nil {
		logger.ErrorContext(ctx, "failed to save file record", "remote_path", file.RemotePath, "err", err)

		return file
	}

	stored, err := f.store.GetFile(ctx, owner, file.RemotePath)
	if err != nil {
		logger.ErrorContext(ctx, "failed to refresh file record", "remote_path", file.RemotePath, "err", err)

		return file
	}

	return stored
}

func (f *Factory) checkConstraints(opts UploadOptions) error {
	if f.conditions == nil {
		return nil
	}

	if opts.WiFiOnly && !f.conditions.OnWiFi() {
		return &ConstraintError{Constraint: "wifi_only"}
	}

	if opts.ChargingOnly && !f.conditions.Charging() {
		return &ConstraintError{Constraint: "charging_only"}
	}

	return nil
}
