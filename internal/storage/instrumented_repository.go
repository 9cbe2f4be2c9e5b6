package storage

import (
	"context"

	"github.com/italolelis/syncbox/internal/telemetry"
	"github.com/italolelis/syncbox/internal/transfer"
)

// InstrumentedFileRepository wraps a FileRepository with telemetry.
type InstrumentedFileRepository struct {
	repo      FileRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedFileRepository creates a new instrumented file repository.
func NewInstrumentedFileRepository(repo FileRepository, tel *telemetry.Telemetry) *InstrumentedFileRepository {
	return &InstrumentedFileRepository{
		repo:      repo,
		telemetry: tel,
	}
}

// GetFile retrieves a file record with telemetry.
func (r *InstrumentedFileRepository) GetFile(ctx context.Context, owner, remotePath string) (transfer.File, error) {
	var result transfer.File

	err := r.telemetry.InstrumentDBOperation(ctx, "get_file", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetFile(ctx, owner, remotePath)

		return err
	})

	return result, err
}

// ListFiles lists file records with telemetry.
func (r *InstrumentedFileRepository) ListFiles(ctx context.Context, owner string) ([]transfer.File, error) {
	var result []transfer.File

	err := r.telemetry.InstrumentDBOperation(ctx, "list_files", func(ctx context.Context) error {
		var err error

		result, err = r.repo.ListFiles(ctx, owner)

		return err
	})

	return result, err
}

// SaveFile saves a file record with telemetry.
func (r *InstrumentedFileRepository) SaveFile(ctx context.Context, owner string, f transfer.File) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_file", func(ctx context.Context) error {
		return r.repo.SaveFile(ctx, owner, f)
	})
}

// DeleteFile deletes a file record with telemetry.
func (r *InstrumentedFileRepository) DeleteFile(ctx context.Context, owner, remotePath string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_file", func(ctx context.Context) error {
		return r.repo.DeleteFile(ctx, owner, remotePath)
	})
}
