package storage

import (
	"context"
	"errors"

	"github.com/italolelis/syncbox/internal/transfer"
)

// ErrFileNotFound is returned when no record exists for an owner and remote path.
var ErrFileNotFound = errors.New("file not found")

// FileReadRepository reads synced file records.
type FileReadRepository interface {
	GetFile(ctx context.Context, owner, remotePath string) (transfer.File, error)
	ListFiles(ctx context.Context, owner string) ([]transfer.File, error)
}

// FileWriteRepository writes synced file records.
type FileWriteRepository interface {
	SaveFile(ctx context.Context, owner string, f transfer.File) error
	DeleteFile(ctx context.Context, owner, remotePath string) error
}

// FileRepository is the full record store used by the executor factory and cleanup.
type FileRepository interface {
	FileReadRepository
	FileWriteRepository
}
