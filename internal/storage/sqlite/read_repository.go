package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/transfer"
)

const selectFile = `SELECT remote_path, remote_id, local_path, length, mime_type, etag, checksum, modified_at, last_synced_at FROM files`

type FileReadRepository struct {
	db *sql.DB
}

func NewFileReadRepository(dbConn *sql.DB) *FileReadRepository {
	return &FileReadRepository{db: dbConn}
}

// GetFile returns storage.ErrFileNotFound when the owner has no record for remotePath.
func (r *FileReadRepository) GetFile(ctx context.Context, owner, remotePath string) (transfer.File, error) {
	row := r.db.QueryRowContext(ctx, selectFile+` WHERE owner = ? AND remote_path = ?`, owner, remotePath)

	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.File{}, storage.ErrFileNotFound
	}

	return f, err
}

// ListFiles returns every record of owner ordered by remote path.
func (r *FileReadRepository) ListFiles(ctx context.Context, owner string) ([]transfer.File, error) {
	rows, err := r.db.QueryContext(ctx, selectFile+` WHERE owner = ? ORDER BY remote_path`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []transfer.File

	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}

		files = append(files, f)
	}

	return files, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (transfer.File, error) {
	var (
		f                      transfer.File
		modifiedAt, lastSynced string
	)

	if err := s.Scan(&f.RemotePath, &f.RemoteID, &f.LocalPath, &f.Length, &f.MimeType, &f.ETag, &f.Checksum, &modifiedAt, &lastSynced); err != nil {
		return transfer.File{}, err
	}

	var err error

	if f.ModifiedAt, err = parseTime(modifiedAt); err != nil {
		return transfer.File{}, fmt.Errorf("invalid modified_at for %s: %w", f.RemotePath, err)
	}

	if f.LastSyncedAt, err = parseTime(lastSynced); err != nil {
		return transfer.File{}, fmt.Errorf("invalid last_synced_at for %s: %w", f.RemotePath, err)
	}

	return f, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339Nano, s)
}
