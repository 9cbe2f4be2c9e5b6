package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/syncbox/internal/transfer"
)

// FileWriteRepository implements storage.FileWriteRepository
// and stores file records in SQLite.
type FileWriteRepository struct {
	db *sql.DB
}

func NewFileWriteRepository(db *sql.DB) *FileWriteRepository {
	return &FileWriteRepository{db: db}
}

// SaveFile inserts or replaces the record of owner for f.RemotePath.
func (r *FileWriteRepository) SaveFile(ctx context.Context, owner string, f transfer.File) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO files (owner, remote_path, remote_id, local_path, length, mime_type, etag, checksum, modified_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, remote_path) DO UPDATE SET
			remote_id = excluded.remote_id,
			local_path = excluded.local_path,
			length = excluded.length,
			mime_type = excluded.mime_type,
			etag = excluded.etag,
			checksum = excluded.checksum,
			modified_at = excluded.modified_at,
			last_synced_at = excluded.last_synced_at
	`, owner, f.RemotePath, f.RemoteID, f.LocalPath, f.Length, f.MimeType, f.ETag, f.Checksum,
		formatTime(f.ModifiedAt), formatTime(f.LastSyncedAt))

	return err
}

// DeleteFile removes the record, if any.
func (r *FileWriteRepository) DeleteFile(ctx context.Context, owner, remotePath string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE owner = ? AND remote_path = ?`, owner, remotePath)

	return err
}
