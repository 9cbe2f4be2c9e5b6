package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Register the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/transfer"
)

// FileRepository stores file records in PostgreSQL.
type FileRepository struct {
	db *sql.DB
}

// Open connects to dsn, verifies the connection and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*FileRepository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	r := &FileRepository{db: db}
	if err := r.ensureSchema(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return r, nil
}

func (r *FileRepository) Close() error { return r.db.Close() }

func (r *FileRepository) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS files (
    owner TEXT NOT NULL,
    remote_path TEXT NOT NULL,
    remote_id TEXT NOT NULL DEFAULT '',
    local_path TEXT NOT NULL DEFAULT '',
    length BIGINT NOT NULL DEFAULT 0,
    mime_type TEXT NOT NULL DEFAULT '',
    etag TEXT NOT NULL DEFAULT '',
    checksum TEXT NOT NULL DEFAULT '',
    modified_at TIMESTAMPTZ,
    last_synced_at TIMESTAMPTZ,
    PRIMARY KEY (owner, remote_path)
);
`)

	return err
}

const selectFile = `SELECT remote_path, remote_id, local_path, length, mime_type, etag, checksum, modified_at, last_synced_at FROM files`

// GetFile returns storage.ErrFileNotFound when the owner has no record for remotePath.
func (r *FileRepository) GetFile(ctx context.Context, owner, remotePath string) (transfer.File, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx, selectFile+` WHERE owner=$1 AND remote_path=$2`, owner, remotePath))
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.File{}, storage.ErrFileNotFound
	}

	return f, err
}

// ListFiles returns every record of owner ordered by remote path.
func (r *FileRepository) ListFiles(ctx context.Context, owner string) ([]transfer.File, error) {
	rows, err := r.db.QueryContext(ctx, selectFile+` WHERE owner=$1 ORDER BY remote_path`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transfer.File

	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, f)
	}

	return out, rows.Err()
}

// SaveFile inserts or replaces the record of owner for f.RemotePath.
func (r *FileRepository) SaveFile(ctx context.Context, owner string, f transfer.File) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO files (owner, remote_path, remote_id, local_path, length, mime_type, etag, checksum, modified_at, last_synced_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (owner, remote_path) DO UPDATE SET
    remote_id = EXCLUDED.remote_id,
    local_path = EXCLUDED.local_path,
    length = EXCLUDED.length,
    mime_type = EXCLUDED.mime_type,
    etag = EXCLUDED.etag,
    checksum = EXCLUDED.checksum,
    modified_at = EXCLUDED.modified_at,
    last_synced_at = EXCLUDED.last_synced_at
`, owner, f.RemotePath, f.RemoteID, f.LocalPath, f.Length, f.MimeType, f.ETag, f.Checksum,
		nullTime(f.ModifiedAt), nullTime(f.LastSyncedAt))

	return err
}

// DeleteFile removes the record, if any.
func (r *FileRepository) DeleteFile(ctx context.Context, owner, remotePath string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE owner=$1 AND remote_path=$2`, owner, remotePath)

	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (transfer.File, error) {
	var (
		f                      transfer.File
		modifiedAt, lastSynced sql.NullTime
	)

	if err := s.Scan(&f.RemotePath, &f.RemoteID, &f.LocalPath, &f.Length, &f.MimeType, &f.ETag, &f.Checksum, &modifiedAt, &lastSynced); err != nil {
		return transfer.File{}, err
	}

	if modifiedAt.Valid {
		f.ModifiedAt = modifiedAt.Time.UTC()
	}

	if lastSynced.Valid {
		f.LastSyncedAt = lastSynced.Time.UTC()
	}

	return f, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
