package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/transfer"
)

func newTestRepository(t *testing.T) *FileRepository {
	t.Helper()

	db, err := InitDB(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return NewFileRepository(db)
}

func TestFileRepository_SaveAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	f := transfer.File{
		RemotePath:   "/docs/a.txt",
		RemoteID:     "42",
		LocalPath:    "/data/a.txt",
		Length:       2048,
		MimeType:     "text/plain",
		ETag:         "e1",
		Checksum:     "crc:1234",
		ModifiedAt:   time.Date(2024, 3, 1, 10, 0, 0, 500, time.UTC),
		LastSyncedAt: time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
	}

	require.NoError(t, repo.SaveFile(ctx, "alice", f))

	got, err := repo.GetFile(ctx, "alice", "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestFileRepository_SaveReplaces(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveFile(ctx, "alice", transfer.File{RemotePath: "/a", ETag: "v1"}))
	require.NoError(t, repo.SaveFile(ctx, "alice", transfer.File{RemotePath: "/a", ETag: "v2"}))

	got, err := repo.GetFile(ctx, "alice", "/a")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.ETag)
	assert.True(t, got.ModifiedAt.IsZero())
}

func TestFileRepository_OwnersAreIsolated(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveFile(ctx, "alice", transfer.File{RemotePath: "/b"}))
	require.NoError(t, repo.SaveFile(ctx, "alice", transfer.File{RemotePath: "/a"}))
	require.NoError(t, repo.SaveFile(ctx, "bob", transfer.File{RemotePath: "/c"}))

	files, err := repo.ListFiles(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "/a", files[0].RemotePath)
	assert.Equal(t, "/b", files[1].RemotePath)

	_, err = repo.GetFile(ctx, "bob", "/a")
	assert.ErrorIs(t, err, storage.ErrFileNotFound)
}

func TestFileRepository_Delete(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveFile(ctx, "alice", transfer.File{RemotePath: "/a"}))
	require.NoError(t, repo.DeleteFile(ctx, "alice", "/a"))
	require.NoError(t, repo.DeleteFile(ctx, "alice", "/missing"))

	_, err := repo.GetFile(ctx, "alice", "/a")
	assert.ErrorIs(t, err, storage.ErrFileNotFound)
}

func TestInstrumentedFileRepository_NilTelemetry(t *testing.T) {
	repo := storage.NewInstrumentedFileRepository(newTestRepository(t), nil)
	ctx := context.Background()

	require.NoError(t, repo.SaveFile(ctx, "alice", transfer.File{RemotePath: "/a", RemoteID: "1"}))

	got, err := repo.GetFile(ctx, "alice", "/a")
	require.NoError(t, err)
	assert.Equal(t, "1", got.RemoteID)

	_, err = repo.GetFile(ctx, "alice", "/b")
	assert.ErrorIs(t, err, storage.ErrFileNotFound)
}

func TestInitDB_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncbox.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// reopening must not fail on the existing table
	db, err = InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
