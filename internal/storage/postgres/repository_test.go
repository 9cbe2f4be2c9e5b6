package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/transfer"
)

// Runs against a real server only when SYNCBOX_TEST_POSTGRES_DSN is set.
func openTestRepository(t *testing.T) *FileRepository {
	t.Helper()

	dsn := os.Getenv("SYNCBOX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SYNCBOX_TEST_POSTGRES_DSN not set")
	}

	repo, err := Open(context.Background(), dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = repo.db.Exec(`DELETE FROM files WHERE owner LIKE 'test-%'`)
		_ = repo.Close()
	})

	return repo
}

func TestFileRepository_SaveAndGet(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	f := transfer.File{
		RemotePath:   "/docs/a.txt",
		RemoteID:     "1",
		Length:       10,
		ModifiedAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		LastSyncedAt: time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
	}

	require.NoError(t, repo.SaveFile(ctx, "test-alice", f))

	got, err := repo.GetFile(ctx, "test-alice", "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, f, got)

	f.ETag = "v2"
	require.NoError(t, repo.SaveFile(ctx, "test-alice", f))

	files, err := repo.ListFiles(ctx, "test-alice")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "v2", files[0].ETag)

	require.NoError(t, repo.DeleteFile(ctx, "test-alice", "/docs/a.txt"))

	_, err = repo.GetFile(ctx, "test-alice", "/docs/a.txt")
	assert.ErrorIs(t, err, storage.ErrFileNotFound)
}
