package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/transfer"
)

type stubExecutor struct {
	file transfer.File
	err  error
}

func (s *stubExecutor) Download(context.Context, transfer.Request, transfer.ProgressFunc) (transfer.File, error) {
	return s.file, s.err
}

func (s *stubExecutor) Upload(context.Context, transfer.Request, transfer.ProgressFunc) (transfer.File, error) {
	return s.file, s.err
}

func TestLocalActionExecutor_Upload(t *testing.T) {
	tests := []struct {
		name          string
		action        transfer.LocalAction
		wantLocalPath string
		sourceExists  bool
		targetExists  bool
	}{
		{name: "keep", action: transfer.LocalKeep, wantLocalPath: "/sdcard/a.txt", sourceExists: true},
		{name: "copy", action: transfer.LocalCopy, wantLocalPath: "/data/docs/a.txt", sourceExists: true, targetExists: true},
		{name: "move", action: transfer.LocalMove, wantLocalPath: "/data/docs/a.txt", targetExists: true},
		{name: "delete", action: transfer.LocalDelete, wantLocalPath: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/sdcard/a.txt", []byte("payload"), 0o644))

			next := &stubExecutor{file: transfer.File{RemotePath: "/docs/a.txt", LocalPath: "/sdcard/a.txt"}}
			e := NewLocalActionExecutor(next, fs, "/data")

			req := transfer.NewUploadRequest("alice", transfer.File{RemotePath: "/docs/a.txt"},
				transfer.UploadOptions{LocalPath: "/sdcard/a.txt", LocalAction: tt.action})

			f, err := e.Upload(context.Background(), req, func(int) {})
			require.NoError(t, err)
			assert.Equal(t, tt.wantLocalPath, f.LocalPath)

			exists, _ := afero.Exists(fs, "/sdcard/a.txt")
			assert.Equal(t, tt.sourceExists, exists, "source")

			exists, _ = afero.Exists(fs, "/data/docs/a.txt")
			assert.Equal(t, tt.targetExists, exists, "target")
		})
	}
}

func TestLocalActionExecutor_FailedUploadLeavesSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/sdcard/a.txt", []byte("payload"), 0o644))

	next := &stubExecutor{err: errors.New("remote down")}
	e := NewLocalActionExecutor(next, fs, "/data")

	req := transfer.NewUploadRequest("alice", transfer.File{RemotePath: "/docs/a.txt"},
		transfer.UploadOptions{LocalPath: "/sdcard/a.txt", LocalAction: transfer.LocalDelete})

	_, err := e.Upload(context.Background(), req, func(int) {})
	require.Error(t, err)

	exists, _ := afero.Exists(fs, "/sdcard/a.txt")
	assert.True(t, exists)
}

type memoryRepo struct {
	files map[string]transfer.File
}

func (r *memoryRepo) GetFile(_ context.Context, _, remotePath string) (transfer.File, error) {
	f, ok := r.files[remotePath]
	if !ok {
		return transfer.File{}, storage.ErrFileNotFound
	}

	return f, nil
}

func (r *memoryRepo) ListFiles(context.Context, string) ([]transfer.File, error) {
	out := make([]transfer.File, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f)
	}

	return out, nil
}

func (r *memoryRepo) SaveFile(_ context.Context, _ string, f transfer.File) error {
	r.files[f.RemotePath] = f

	return nil
}

func (r *memoryRepo) DeleteFile(_ context.Context, _, remotePath string) error {
	delete(r.files, remotePath)

	return nil
}

func TestDeleteExpiredFiles(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/old.mkv", []byte("old"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/new.mkv", []byte("new"), 0o644))

	repo := &memoryRepo{files: map[string]transfer.File{
		"/old.mkv":  {RemotePath: "/old.mkv", LocalPath: "/data/old.mkv", LastSyncedAt: now.Add(-48 * time.Hour)},
		"/new.mkv":  {RemotePath: "/new.mkv", LocalPath: "/data/new.mkv", LastSyncedAt: now.Add(-time.Hour)},
		"/gone.mkv": {RemotePath: "/gone.mkv", LocalPath: "/data/gone.mkv", LastSyncedAt: now.Add(-48 * time.Hour)},
		"/remote":   {RemotePath: "/remote"},
	}}

	require.NoError(t, DeleteExpiredFiles(context.Background(), fs, repo, "alice", "/data", 24*time.Hour, now))

	exists, _ := afero.Exists(fs, "/data/old.mkv")
	assert.False(t, exists)

	exists, _ = afero.Exists(fs, "/data/new.mkv")
	assert.True(t, exists)

	assert.Empty(t, repo.files["/old.mkv"].LocalPath)
	assert.Empty(t, repo.files["/gone.mkv"].LocalPath)
	assert.Equal(t, "/data/new.mkv", repo.files["/new.mkv"].LocalPath)
}

func TestDeleteExpiredFiles_KeepsUploadSourceOutsideDataDir(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/me/photo.jpg", []byte("photo"), 0o644))

	next := &stubExecutor{file: transfer.File{RemotePath: "/photos/photo.jpg", LocalPath: "/home/me/photo.jpg"}}
	e := NewLocalActionExecutor(next, fs, "/data")

	req := transfer.NewUploadRequest("alice", transfer.File{RemotePath: "/photos/photo.jpg"},
		transfer.UploadOptions{LocalPath: "/home/me/photo.jpg", LocalAction: transfer.LocalKeep})

	f, err := e.Upload(context.Background(), req, func(int) {})
	require.NoError(t, err)
	require.Equal(t, "/home/me/photo.jpg", f.LocalPath)

	f.LastSyncedAt = now.Add(-2 * time.Hour)
	repo := &memoryRepo{files: map[string]transfer.File{f.RemotePath: f}}

	require.NoError(t, DeleteExpiredFiles(context.Background(), fs, repo, "alice", "/data", time.Hour, now))

	exists, _ := afero.Exists(fs, "/home/me/photo.jpg")
	assert.True(t, exists)
	assert.Equal(t, "/home/me/photo.jpg", repo.files["/photos/photo.jpg"].LocalPath)
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/data", "/data/a/b.txt"))
	assert.True(t, within("/data/", "/data/b.txt"))
	assert.False(t, within("/data", "/data"))
	assert.False(t, within("/data", "/database/b.txt"))
	assert.False(t, within("/data", "/data/../etc/passwd"))
	assert.False(t, within("/data", "/home/me/photo.jpg"))
}
