package fsmirror

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/syncbox/internal/transfer"
)

func newTestExecutor(t *testing.T) (*Executor, afero.Fs, afero.Fs) {
	t.Helper()

	local, remote := afero.NewMemMapFs(), afero.NewMemMapFs()

	return New(local, remote, "/data"), local, remote
}

func TestExecutor_Download(t *testing.T) {
	e, local, remote := newTestExecutor(t)
	require.NoError(t, afero.WriteFile(remote, "/docs/report.txt", []byte("quarterly numbers"), 0o644))

	var last int

	req := transfer.NewDownloadRequest("alice", transfer.File{RemotePath: "/docs/report.txt"})
	f, err := e.Download(context.Background(), req, func(p int) { last = p })
	require.NoError(t, err)

	assert.Equal(t, 100, last)
	assert.Equal(t, "/data/docs/report.txt", f.LocalPath)
	assert.Equal(t, int64(17), f.Length)
	assert.NotEmpty(t, f.Checksum)

	got, err := afero.ReadFile(local, "/data/docs/report.txt")
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(got))
}

func TestExecutor_DownloadMissing(t *testing.T) {
	e, _, _ := newTestExecutor(t)

	req := transfer.NewDownloadRequest("alice", transfer.File{RemotePath: "/nope"})
	_, err := e.Download(context.Background(), req, func(int) {})

	var invalid *transfer.InvalidContentError
	assert.True(t, errors.As(err, &invalid))
}

func TestExecutor_Upload(t *testing.T) {
	tests := []struct {
		name      string
		existing  map[string]string
		opts      transfer.UploadOptions
		wantPath  string
		wantErrAs any
	}{
		{
			name:     "new file in existing folder",
			existing: map[string]string{"/up/other.txt": "x"},
			opts:     transfer.UploadOptions{LocalPath: "/src/a.txt"},
			wantPath: "/up/a.txt",
		},
		{
			name:      "missing parent without create",
			opts:      transfer.UploadOptions{LocalPath: "/src/a.txt"},
			wantErrAs: new(*transfer.DirectoryError),
		},
		{
			name:     "missing parent with create",
			opts:     transfer.UploadOptions{LocalPath: "/src/a.txt", CreateParents: true},
			wantPath: "/up/a.txt",
		},
		{
			name:      "collision cancel",
			existing:  map[string]string{"/up/a.txt": "old"},
			opts:      transfer.UploadOptions{LocalPath: "/src/a.txt"},
			wantErrAs: new(*transfer.CollisionError),
		},
		{
			name:     "collision rename",
			existing: map[string]string{"/up/a.txt": "old"},
			opts:     transfer.UploadOptions{LocalPath: "/src/a.txt", Collision: transfer.CollisionRename},
			wantPath: "/up/a (2).txt",
		},
		{
			name:     "collision overwrite",
			existing: map[string]string{"/up/a.txt": "old"},
			opts:     transfer.UploadOptions{LocalPath: "/src/a.txt", Collision: transfer.CollisionOverwrite},
			wantPath: "/up/a.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, local, remote := newTestExecutor(t)
			require.NoError(t, afero.WriteFile(local, "/src/a.txt", []byte("fresh"), 0o644))

			for p, content := range tt.existing {
				require.NoError(t, afero.WriteFile(remote, p, []byte(content), 0o644))
			}

			req := transfer.NewUploadRequest("alice", transfer.File{RemotePath: "/up/a.txt"}, tt.opts)
			f, err := e.Upload(context.Background(), req, func(int) {})

			if tt.wantErrAs != nil {
				require.Error(t, err)
				assert.True(t, errors.As(err, tt.wantErrAs), "got %T", err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, f.RemotePath)
			assert.Equal(t, "/src/a.txt", f.LocalPath)

			got, err := afero.ReadFile(remote, tt.wantPath)
			require.NoError(t, err)
			assert.Equal(t, "fresh", string(got))
		})
	}
}

func TestExecutor_UploadMissingLocal(t *testing.T) {
	e, _, _ := newTestExecutor(t)

	req := transfer.NewUploadRequest("alice", transfer.File{RemotePath: "/a.txt"}, transfer.UploadOptions{LocalPath: "/src/missing"})
	_, err := e.Upload(context.Background(), req, func(int) {})
	assert.Error(t, err)
}
