// Package fsmirror executes transfers against a directory tree, typically a
// mounted network share or a synced folder, through afero filesystems.
package fsmirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/spf13/afero"

	"github.com/italolelis/syncbox/internal/executor"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

// Executor mirrors files between a local and a remote afero filesystem.
// Remote paths are slash separated and rooted at the remote filesystem.
type Executor struct {
	local   afero.Fs
	remote  afero.Fs
	dataDir string
}

// New creates an Executor. Downloads without a local path land under dataDir.
func New(local, remote afero.Fs, dataDir string) *Executor {
	return &Executor{local: local, remote: remote, dataDir: dataDir}
}

// NewOS mirrors remoteDir on the host filesystem.
func NewOS(remoteDir, dataDir string) *Executor {
	osFs := afero.NewOsFs()

	return New(osFs, afero.NewBasePathFs(osFs, remoteDir), dataDir)
}

// Download copies the remote file to the local target.
func (e *Executor) Download(ctx context.Context, req transfer.Request, onProgress transfer.ProgressFunc) (transfer.File, error) {
	remotePath := path.Clean("/" + req.File.RemotePath)

	info, err := e.remote.Stat(remotePath)
	if err != nil {
		return transfer.File{}, e.remoteError("download", remotePath, err)
	}

	if info.IsDir() {
		return transfer.File{}, &transfer.InvalidContentError{Filename: remotePath, Reason: "is a directory"}
	}

	src, err := e.remote.Open(remotePath)
	if err != nil {
		return transfer.File{}, e.remoteError("download", remotePath, err)
	}
	defer src.Close()

	onProgress(0)

	target := executor.LocalTarget(e.dataDir, req)

	written, err := executor.WriteFile(ctx, e.local, target, src, info.Size(), onProgress)
	if err != nil {
		return transfer.File{}, err
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "downloaded file", "remote_path", remotePath, "target", target)

	return transfer.File{
		RemotePath: remotePath,
		RemoteID:   remotePath,
		LocalPath:  target,
		Length:     written.Bytes,
		MimeType:   written.MimeType,
		Checksum:   written.Checksum,
		ModifiedAt: info.ModTime(),
	}, nil
}

// Upload copies the local source to the remote path, honouring the collision
// policy and the create-parents flag.
func (e *Executor) Upload(ctx context.Context, req transfer.Request, onProgress transfer.ProgressFunc) (transfer.File, error) {
	remotePath := path.Clean("/" + req.File.RemotePath)

	src, err := e.local.Open(req.Upload.LocalPath)
	if err != nil {
		return transfer.File{}, fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return transfer.File{}, fmt.Errorf("failed to stat local file: %w", err)
	}

	if err := e.ensureParent(path.Dir(remotePath), req.Upload.CreateParents); err != nil {
		return transfer.File{}, err
	}

	res, err := executor.ResolveCollision(ctx, req.Upload.Collision, remotePath, e.exists)
	if err != nil {
		return transfer.File{}, err
	}

	onProgress(0)

	written, err := executor.WriteFile(ctx, e.remote, res.RemotePath, src, info.Size(), onProgress)
	if err != nil {
		return transfer.File{}, &transfer.NetworkError{Operation: "upload", APIMessage: err.Error(), Err: err}
	}

	remoteInfo, err := e.remote.Stat(res.RemotePath)
	if err != nil {
		return transfer.File{}, e.remoteError("upload", res.RemotePath, err)
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "uploaded file", "remote_path", res.RemotePath, "replaced", res.Replace)

	return transfer.File{
		RemotePath: res.RemotePath,
		RemoteID:   res.RemotePath,
		LocalPath:  req.Upload.LocalPath,
		Length:     written.Bytes,
		MimeType:   written.MimeType,
		Checksum:   written.Checksum,
		ModifiedAt: remoteInfo.ModTime(),
	}, nil
}

func (e *Executor) ensureParent(dir string, create bool) error {
	info, err := e.remote.Stat(dir)

	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return &transfer.DirectoryError{DirectoryName: dir, Reason: "not a directory"}
	case !errors.Is(err, fs.ErrNotExist):
		return &transfer.DirectoryError{DirectoryName: dir, Reason: "inaccessible", Err: err}
	case !create:
		return &transfer.DirectoryError{DirectoryName: dir, Reason: "directory not found", Err: err}
	}

	if err := e.remote.MkdirAll(dir, 0o755); err != nil {
		return &transfer.DirectoryError{DirectoryName: dir, Reason: "failed to create", Err: err}
	}

	return nil
}

func (e *Executor) exists(_ context.Context, remotePath string) (bool, error) {
	return afero.Exists(e.remote, remotePath)
}

func (e *Executor) remoteError(op, remotePath string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &transfer.InvalidContentError{Filename: remotePath, Reason: "not found on remote", Err: err}
	}

	return &transfer.NetworkError{Operation: op, APIMessage: err.Error(), Err: err}
}
