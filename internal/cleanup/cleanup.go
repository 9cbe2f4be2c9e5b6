// Package cleanup manages local copies once the remote holds the data: the
// post-upload local action and the retention of downloaded files.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/transfer"
)

// LocalActionExecutor applies the request's LocalAction to the local source
// after every successful upload. Downloads pass through untouched.
type LocalActionExecutor struct {
	next    transfer.Executor
	fs      afero.Fs
	dataDir string
}

// NewLocalActionExecutor wraps next. Copies and moves land under dataDir at the remote path.
func NewLocalActionExecutor(next transfer.Executor, fs afero.Fs, dataDir string) *LocalActionExecutor {
	return &LocalActionExecutor{next: next, fs: fs, dataDir: dataDir}
}

// Download delegates to the wrapped executor.
func (e *LocalActionExecutor) Download(ctx context.Context, req transfer.Request, onProgress transfer.ProgressFunc) (transfer.File, error) {
	return e.next.Download(ctx, req, onProgress)
}

// Upload delegates and then handles the local source. A failing local action
// is logged and does not fail an upload that already reached the remote.
func (e *LocalActionExecutor) Upload(ctx context.Context, req transfer.Request, onProgress transfer.ProgressFunc) (transfer.File, error) {
	f, err := e.next.Upload(ctx, req, onProgress)
	if err != nil {
		return f, err
	}

	logger := logctx.LoggerFromContext(ctx).With("local_path", req.Upload.LocalPath, "local_action", req.Upload.LocalAction)

	localPath, err := e.apply(req.Upload.LocalAction, req.Upload.LocalPath, f.RemotePath)
	if err != nil {
		logger.ErrorContext(ctx, "failed to apply local action", "err", err)

		return f, nil
	}

	logger.DebugContext(ctx, "applied local action", "new_local_path", localPath)

	f.LocalPath = localPath

	return f, nil
}

func (e *LocalActionExecutor) apply(action transfer.LocalAction, src, remotePath string) (string, error) {
	target := filepath.Join(e.dataDir, filepath.FromSlash(path.Clean("/"+remotePath)))

	switch action {
	case transfer.LocalCopy:
		if err := copyFile(e.fs, src, target); err != nil {
			return src, err
		}

		return target, nil
	case transfer.LocalMove:
		if err := moveFile(e.fs, src, target); err != nil {
			return src, err
		}

		return target, nil
	case transfer.LocalDelete:
		if err := e.fs.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
			return src, fmt.Errorf("failed to delete local file: %w", err)
		}

		return "", nil
	default:
		return src, nil
	}
}

func copyFile(fs afero.Fs, src, dst string) error {
	if src == dst {
		return nil
	}

	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	out, err := fs.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return fmt.Errorf("failed to copy file: %w", err)
	}

	return out.Close()
}

// moveFile renames when possible and falls back to copy and remove across devices.
func moveFile(fs afero.Fs, src, dst string) error {
	if src == dst {
		return nil
	}

	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	if err := fs.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyFile(fs, src, dst); err != nil {
		return err
	}

	return fs.Remove(src)
}

// DeleteExpiredFiles removes local copies of owner's files synced longer than
// keepDuration ago. Only files under dataDir are touched; an upload source the
// user kept stays where it is. The records stay with an empty local path.
func DeleteExpiredFiles(ctx context.Context, fs afero.Fs, repo storage.FileRepository, owner, dataDir string, keepDuration time.Duration, now time.Time) error {
	logger := logctx.LoggerFromContext(ctx).With("owner", owner)

	files, err := repo.ListFiles(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	for _, f := range files {
		if f.LocalPath == "" || !within(dataDir, f.LocalPath) {
			continue
		}

		syncedAt := f.LastSyncedAt
		if syncedAt.IsZero() {
			info, err := fs.Stat(f.LocalPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}

				logger.ErrorContext(ctx, "failed to stat file", "file", f.LocalPath, "err", err)

				return err
			}

			logger.WarnContext(ctx, "file has no sync time, using file mod time", "file", f.LocalPath)

			syncedAt = info.ModTime()
		}

		if now.Sub(syncedAt) <= keepDuration {
			continue
		}

		if err := fs.Remove(f.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.ErrorContext(ctx, "failed to delete expired file", "file", f.LocalPath, "err", err)

			return err
		}

		f.LocalPath = ""
		if err := repo.SaveFile(ctx, owner, f); err != nil {
			return fmt.Errorf("failed to update file record: %w", err)
		}

		logger.InfoContext(ctx, "deleted expired file", "remote_path", f.RemotePath)
	}

	return nil
}

func within(dir, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(p))
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
