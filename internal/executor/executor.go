// Package executor holds the pieces shared by the remote transfer executors:
// streaming into an afero filesystem with progress, collision resolution and
// local target resolution.
package executor

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/italolelis/syncbox/internal/executor/progress"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	sniffLen = 512
)

// Written describes the bytes streamed by WriteFile.
type Written struct {
	Bytes    int64
	Checksum string
	MimeType string
}

// WriteFile streams r into name on fsys, creating parent directories.
// Data goes to a ".part" sibling and is renamed into place once complete.
func WriteFile(ctx context.Context, fsys afero.Fs, name string, r io.Reader, length int64, onProgress transfer.ProgressFunc) (Written, error) {
	logger := logctx.LoggerFromContext(ctx).With("target", name)

	if err := fsys.MkdirAll(filepath.Dir(name), dirPerm); err != nil {
		return Written{}, fmt.Errorf("failed to create target directory: %w", err)
	}

	tmp := name + ".part"

	out, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return Written{}, fmt.Errorf("failed to create target file: %w", err)
	}

	logger.DebugContext(ctx, "writing file", "file_size", humanize.Bytes(uint64(max(length, 0))))

	sum := crc32.NewIEEE()
	head := &headBuffer{limit: sniffLen}
	pr := progress.NewReader(ctx, r, length, onProgress)

	n, copyErr := io.Copy(out, io.TeeReader(pr, io.MultiWriter(sum, head)))

	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		_ = fsys.Remove(tmp)

		return Written{}, fmt.Errorf("failed to copy file: %w", copyErr)
	}

	if err := fsys.Rename(tmp, name); err != nil {
		_ = fsys.Remove(tmp)

		return Written{}, fmt.Errorf("failed to move file into place: %w", err)
	}

	logger.DebugContext(ctx, "file written", "written", humanize.Bytes(uint64(n)))

	return Written{
		Bytes:    n,
		Checksum: hex.EncodeToString(sum.Sum(nil)),
		MimeType: mimetype.Detect(head.buf).String(),
	}, nil
}

// LocalTarget is where a download lands: the request's local path when given,
// otherwise the remote path mirrored under dataDir.
func LocalTarget(dataDir string, req transfer.Request) string {
	if req.File.LocalPath != "" {
		return req.File.LocalPath
	}

	return filepath.Join(dataDir, filepath.FromSlash(path.Clean("/"+req.File.RemotePath)))
}

// headBuffer keeps the first limit bytes written to it for content sniffing.
type headBuffer struct {
	buf   []byte
	limit int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		h.buf = append(h.buf, p[:min(room, len(p))]...)
	}

	return len(p), nil
}
