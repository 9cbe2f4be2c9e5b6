package progress

import (
	"context"
	"errors"
	"io"

	"github.com/italolelis/syncbox/internal/transfer"
)

// ErrNotSeekable is returned by Seek when the wrapped reader cannot seek.
var ErrNotSeekable = errors.New("progress: underlying reader cannot seek")

// Reader wraps an io.Reader and reports completion percentages via a callback.
// A percentage is reported only when it grows, so callers see a monotonic sequence.
// Reads fail with the context error once ctx is cancelled.
type Reader struct {
	ctx        context.Context
	reader     io.Reader
	total      int64
	onProgress transfer.ProgressFunc
	totalRead  int64
	lastReport int
}

// NewReader reports progress of reading total bytes from r. A non-positive total disables reporting.
func NewReader(ctx context.Context, r io.Reader, total int64, onProgress transfer.ProgressFunc) *Reader {
	return &Reader{
		ctx:        ctx,
		reader:     r,
		total:      total,
		onProgress: onProgress,
		lastReport: -1,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.report()
	}

	return n, err
}

// Seek moves the wrapped reader when it is an io.Seeker, so signers and retries
// can rewind the body. The byte count follows the new offset; reported
// percentages never go back.
func (pr *Reader) Seek(offset int64, whence int) (int64, error) {
	s, ok := pr.reader.(io.Seeker)
	if !ok {
		return 0, ErrNotSeekable
	}

	pos, err := s.Seek(offset, whence)
	if err != nil {
		return pos, err
	}

	pr.totalRead = pos

	return pos, nil
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}

func (pr *Reader) report() {
	if pr.total <= 0 || pr.onProgress == nil {
		return
	}

	percent := int(pr.totalRead * 100 / pr.total)
	if percent > 100 {
		percent = 100
	}

	if percent > pr.lastReport {
		pr.lastReport = percent
		pr.onProgress(percent)
	}
}
