package logctx

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotating log file. An empty Path disables it.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewHandler builds the process log handler: JSON to stdout and, when a file path
// is configured, JSON to a rotating file as well. Trace ids are injected on both.
// The returned closer flushes and closes the log file; it is a no-op without one.
func NewHandler(level slog.Leveler, file FileOptions) (slog.Handler, io.Closer) {
	opts := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{slog.NewJSONHandler(os.Stdout, opts)}

	var closer io.Closer = nopCloser{}

	if file.Path != "" {
		rotating := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   true,
		}

		handlers = append(handlers, slog.NewJSONHandler(rotating, opts))
		closer = rotating
	}

	return NewTraceHandler(slogmulti.Fanout(handlers...)), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
