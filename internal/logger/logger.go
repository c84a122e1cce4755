// Package logger provides structured logging setup for Anne.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spediresicuro/anne/internal/config"
)

// asyncWorkers is the number of goroutines draining the async log queue.
const asyncWorkers = 2

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
// The returned Closer flushes the async queue and is a no-op in sync mode.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.Logging, w io.Writer) (*slog.Logger, Closer) {
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		size := cfg.AsyncSize
		if size <= 0 {
			size = 10000
		}
		ah := NewAsyncHandler(handler, size, asyncWorkers)
		handler, closer = ah, ah
	}

	return slog.New(&ContextHandler{inner: handler}).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
