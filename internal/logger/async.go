package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// asyncQueue is shared by an AsyncHandler and every handler derived from it.
type asyncQueue struct {
	ch      chan queued
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	dropped atomic.Int64
}

type queued struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler moves record formatting and I/O off the request path.
// Records are queued on a bounded channel; when it is full the record is
// dropped and counted rather than blocking the caller.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and worker count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	if workers < 1 {
		workers = 1
	}
	q := &asyncQueue{ch: make(chan queued, chanSize)}
	for range workers {
		q.wg.Add(1)
		go q.drain()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (q *asyncQueue) drain() {
	defer q.wg.Done()
	for item := range q.ch {
		_ = item.h.Handle(context.Background(), item.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Drops if the channel is full or the handler is closed.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.q.mu.RLock()
	defer h.q.mu.RUnlock()
	if h.q.closed {
		h.q.dropped.Add(1)
		return nil
	}
	select {
	case h.q.ch <- queued{h: h.inner, rec: rec.Clone()}:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same queue with a derived inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

// WithGroup returns a handler sharing the same queue with a derived inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close stops accepting records and waits for the workers to drain the
// queue. It is safe to call more than once.
func (h *AsyncHandler) Close() {
	h.q.once.Do(func() {
		h.q.mu.Lock()
		h.q.closed = true
		close(h.q.ch)
		h.q.mu.Unlock()
		h.q.wg.Wait()
	})
}
