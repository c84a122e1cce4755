package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	anneotel "github.com/spediresicuro/anne/internal/adapter/otel"
	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/domain/audit"
	"github.com/spediresicuro/anne/internal/port/auditstore"
	"github.com/spediresicuro/anne/internal/port/messagequeue"
)

// auditWriteTimeout bounds a single store write.
const auditWriteTimeout = 5 * time.Second

// AuditSink accepts audit entries on a best-effort basis. Emit never blocks
// and never reports failure to the caller.
type AuditSink interface {
	Emit(ctx context.Context, entry audit.Entry)
}

type pendingEntry struct {
	ctx   context.Context
	entry audit.Entry
}

// AuditEmitter is the asynchronous AuditSink. Entries are queued and written
// by a fixed pool of workers; a full queue drops the entry and counts it.
type AuditEmitter struct {
	store   auditstore.Store
	pub     messagequeue.Publisher
	log     *slog.Logger
	metrics *anneotel.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan pendingEntry
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAuditEmitter starts cfg.Workers writers. pub and metrics may be nil.
func NewAuditEmitter(store auditstore.Store, pub messagequeue.Publisher, cfg config.Audit, log *slog.Logger, metrics *anneotel.Metrics) *AuditEmitter {
	size, workers := cfg.QueueSize, cfg.Workers
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}

	e := &AuditEmitter{
		store:   store,
		pub:     pub,
		log:     log,
		metrics: metrics,
		queue:   make(chan pendingEntry, size),
	}
	e.wg.Add(workers)
	for range workers {
		go e.run()
	}
	return e
}

// Emit queues entry for writing. ID and CreatedAt are filled when empty.
func (e *AuditEmitter) Emit(ctx context.Context, entry audit.Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	ctx = context.WithoutCancel(ctx)

	if err := entry.Validate(); err != nil {
		e.drop(ctx, entry, "invalid", err)
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(ctx, entry, "closed", nil)
		return
	}
	select {
	case e.queue <- pendingEntry{ctx: ctx, entry: entry}:
	default:
		e.drop(ctx, entry, "queue_full", nil)
	}
}

// Close stops accepting entries and waits for queued ones to be written.
func (e *AuditEmitter) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()
		e.wg.Wait()
	})
}

func (e *AuditEmitter) run() {
	defer e.wg.Done()
	for p := range e.queue {
		e.write(p.ctx, p.entry)
	}
}

func (e *AuditEmitter) write(ctx context.Context, entry audit.Entry) {
	wctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()

	inserted, err := e.store.InsertIfAbsent(wctx, entry.Key(), entry)
	if err != nil {
		e.drop(ctx, entry, "store_error", err)
		return
	}

	result := "duplicate"
	if inserted {
		result = "inserted"
		e.log.InfoContext(ctx, "audit entry written",
			"action", entry.Action,
			"workspace_id", entry.WorkspaceID,
			"trace_id", entry.TraceID,
			"resource_id", entry.ResourceID,
		)
		e.publish(ctx, entry)
	} else {
		e.log.DebugContext(ctx, "audit entry already present",
			"action", entry.Action, "trace_id", entry.TraceID, "workspace_id", entry.WorkspaceID)
	}
	if e.metrics != nil {
		e.metrics.AuditWritten.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(entry.Action)),
			attribute.String("result", result),
		))
	}
}

func (e *AuditEmitter) publish(ctx context.Context, entry audit.Entry) {
	if e.pub == nil {
		return
	}
	data, err := json.Marshal(messagequeue.AuditWrittenPayload{
		ID:          entry.ID,
		Action:      string(entry.Action),
		ActorID:     entry.ActorID,
		TargetID:    entry.TargetID,
		WorkspaceID: entry.WorkspaceID,
		TraceID:     entry.TraceID,
		ResourceID:  entry.ResourceID,
		CreatedAt:   entry.CreatedAt,
	})
	if err != nil {
		e.log.WarnContext(ctx, "audit event encode failed", "error", err)
		return
	}
	if err := e.pub.Publish(ctx, messagequeue.SubjectAuditWritten, data); err != nil {
		e.log.WarnContext(ctx, "audit event publish failed", "error", err)
	}
}

func (e *AuditEmitter) drop(ctx context.Context, entry audit.Entry, reason string, err error) {
	attrs := []any{
		"reason", reason,
		"action", entry.Action,
		"workspace_id", entry.WorkspaceID,
		"trace_id", entry.TraceID,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	e.log.ErrorContext(ctx, "audit entry dropped", attrs...)
	if e.metrics != nil {
		e.metrics.AuditDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}
