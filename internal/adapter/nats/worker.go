package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spediresicuro/anne/internal/domain/acting"
	"github.com/spediresicuro/anne/internal/domain/guardrail"
	"github.com/spediresicuro/anne/internal/domain/intent"
	"github.com/spediresicuro/anne/internal/logger"
	"github.com/spediresicuro/anne/internal/port/messagequeue"
	"github.com/spediresicuro/anne/internal/port/worker"
)

// workerGroup is the queue group shared by worker processes.
const workerGroup = "anne-workers"

// RemoteWorker implements worker.Worker over request-reply.
type RemoteWorker struct {
	req     messagequeue.Requester
	kind    intent.WorkerKind
	subject string
	timeout time.Duration
}

// NewRemoteWorker creates a worker that forwards to {prefix}.{kind}.
func NewRemoteWorker(req messagequeue.Requester, prefix string, kind intent.WorkerKind, timeout time.Duration) *RemoteWorker {
	return &RemoteWorker{
		req:     req,
		kind:    kind,
		subject: messagequeue.WorkerSubject(prefix, string(kind)),
		timeout: timeout,
	}
}

// Run sends the request and decodes the worker's result.
func (w *RemoteWorker) Run(ctx context.Context, ac acting.Context, message string, session intent.SessionState) (guardrail.WorkerResult, error) {
	data, err := json.Marshal(messagequeue.WorkerRequestPayload{
		Kind:          string(w.kind),
		TraceID:       logger.TraceID(ctx),
		ActingContext: ac.Snapshot(),
		Message:       message,
		Session:       session,
	})
	if err != nil {
		return guardrail.WorkerResult{}, fmt.Errorf("encode worker request: %w", err)
	}

	raw, err := w.req.Request(ctx, w.subject, data, w.timeout)
	if err != nil {
		return guardrail.WorkerResult{}, err
	}

	var reply messagequeue.WorkerReplyPayload
	if err := json.Unmarshal(raw, &reply); err != nil {
		return guardrail.WorkerResult{}, fmt.Errorf("decode worker reply: %w", err)
	}
	if reply.Error != "" {
		return guardrail.WorkerResult{}, fmt.Errorf("worker %s: %s", w.kind, reply.Error)
	}
	return reply.Result, nil
}

// ServeWorker exposes a local worker on {prefix}.{kind}. It is the
// counterpart of RemoteWorker for processes hosting worker logic.
func (q *Queue) ServeWorker(prefix string, kind intent.WorkerKind, w worker.Worker) (func(), error) {
	subject := messagequeue.WorkerSubject(prefix, string(kind))
	return q.Serve(subject, workerGroup, func(ctx context.Context, data []byte) []byte {
		return handleWorkerRequest(ctx, q.log, w, data)
	})
}

func handleWorkerRequest(ctx context.Context, log *slog.Logger, w worker.Worker, data []byte) []byte {
	reply := func(res guardrail.WorkerResult, err error) []byte {
		p := messagequeue.WorkerReplyPayload{Result: res}
		if err != nil {
			p.Error = err.Error()
		}
		out, mErr := json.Marshal(p)
		if mErr != nil {
			log.ErrorContext(ctx, "encode worker reply", "error", mErr)
			return []byte(`{"error":"encode reply"}`)
		}
		return out
	}

	var req messagequeue.WorkerRequestPayload
	if err := json.Unmarshal(data, &req); err != nil {
		return reply(guardrail.WorkerResult{}, fmt.Errorf("decode request: %w", err))
	}
	ac, err := acting.FromSnapshot(req.ActingContext)
	if err != nil {
		return reply(guardrail.WorkerResult{}, err)
	}
	if req.TraceID != "" {
		ctx = logger.WithTraceID(ctx, req.TraceID)
	}
	if w == nil {
		return reply(guardrail.WorkerResult{}, errors.New("no worker"))
	}
	return reply(w.Run(ctx, ac, req.Message, req.Session))
}
