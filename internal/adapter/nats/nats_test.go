package nats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/domain/acting"
	"github.com/spediresicuro/anne/internal/domain/guardrail"
	"github.com/spediresicuro/anne/internal/domain/intent"
	"github.com/spediresicuro/anne/internal/logger"
	"github.com/spediresicuro/anne/internal/port/messagequeue"
	"github.com/spediresicuro/anne/internal/port/worker"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), config.NATS{URL: url, Stream: "ANNE_TEST"}, discard())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

func delegatedContext(t *testing.T) acting.Context {
	t.Helper()
	ac, err := acting.New(
		acting.Actor{ID: "op-reseller", Role: acting.RoleReseller},
		acting.Workspace{ID: "ws-reseller"},
	)
	if err != nil {
		t.Fatal(err)
	}
	return ac.WithDelegation(
		acting.Principal{ID: "user-mario", DisplayName: "Mario Rossi", Role: acting.RoleUser},
		acting.Workspace{ID: "ws-mario", Name: "Rossi Spedizioni"},
		acting.ReasonOnBehalfOf,
	)
}

// loopback answers requests in-process with handleWorkerRequest.
type loopback struct {
	w       worker.Worker
	subject string
}

func (l *loopback) Request(ctx context.Context, subject string, data []byte, _ time.Duration) ([]byte, error) {
	l.subject = subject
	if err := messagequeue.Validate(subject, data); err != nil {
		return nil, err
	}
	return handleWorkerRequest(ctx, discard(), l.w, data), nil
}

func TestRemoteWorker_RoundTrip(t *testing.T) {
	var got acting.Context
	var gotTrace string
	lb := &loopback{w: worker.Func(func(ctx context.Context, ac acting.Context, msg string, s intent.SessionState) (guardrail.WorkerResult, error) {
		got, gotTrace = ac, logger.TraceID(ctx)
		return guardrail.WorkerResult{ConfidenceScore: 91, ActionCategory: guardrail.CategorySafeReversible, Reply: msg}, nil
	})}

	rw := NewRemoteWorker(lb, "", intent.KindPricing, time.Second)
	ctx := logger.WithTraceID(context.Background(), "trace-1")
	res, err := rw.Run(ctx, delegatedContext(t), "quanto costa?", intent.SessionState{PendingPricingOptions: 1})
	if err != nil {
		t.Fatal(err)
	}
	if lb.subject != "anne.workers.pricing" {
		t.Errorf("subject = %q", lb.subject)
	}
	if res.ConfidenceScore != 91 || res.Reply != "quanto costa?" {
		t.Errorf("unexpected result %+v", res)
	}
	if !got.IsDelegating() || got.Workspace().ID != "ws-mario" || got.Actor().ID != "op-reseller" {
		t.Errorf("acting context lost in transit: %+v", got.Snapshot())
	}
	if gotTrace != "trace-1" {
		t.Errorf("trace id = %q", gotTrace)
	}
}

func TestRemoteWorker_PropagatesWorkerError(t *testing.T) {
	lb := &loopback{w: worker.Func(func(context.Context, acting.Context, string, intent.SessionState) (guardrail.WorkerResult, error) {
		return guardrail.WorkerResult{}, errors.New("listino non disponibile")
	})}
	rw := NewRemoteWorker(lb, "anne.workers", intent.KindPricing, time.Second)
	if _, err := rw.Run(context.Background(), delegatedContext(t), "x", intent.SessionState{}); err == nil {
		t.Fatal("expected worker error")
	}
}

func TestHandleWorkerRequest_RejectsBadPayload(t *testing.T) {
	out := handleWorkerRequest(context.Background(), discard(), nil, []byte(`{"acting_context":{}}`))
	var reply messagequeue.WorkerReplyPayload
	if err := json.Unmarshal(out, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Error == "" {
		t.Error("expected an error for a missing actor")
	}
}

func TestQueue_PublishLandsInStream(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	data, err := json.Marshal(messagequeue.RoutingDecidedPayload{TraceID: "t-" + t.Name(), NextStep: "END"})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Publish(logger.WithTraceID(ctx, "t-1"), messagequeue.SubjectRoutingDecided, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	consumer, err := q.js.CreateOrUpdateConsumer(ctx, "ANNE_TEST", jetstream.ConsumerConfig{
		FilterSubject: messagequeue.SubjectRoutingDecided,
		DeliverPolicy: jetstream.DeliverLastPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := consumer.Next(jetstream.FetchMaxWait(5 * time.Second))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if msg.Headers().Get(headerTraceID) != "t-1" {
		t.Errorf("trace header = %q", msg.Headers().Get(headerTraceID))
	}
	_ = msg.Ack()
}

func TestQueue_PublishRejectsInvalidPayload(t *testing.T) {
	q := testConnect(t)
	if err := q.Publish(context.Background(), messagequeue.SubjectRoutingDecided, []byte(`not json`)); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestQueue_ServeWorker(t *testing.T) {
	q := testConnect(t)
	prefix := "anne.workers.test" + time.Now().Format("150405")

	var mu sync.Mutex
	calls := 0
	stop, err := q.ServeWorker(prefix, intent.KindCRM, worker.Func(func(context.Context, acting.Context, string, intent.SessionState) (guardrail.WorkerResult, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return guardrail.WorkerResult{ConfidenceScore: 75, ActionCategory: guardrail.CategorySafeReversible}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	rw := NewRemoteWorker(q, prefix, intent.KindCRM, 5*time.Second)
	res, err := rw.Run(context.Background(), delegatedContext(t), "pipeline clienti", intent.SessionState{})
	if err != nil {
		t.Fatal(err)
	}
	if res.ConfidenceScore != 75 {
		t.Errorf("unexpected result %+v", res)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}
}

func TestQueue_RequestWithoutResponders(t *testing.T) {
	q := testConnect(t)
	rw := NewRemoteWorker(q, "anne.workers.nobody", intent.KindOCR, time.Second)
	if _, err := rw.Run(context.Background(), delegatedContext(t), "x", intent.SessionState{}); err == nil {
		t.Fatal("expected an error without responders")
	}
}
