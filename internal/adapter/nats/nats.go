// Package nats implements the message queue port using NATS: JetStream for
// routing and audit events, core request-reply for remote workers.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/logger"
	"github.com/spediresicuro/anne/internal/port/messagequeue"
)

// headerTraceID carries the trace id across the broker.
const headerTraceID = "X-Trace-ID"

// streamSubjects are captured by JetStream. Worker subjects stay on core
// NATS: a stream on them would answer requests with publish acks.
var streamSubjects = []string{"anne.routing.>", "anne.audit.>"}

// Queue implements messagequeue.Queue.
type Queue struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	log *slog.Logger
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, cfg config.NATS, log *slog.Logger) (*Queue, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("anne"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: streamSubjects,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", cfg.URL, "stream", cfg.Stream)
	return &Queue{nc: nc, js: js, log: log}, nil
}

// JetStream exposes the JetStream context for KV-backed stores.
func (q *Queue) JetStream() jetstream.JetStream { return q.js }

// Publish validates data against the subject schema and sends it to JetStream.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: traceHeader(ctx)}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Request sends data on subject and waits up to timeout for one reply.
func (q *Queue) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if err := messagequeue.Validate(subject, data); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := &nats.Msg{Subject: subject, Data: data, Header: traceHeader(ctx)}
	reply, err := q.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("nats request %s: no worker listening: %w", subject, err)
		}
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return reply.Data, nil
}

// Handler answers one request. The returned bytes are sent as the reply.
type Handler func(ctx context.Context, data []byte) []byte

// Serve answers requests on subject within a queue group, so several
// processes can share the load. The returned func unsubscribes.
func (q *Queue) Serve(subject, group string, h Handler) (func(), error) {
	sub, err := q.nc.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		ctx := context.Background()
		if msg.Header != nil {
			if id := msg.Header.Get(headerTraceID); id != "" {
				ctx = logger.WithTraceID(ctx, id)
			}
		}
		if err := msg.Respond(h(ctx, msg.Data)); err != nil {
			q.log.ErrorContext(ctx, "nats respond failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Drain gracefully drains the connection before closing.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

func traceHeader(ctx context.Context) nats.Header {
	h := nats.Header{}
	if id := logger.TraceID(ctx); id != "" {
		h.Set(headerTraceID, id)
	}
	return h
}
