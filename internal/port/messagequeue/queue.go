// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"
	"time"
)

// Publisher sends events. Publishing is best effort for every caller in
// this service: failures are logged, never propagated to the user.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Requester performs a request-reply exchange.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)
}

// Queue is the port interface for the message broker connection.
type Queue interface {
	Publisher
	Requester

	// Drain gracefully drains the connection before closing.
	Drain() error

	// Close shuts down the connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects used by the decision layer.
const (
	SubjectRoutingDecided = "anne.routing.decided"
	SubjectAuditWritten   = "anne.audit.written"
	SubjectWorkersPrefix  = "anne.workers" // anne.workers.{kind}, request-reply
)

// WorkerSubject returns the request subject for a worker kind.
func WorkerSubject(prefix, kind string) string {
	if prefix == "" {
		prefix = SubjectWorkersPrefix
	}
	return prefix + "." + kind
}
