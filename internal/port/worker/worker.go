// Package worker defines the port for the specialized capabilities the
// intent router dispatches to.
package worker

import (
	"context"

	"github.com/spediresicuro/anne/internal/domain/acting"
	"github.com/spediresicuro/anne/internal/domain/guardrail"
	"github.com/spediresicuro/anne/internal/domain/intent"
)

// Worker handles one request under the effective acting identity.
// Side effects must be scoped to ac.Target() and ac.Workspace().
type Worker interface {
	Run(ctx context.Context, ac acting.Context, message string, session intent.SessionState) (guardrail.WorkerResult, error)
}

// Func adapts a function to Worker.
type Func func(ctx context.Context, ac acting.Context, message string, session intent.SessionState) (guardrail.WorkerResult, error)

// Run calls f.
func (f Func) Run(ctx context.Context, ac acting.Context, message string, session intent.SessionState) (guardrail.WorkerResult, error) {
	return f(ctx, ac, message, session)
}
