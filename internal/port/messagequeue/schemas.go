package messagequeue

import (
	"time"

	"github.com/spediresicuro/anne/internal/domain/acting"
	"github.com/spediresicuro/anne/internal/domain/guardrail"
	"github.com/spediresicuro/anne/internal/domain/intent"
)

// RoutingDecidedPayload is the schema for anne.routing.decided messages.
// It never carries message text.
type RoutingDecidedPayload struct {
	TraceID       string `json:"trace_id"`
	ActorID       string `json:"actor_id"`
	TargetID      string `json:"target_id"`
	WorkspaceID   string `json:"workspace_id"`
	NextStep      string `json:"next_step"`
	Reason        string `json:"reason"`
	MatchedIntent string `json:"matched_intent,omitempty"`
	Delegating    bool   `json:"delegating"`
	GuardrailMode string `json:"guardrail_mode,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
}

// AuditWrittenPayload is the schema for anne.audit.written messages.
type AuditWrittenPayload struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	ActorID     string    `json:"actor_id"`
	TargetID    string    `json:"target_id"`
	WorkspaceID string    `json:"workspace_id"`
	TraceID     string    `json:"trace_id"`
	ResourceID  string    `json:"resource_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// WorkerRequestPayload is sent on anne.workers.{kind}.
type WorkerRequestPayload struct {
	Kind          string              `json:"kind"`
	TraceID       string              `json:"trace_id"`
	ActingContext acting.Snapshot     `json:"acting_context"`
	Message       string              `json:"message"`
	Session       intent.SessionState `json:"session"`
}

// WorkerReplyPayload is the reply to a WorkerRequestPayload. A non-empty
// Error means the worker failed.
type WorkerReplyPayload struct {
	Result guardrail.WorkerResult `json:"result"`
	Error  string                 `json:"error,omitempty"`
}
