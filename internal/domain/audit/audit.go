// Package audit defines identity-aware audit entries for delegation
// activations and other safety-relevant decisions.
package audit

import (
	"fmt"
	"time"

	"github.com/spediresicuro/anne/internal/domain"
)

// Action names an audited decision.
type Action string

const (
	ActionDelegationActivated   Action = "DELEGATION_ACTIVATED"
	ActionDelegationDeactivated Action = "DELEGATION_DEACTIVATED"
	ActionGuardrailAutoProceed  Action = "GUARDRAIL_AUTO_PROCEED"
)

// metadataTextLimit caps free text copied into metadata.
const metadataTextLimit = 200

// Entry is one audit record. It is written at most once per Key.
type Entry struct {
	ID          string         `json:"id"`
	Action      Action         `json:"action"`
	ActorID     string         `json:"actor_id"`
	TargetID    string         `json:"target_id"`
	WorkspaceID string         `json:"workspace_id"`
	TraceID     string         `json:"trace_id"`
	ResourceID  string         `json:"resource_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Key identifies an entry for idempotency. It is scoped to the workspace
// the entry belongs to.
type Key struct {
	WorkspaceID string
	TraceID     string
	ResourceID  string
	Action      Action
}

// Key derives the idempotency key of e.
func (e Entry) Key() Key {
	return Key{WorkspaceID: e.WorkspaceID, TraceID: e.TraceID, ResourceID: e.ResourceID, Action: e.Action}
}

// String renders the key in a form usable as a KV or cache key.
func (k Key) String() string {
	return fmt.Sprintf("%s.%s.%s.%s", k.WorkspaceID, k.TraceID, k.ResourceID, k.Action)
}

// Validate checks the fields every store relies on.
func (e Entry) Validate() error {
	switch {
	case e.Action == "":
		return fmt.Errorf("audit entry: action is required: %w", domain.ErrValidation)
	case e.TraceID == "":
		return fmt.Errorf("audit entry: trace id is required: %w", domain.ErrValidation)
	case e.WorkspaceID == "":
		return fmt.Errorf("audit entry: workspace id is required: %w", domain.ErrValidation)
	case e.ResourceID == "":
		return fmt.Errorf("audit entry: resource id is required: %w", domain.ErrValidation)
	}
	return nil
}

// Truncate shortens s to the metadata text limit on a rune boundary.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= metadataTextLimit {
		return s
	}
	return string(r[:metadataTextLimit])
}
