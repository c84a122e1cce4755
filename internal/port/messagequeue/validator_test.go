package messagequeue

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr string
	}{
		{
			name:    "routing decided",
			subject: SubjectRoutingDecided,
			data:    `{"trace_id":"t1","actor_id":"op","target_id":"u","workspace_id":"ws","next_step":"pricing","reason":"intent_matched","delegating":true,"duration_ms":12}`,
		},
		{
			name:    "audit written",
			subject: SubjectAuditWritten,
			data:    `{"id":"a1","action":"DELEGATION_ACTIVATED","trace_id":"t1","workspace_id":"ws","resource_id":"ws","created_at":"2026-01-02T10:00:00Z"}`,
		},
		{
			name:    "worker request",
			subject: WorkerSubject("", "pricing"),
			data:    `{"kind":"pricing","trace_id":"t1","message":"quanto costa","session":{"pending_pricing_options":0}}`,
		},
		{
			name:    "unknown subject passes",
			subject: "other.subject",
			data:    `{"foo":"bar"}`,
		},
		{
			name:    "invalid json",
			subject: SubjectRoutingDecided,
			data:    `{not json`,
			wantErr: "invalid JSON",
		},
		{
			name:    "wrong field type",
			subject: SubjectRoutingDecided,
			data:    `{"delegating":"yes"}`,
			wantErr: "schema validation failed",
		},
		{
			name:    "bad timestamp",
			subject: SubjectAuditWritten,
			data:    `{"created_at":"yesterday"}`,
			wantErr: "schema validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.subject, []byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestWorkerSubject(t *testing.T) {
	if got := WorkerSubject("", "shipment-creation"); got != "anne.workers.shipment-creation" {
		t.Errorf("unexpected subject %s", got)
	}
	if got := WorkerSubject("ops.workers", "crm"); got != "ops.workers.crm" {
		t.Errorf("unexpected subject %s", got)
	}
}
