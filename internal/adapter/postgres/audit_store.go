package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spediresicuro/anne/internal/domain/audit"
)

// AuditStore implements auditstore.Store on the audit_logs table. The
// idempotency key is enforced by the audit_logs_idempotency constraint.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore backed by pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// InsertIfAbsent writes entry unless its key exists. The row is derived from
// entry, whose Key() equals key for every caller in this module.
func (s *AuditStore) InsertIfAbsent(ctx context.Context, key audit.Key, entry audit.Entry) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, err
	}
	meta, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, action, actor_id, target_id, workspace_id, trace_id, resource_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT ON CONSTRAINT audit_logs_idempotency DO NOTHING`,
		entry.ID, string(key.Action), entry.ActorID, entry.TargetID,
		key.WorkspaceID, key.TraceID, key.ResourceID, meta, entry.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert audit entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List returns the entries of a workspace ordered by creation time.
func (s *AuditStore) List(ctx context.Context, workspaceID string) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, action, actor_id, target_id, workspace_id, trace_id, resource_id, metadata, created_at
		 FROM audit_logs WHERE workspace_id = $1 ORDER BY created_at, id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAuditEntry(row scannable) (audit.Entry, error) {
	var (
		e      audit.Entry
		action string
		meta   []byte
	)
	if err := row.Scan(&e.ID, &action, &e.ActorID, &e.TargetID, &e.WorkspaceID, &e.TraceID, &e.ResourceID, &meta, &e.CreatedAt); err != nil {
		return audit.Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.Action = audit.Action(action)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return audit.Entry{}, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
	}
	return e, nil
}
