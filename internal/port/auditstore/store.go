// Package auditstore defines the append-only audit store port.
package auditstore

import (
	"context"

	"github.com/spediresicuro/anne/internal/domain/audit"
)

// Store persists audit entries at most once per key.
type Store interface {
	// InsertIfAbsent writes entry unless an entry with key already exists.
	// It reports whether a write happened. A duplicate is not an error.
	InsertIfAbsent(ctx context.Context, key audit.Key, entry audit.Entry) (bool, error)
}

// Lister is implemented by stores that can return what they hold, for
// tests and the admin surface.
type Lister interface {
	List(ctx context.Context, workspaceID string) ([]audit.Entry, error)
}
