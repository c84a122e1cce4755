// Package memory provides in-process implementations of the audit store and
// portfolio ports for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/spediresicuro/anne/internal/domain/audit"
)

// AuditStore keeps audit entries in a map keyed by audit.Key.
type AuditStore struct {
	mu      sync.Mutex
	entries map[audit.Key]audit.Entry
}

// NewAuditStore returns an empty store.
func NewAuditStore() *AuditStore {
	return &AuditStore{entries: make(map[audit.Key]audit.Entry)}
}

// InsertIfAbsent stores entry unless key is already present.
func (s *AuditStore) InsertIfAbsent(_ context.Context, key audit.Key, entry audit.Entry) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = entry
	return true, nil
}

// List returns the entries of a workspace ordered by creation time.
func (s *AuditStore) List(_ context.Context, workspaceID string) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.WorkspaceID == workspaceID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// All returns every entry, for tests.
func (s *AuditStore) All() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
