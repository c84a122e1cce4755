// Package auditstoretest provides a compliance suite for auditstore.Store
// implementations.
package auditstoretest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/spediresicuro/anne/internal/domain/audit"
	"github.com/spediresicuro/anne/internal/port/auditstore"
)

// RunComplianceTests runs the standard compliance suite against s.
// Every sub-test uses fresh trace IDs so the store need not be empty.
func RunComplianceTests(t *testing.T, s auditstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("InsertThenDuplicate", func(t *testing.T) {
		key, entry := fixture("ws-1", "res-1")
		inserted, err := s.InsertIfAbsent(ctx, key, entry)
		if err != nil {
			t.Fatal(err)
		}
		if !inserted {
			t.Fatal("expected first insert to write")
		}

		entry.ID = uuid.NewString()
		inserted, err = s.InsertIfAbsent(ctx, key, entry)
		if err != nil {
			t.Fatal(err)
		}
		if inserted {
			t.Fatal("expected duplicate insert to be skipped")
		}
	})

	t.Run("WorkspaceScoped", func(t *testing.T) {
		key, entry := fixture("ws-a", "res-1")
		if ok, err := s.InsertIfAbsent(ctx, key, entry); err != nil || !ok {
			t.Fatalf("insert ws-a: ok=%v err=%v", ok, err)
		}

		other := key
		other.WorkspaceID = "ws-b"
		entry.WorkspaceID = "ws-b"
		entry.ID = uuid.NewString()
		if ok, err := s.InsertIfAbsent(ctx, other, entry); err != nil || !ok {
			t.Fatalf("same trace in another workspace must write: ok=%v err=%v", ok, err)
		}
	})

	t.Run("DistinctResource", func(t *testing.T) {
		key, entry := fixture("ws-1", "res-1")
		if ok, err := s.InsertIfAbsent(ctx, key, entry); err != nil || !ok {
			t.Fatalf("insert: ok=%v err=%v", ok, err)
		}
		key.ResourceID = "res-2"
		entry.ResourceID = "res-2"
		entry.ID = uuid.NewString()
		if ok, err := s.InsertIfAbsent(ctx, key, entry); err != nil || !ok {
			t.Fatalf("distinct resource must write: ok=%v err=%v", ok, err)
		}
	})

	t.Run("ConcurrentDuplicates", func(t *testing.T) {
		key, entry := fixture("ws-1", "res-1")
		var (
			wg      sync.WaitGroup
			written atomic.Int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e := entry
				e.ID = uuid.NewString()
				ok, err := s.InsertIfAbsent(ctx, key, e)
				if err != nil {
					t.Error(err)
					return
				}
				if ok {
					written.Add(1)
				}
			}()
		}
		wg.Wait()
		if n := written.Load(); n != 1 {
			t.Fatalf("expected exactly one write, got %d", n)
		}
	})

	if l, ok := s.(auditstore.Lister); ok {
		t.Run("ListReturnsWorkspaceEntries", func(t *testing.T) {
			ws := "ws-list-" + uuid.NewString()
			key, entry := fixture(ws, "res-1")
			if _, err := s.InsertIfAbsent(ctx, key, entry); err != nil {
				t.Fatal(err)
			}
			got, err := l.List(ctx, ws)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 || got[0].TraceID != entry.TraceID {
				t.Fatalf("unexpected entries %+v", got)
			}
		})
	}
}

func fixture(workspaceID, resourceID string) (audit.Key, audit.Entry) {
	trace := uuid.NewString()
	entry := audit.Entry{
		ID:          uuid.NewString(),
		Action:      audit.ActionDelegationActivated,
		ActorID:     "op-1",
		TargetID:    "user-1",
		WorkspaceID: workspaceID,
		TraceID:     trace,
		ResourceID:  resourceID,
		Metadata:    map[string]any{"confidence": 0.95},
		CreatedAt:   time.Now().UTC(),
	}
	return entry.Key(), entry
}
