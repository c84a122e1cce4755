// Package natskv implements the audit store port on a NATS JetStream
// KeyValue bucket. Create is atomic per key, which gives insert-if-absent.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/spediresicuro/anne/internal/domain/audit"
)

var enc = base64.RawURLEncoding

// AuditStore wraps a KeyValue bucket. Keys are {workspace}.{rest}, each
// part base64url-encoded so arbitrary ids fit the KV key alphabet.
type AuditStore struct {
	kv jetstream.KeyValue
}

// New wraps an existing bucket.
func New(kv jetstream.KeyValue) *AuditStore {
	return &AuditStore{kv: kv}
}

// Open creates or updates bucket and wraps it. Entries expire after ttl;
// zero keeps them forever.
func Open(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*AuditStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "anne audit entries",
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("open audit bucket %s: %w", bucket, err)
	}
	return New(kv), nil
}

func kvKey(k audit.Key) string {
	rest := k.TraceID + "\x00" + k.ResourceID + "\x00" + string(k.Action)
	return enc.EncodeToString([]byte(k.WorkspaceID)) + "." + enc.EncodeToString([]byte(rest))
}

// InsertIfAbsent creates the key; an existing key reports a duplicate.
func (s *AuditStore) InsertIfAbsent(ctx context.Context, key audit.Key, entry audit.Entry) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := s.kv.Create(ctx, kvKey(key), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("kv create: %w", err)
	}
	return true, nil
}

// List returns the entries of a workspace ordered by creation time.
func (s *AuditStore) List(ctx context.Context, workspaceID string) ([]audit.Entry, error) {
	lister, err := s.kv.ListKeysFiltered(ctx, enc.EncodeToString([]byte(workspaceID))+".*")
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var out []audit.Entry
	for key := range lister.Keys() {
		kve, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("kv get: %w", err)
		}
		var e audit.Entry
		if err := json.Unmarshal(kve.Value(), &e); err != nil {
			return nil, fmt.Errorf("unmarshal audit entry: %w", err)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
