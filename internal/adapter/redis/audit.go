// Package redis implements the audit store port on Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/domain/audit"
)

// insertScript writes the entry only if its key is free and indexes it by
// workspace in the same step.
// KEYS[1] = entry key, KEYS[2] = workspace index
// ARGV[1] = entry JSON, ARGV[2] = ttl in ms (0 = none), ARGV[3] = score
var insertScript = redis.NewScript(`
local ok
if tonumber(ARGV[2]) > 0 then
    ok = redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2])
else
    ok = redis.call("SET", KEYS[1], ARGV[1], "NX")
end
if not ok then
    return 0
end
redis.call("ZADD", KEYS[2], ARGV[3], KEYS[1])
return 1
`)

const keyPrefix = "anne:audit:"

// AuditStore keeps entries as JSON strings with a per-workspace sorted set.
type AuditStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewClient creates a Redis client from configuration.
func NewClient(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewAuditStore creates a store. Entries expire after ttl; zero keeps them.
func NewAuditStore(client *redis.Client, ttl time.Duration) *AuditStore {
	return &AuditStore{client: client, ttl: ttl}
}

func entryKey(k audit.Key) string { return keyPrefix + "entry:" + k.String() }
func indexKey(workspace string) string { return keyPrefix + "ws:" + workspace }

// InsertIfAbsent stores entry unless key exists.
func (s *AuditStore) InsertIfAbsent(ctx context.Context, key audit.Key, entry audit.Entry) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshal audit entry: %w", err)
	}
	n, err := insertScript.Run(ctx, s.client,
		[]string{entryKey(key), indexKey(key.WorkspaceID)},
		data, s.ttl.Milliseconds(), entry.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis insert audit entry: %w", err)
	}
	return n == 1, nil
}

// List returns the live entries of a workspace ordered by creation time.
// Index members whose entry expired are pruned.
func (s *AuditStore) List(ctx context.Context, workspaceID string) ([]audit.Entry, error) {
	idx := indexKey(workspaceID)
	keys, err := s.client.ZRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list audit index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get audit entries: %w", err)
	}

	var (
		out   []audit.Entry
		stale []any
	)
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, keys[i])
			continue
		}
		var e audit.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("unmarshal audit entry: %w", err)
		}
		out = append(out, e)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, idx, stale...).Err()
	}
	return out, nil
}
