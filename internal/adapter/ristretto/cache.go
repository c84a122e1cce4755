// Package ristretto caches delegable-account lookups in process with
// dgraph-io/ristretto.
package ristretto

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/spediresicuro/anne/internal/domain/delegation"
	"github.com/spediresicuro/anne/internal/port/portfolio"
)

// lookupTimeout bounds a shared load once it is detached from its callers.
const lookupTimeout = 10 * time.Second

// PortfolioCache decorates a portfolio.Lookup. Concurrent misses for the
// same operator share one lookup; failures are never cached.
type PortfolioCache struct {
	next  portfolio.Lookup
	c     *ristretto.Cache[string, []delegation.Account]
	ttl   time.Duration
	group singleflight.Group
}

// NewPortfolioCache creates a cache in front of next. maxCost bounds the
// number of cached accounts across operators.
func NewPortfolioCache(next portfolio.Lookup, maxCost int64, ttl time.Duration) (*PortfolioCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []delegation.Account]{
		NumCounters: maxCost * 10, // ~10x expected items
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &PortfolioCache{next: next, c: c, ttl: ttl}, nil
}

// ListDelegableAccounts returns a copy of the cached accounts, loading them
// on a miss.
func (p *PortfolioCache) ListDelegableAccounts(ctx context.Context, operatorID string) ([]delegation.Account, error) {
	if accounts, ok := p.c.Get(operatorID); ok {
		return slices.Clone(accounts), nil
	}

	// The shared load must not inherit the first caller's cancellation:
	// other callers wait on the same result.
	ch := p.group.DoChan(operatorID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		accounts, err := p.next.ListDelegableAccounts(lctx, operatorID)
		if err != nil {
			return nil, err
		}
		p.c.SetWithTTL(operatorID, accounts, int64(len(accounts))+1, p.ttl)
		p.c.Wait()
		return accounts, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]delegation.Account)), nil
	}
}

// Invalidate drops the cached accounts of an operator.
func (p *PortfolioCache) Invalidate(operatorID string) {
	p.c.Del(operatorID)
}

// Close shuts down the cache and releases resources.
func (p *PortfolioCache) Close() {
	p.c.Close()
}
