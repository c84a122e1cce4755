// Package portfolio defines the port for listing the sub-accounts an
// operator may act on behalf of.
package portfolio

import (
	"context"

	"github.com/spediresicuro/anne/internal/domain/delegation"
)

// Lookup lists delegable accounts for an operator.
type Lookup interface {
	ListDelegableAccounts(ctx context.Context, operatorID string) ([]delegation.Account, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, operatorID string) ([]delegation.Account, error)

// ListDelegableAccounts calls f.
func (f LookupFunc) ListDelegableAccounts(ctx context.Context, operatorID string) ([]delegation.Account, error) {
	return f(ctx, operatorID)
}
