package memory

import (
	"context"
	"slices"

	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/domain/delegation"
)

// Portfolio serves delegable accounts from a fixed list.
type Portfolio struct {
	byOperator map[string][]delegation.Account
}

// NewPortfolio builds a portfolio from the static configuration list.
func NewPortfolio(accounts []config.StaticAccount) *Portfolio {
	p := &Portfolio{byOperator: make(map[string][]delegation.Account)}
	for _, a := range accounts {
		p.byOperator[a.OperatorID] = append(p.byOperator[a.OperatorID], delegation.Account{
			WorkspaceID:   a.WorkspaceID,
			WorkspaceName: a.WorkspaceName,
			UserID:        a.UserID,
			DisplayName:   a.DisplayName,
		})
	}
	return p
}

// ListDelegableAccounts returns a copy of the operator's accounts.
func (p *Portfolio) ListDelegableAccounts(_ context.Context, operatorID string) ([]delegation.Account, error) {
	return slices.Clone(p.byOperator[operatorID]), nil
}
