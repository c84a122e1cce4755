package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spediresicuro/anne/internal/domain/delegation"
)

// PortfolioStore implements portfolio.Lookup on the delegable_accounts table.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

// NewPortfolioStore creates a PortfolioStore backed by pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

// ListDelegableAccounts returns the active sub-accounts of operatorID.
func (s *PortfolioStore) ListDelegableAccounts(ctx context.Context, operatorID string) ([]delegation.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT workspace_id, workspace_name, user_id, display_name
		 FROM delegable_accounts WHERE operator_id = $1 AND active ORDER BY display_name`, operatorID)
	if err != nil {
		return nil, fmt.Errorf("list delegable accounts: %w", err)
	}
	defer rows.Close()

	var out []delegation.Account
	for rows.Next() {
		var a delegation.Account
		if err := rows.Scan(&a.WorkspaceID, &a.WorkspaceName, &a.UserID, &a.DisplayName); err != nil {
			return nil, fmt.Errorf("scan delegable account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAccount registers or reactivates a delegable account.
func (s *PortfolioStore) UpsertAccount(ctx context.Context, operatorID string, a delegation.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO delegable_accounts (operator_id, workspace_id, workspace_name, user_id, display_name)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (operator_id, workspace_id)
		 DO UPDATE SET workspace_name = EXCLUDED.workspace_name, user_id = EXCLUDED.user_id,
		               display_name = EXCLUDED.display_name, active = TRUE`,
		operatorID, a.WorkspaceID, a.WorkspaceName, a.UserID, a.DisplayName)
	if err != nil {
		return fmt.Errorf("upsert delegable account: %w", err)
	}
	return nil
}
