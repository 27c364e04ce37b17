package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/dial-engine/internal/domain"
)

// AgentRepository implements repository.AgentRepository using PostgreSQL.
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository constructs a new repository.
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// CountAvailable counts agents ready to take a call for the account.
func (r *AgentRepository) CountAvailable(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE account_id = $1 AND status = $2`,
		accountID, domain.AgentStatusAvailable).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("agent repo: count available: %w", err)
	}
	return n, nil
}
