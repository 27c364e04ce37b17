package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/repository"
)

// CallRepository implements repository.CallRepository using PostgreSQL.
type CallRepository struct {
	db *sqlx.DB
}

// NewCallRepository constructs a new repository.
func NewCallRepository(db *sqlx.DB) *CallRepository {
	return &CallRepository{db: db}
}

const callColumns = `id, account_id, campaign_id, phone_number, state,
	amd_result, amd_confidence, started_at, connected_at, ended_at,
	created_at, updated_at`

// Create inserts a new call in its initial state.
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	q := `INSERT INTO calls (
		id, account_id, campaign_id, phone_number, state,
		started_at, created_at, updated_at
	) VALUES (
		:id, :account_id, :campaign_id, :phone_number, :state,
		:started_at, :created_at, :updated_at
	)`

	params := map[string]any{
		"id":           call.ID,
		"account_id":   call.AccountID,
		"campaign_id":  call.CampaignID,
		"phone_number": call.PhoneNumber,
		"state":        call.State,
		"started_at":   call.StartedAt,
		"created_at":   call.CreatedAt,
		"updated_at":   call.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("call repo: insert: %w", err)
	}

	return nil
}

// Get fetches a call by id.
func (r *CallRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, q, id)
	var record callRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call repo: get: %w", err)
	}

	call := record.toDomain()
	return &call, nil
}

// UpdateStateCAS advances the call state only if it still holds the
// expected prior state. Zero rows affected means another writer won.
func (r *CallRepository) UpdateStateCAS(ctx context.Context, id uuid.UUID, from, to domain.CallState, stamps repository.StateStamps) error {
	q := `UPDATE calls SET
		state = :to,
		connected_at = COALESCE(:connected_at, connected_at),
		ended_at = COALESCE(:ended_at, ended_at),
		updated_at = NOW()
	 WHERE id = :id AND state = :from`

	params := map[string]any{
		"id":           id,
		"from":         from,
		"to":           to,
		"connected_at": stamps.ConnectedAt,
		"ended_at":     stamps.EndedAt,
	}

	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return fmt.Errorf("call repo: cas update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("call repo: rows affected: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return repository.ErrConflict
	}
	return nil
}

// SetAMDResult stamps the detection verdict on a call.
func (r *CallRepository) SetAMDResult(ctx context.Context, id uuid.UUID, result string, confidence float64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE calls SET amd_result = $1, amd_confidence = $2, updated_at = NOW() WHERE id = $3`,
		result, confidence, id)
	if err != nil {
		return fmt.Errorf("call repo: set amd result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("call repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListByStates returns calls currently in any of the given states.
func (r *CallRepository) ListByStates(ctx context.Context, states []domain.CallState, limit int) ([]domain.Call, error) {
	if len(states) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 500
	}

	values := make([]string, 0, len(states))
	for _, state := range states {
		values = append(values, string(state))
	}

	q, args, err := sqlx.In(
		`SELECT `+callColumns+` FROM calls WHERE state IN (?) ORDER BY updated_at ASC LIMIT ?`,
		values, limit)
	if err != nil {
		return nil, fmt.Errorf("call repo: build query: %w", err)
	}

	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("call repo: list by states: %w", err)
	}
	defer rows.Close()

	var results []domain.Call
	for rows.Next() {
		var record callRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("call repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("call repo: rows err: %w", err)
	}

	return results, nil
}

type callRecord struct {
	ID            uuid.UUID       `db:"id"`
	AccountID     uuid.UUID       `db:"account_id"`
	CampaignID    uuid.UUID       `db:"campaign_id"`
	PhoneNumber   string          `db:"phone_number"`
	State         string          `db:"state"`
	AMDResult     sql.NullString  `db:"amd_result"`
	AMDConfidence sql.NullFloat64 `db:"amd_confidence"`
	StartedAt     sql.NullTime    `db:"started_at"`
	ConnectedAt   sql.NullTime    `db:"connected_at"`
	EndedAt       sql.NullTime    `db:"ended_at"`
	CreatedAt     sql.NullTime    `db:"created_at"`
	UpdatedAt     sql.NullTime    `db:"updated_at"`
}

func (r callRecord) toDomain() domain.Call {
	call := domain.Call{
		ID:          r.ID,
		AccountID:   r.AccountID,
		CampaignID:  r.CampaignID,
		PhoneNumber: r.PhoneNumber,
		State:       domain.CallState(r.State),
		StartedAt:   r.StartedAt.Time,
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
	if r.AMDResult.Valid {
		call.AMDResult = &r.AMDResult.String
	}
	if r.AMDConfidence.Valid {
		call.AMDConfidence = &r.AMDConfidence.Float64
	}
	if r.ConnectedAt.Valid {
		t := r.ConnectedAt.Time
		call.ConnectedAt = &t
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		call.EndedAt = &t
	}
	return call
}
