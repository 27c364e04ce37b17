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

// AttemptRepository implements repository.AttemptRepository using PostgreSQL.
type AttemptRepository struct {
	db *sqlx.DB
}

// NewAttemptRepository constructs a new repository.
func NewAttemptRepository(db *sqlx.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

const attemptColumns = `id, call_id, campaign_id, correlation_id, trunk_id,
	carrier_id, caller_id_used, state, created_at, updated_at`

// Create inserts a new attempt.
func (r *AttemptRepository) Create(ctx context.Context, attempt *domain.CallAttempt) error {
	q := `INSERT INTO call_attempts (
		id, call_id, campaign_id, correlation_id, state, created_at, updated_at
	) VALUES (
		:id, :call_id, :campaign_id, :correlation_id, :state, :created_at, :updated_at
	)`

	params := map[string]any{
		"id":             attempt.ID,
		"call_id":        attempt.CallID,
		"campaign_id":    attempt.CampaignID,
		"correlation_id": attempt.CorrelationID,
		"state":          attempt.State,
		"created_at":     attempt.CreatedAt,
		"updated_at":     attempt.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("attempt repo: insert: %w", err)
	}

	return nil
}

// Get fetches an attempt by id.
func (r *AttemptRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CallAttempt, error) {
	return r.getOne(ctx, `SELECT `+attemptColumns+` FROM call_attempts WHERE id = $1`, id)
}

// GetByCorrelationID fetches the attempt matching external signaling.
func (r *AttemptRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.CallAttempt, error) {
	return r.getOne(ctx, `SELECT `+attemptColumns+` FROM call_attempts WHERE correlation_id = $1`, correlationID)
}

// GetLatestByCallID fetches the most recent attempt for a call.
func (r *AttemptRepository) GetLatestByCallID(ctx context.Context, callID uuid.UUID) (*domain.CallAttempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM call_attempts
	 WHERE call_id = $1 ORDER BY created_at DESC LIMIT 1`
	return r.getOne(ctx, q, callID)
}

func (r *AttemptRepository) getOne(ctx context.Context, q string, arg any) (*domain.CallAttempt, error) {
	row := r.db.QueryRowxContext(ctx, q, arg)
	var record attemptRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("attempt repo: get: %w", err)
	}
	attempt := record.toDomain()
	return &attempt, nil
}

// UpdateRouting stamps the dispatch decision on the attempt.
func (r *AttemptRepository) UpdateRouting(ctx context.Context, id uuid.UUID, trunkID, carrierID uuid.UUID, callerID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_attempts SET trunk_id = $1, carrier_id = $2, caller_id_used = $3, updated_at = NOW() WHERE id = $4`,
		trunkID, carrierID, callerID, id)
	if err != nil {
		return fmt.Errorf("attempt repo: update routing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attempt repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateState moves the attempt through its lifecycle.
func (r *AttemptRepository) UpdateState(ctx context.Context, id uuid.UUID, state domain.AttemptState) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_attempts SET state = $1, updated_at = NOW() WHERE id = $2`,
		state, id)
	if err != nil {
		return fmt.Errorf("attempt repo: update state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attempt repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type attemptRecord struct {
	ID            uuid.UUID      `db:"id"`
	CallID        uuid.UUID      `db:"call_id"`
	CampaignID    uuid.UUID      `db:"campaign_id"`
	CorrelationID string         `db:"correlation_id"`
	TrunkID       *uuid.UUID     `db:"trunk_id"`
	CarrierID     *uuid.UUID     `db:"carrier_id"`
	CallerIDUsed  sql.NullString `db:"caller_id_used"`
	State         string         `db:"state"`
	CreatedAt     sql.NullTime   `db:"created_at"`
	UpdatedAt     sql.NullTime   `db:"updated_at"`
}

func (r attemptRecord) toDomain() domain.CallAttempt {
	return domain.CallAttempt{
		ID:            r.ID,
		CallID:        r.CallID,
		CampaignID:    r.CampaignID,
		CorrelationID: r.CorrelationID,
		TrunkID:       r.TrunkID,
		CarrierID:     r.CarrierID,
		CallerIDUsed:  r.CallerIDUsed.String,
		State:         domain.AttemptState(r.State),
		CreatedAt:     r.CreatedAt.Time,
		UpdatedAt:     r.UpdatedAt.Time,
	}
}
