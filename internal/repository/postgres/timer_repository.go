package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/dial-engine/internal/domain"
)

// TimerRepository implements repository.TimerRepository using PostgreSQL.
type TimerRepository struct {
	db *sqlx.DB
}

// NewTimerRepository constructs a new repository.
func NewTimerRepository(db *sqlx.DB) *TimerRepository {
	return &TimerRepository{db: db}
}

// Arm inserts a new deadline.
func (r *TimerRepository) Arm(ctx context.Context, timer *domain.Timer) error {
	q := `INSERT INTO call_timers (
		id, attempt_id, call_id, timer_type, armed_state, expires_at, fired, created_at
	) VALUES (
		:id, :attempt_id, :call_id, :timer_type, :armed_state, :expires_at, FALSE, :created_at
	)`

	params := map[string]any{
		"id":          timer.ID,
		"attempt_id":  timer.AttemptID,
		"call_id":     timer.CallID,
		"timer_type":  timer.Type,
		"armed_state": timer.ArmedState,
		"expires_at":  timer.ExpiresAt,
		"created_at":  timer.CreatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("timer repo: insert: %w", err)
	}

	return nil
}

// ClaimDue marks expired timers fired and returns them. The single
// conditional UPDATE makes each timer visible to exactly one sweeper.
func (r *TimerRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Timer, error) {
	if limit <= 0 {
		limit = 200
	}

	q := `UPDATE call_timers SET fired = TRUE
	 WHERE id IN (
		SELECT id FROM call_timers
		 WHERE fired = FALSE AND expires_at <= $1
		 ORDER BY expires_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED
	 )
	 RETURNING id, attempt_id, call_id, timer_type, armed_state, expires_at, fired, created_at`

	rows, err := r.db.QueryxContext(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("timer repo: claim due: %w", err)
	}
	defer rows.Close()

	var due []domain.Timer
	for rows.Next() {
		var record timerRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("timer repo: scan: %w", err)
		}
		due = append(due, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timer repo: rows err: %w", err)
	}

	return due, nil
}

type timerRecord struct {
	ID         uuid.UUID `db:"id"`
	AttemptID  uuid.UUID `db:"attempt_id"`
	CallID     uuid.UUID `db:"call_id"`
	TimerType  string    `db:"timer_type"`
	ArmedState string    `db:"armed_state"`
	ExpiresAt  time.Time `db:"expires_at"`
	Fired      bool      `db:"fired"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r timerRecord) toDomain() domain.Timer {
	return domain.Timer{
		ID:         r.ID,
		AttemptID:  r.AttemptID,
		CallID:     r.CallID,
		Type:       domain.TimerType(r.TimerType),
		ArmedState: domain.CallState(r.ArmedState),
		ExpiresAt:  r.ExpiresAt,
		Fired:      r.Fired,
		CreatedAt:  r.CreatedAt,
	}
}
