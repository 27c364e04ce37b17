package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/repository"
)

// JobRepository implements repository.JobRepository using PostgreSQL.
// Claiming relies on FOR UPDATE SKIP LOCKED so concurrent executors
// never contend for the same rows.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository constructs a new repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, account_id, attempt_id, status, priority,
	locked_by, locked_at, error_message, created_at, updated_at`

// Create inserts a new origination job.
func (r *JobRepository) Create(ctx context.Context, job *domain.OriginateJob) error {
	q := `INSERT INTO originate_jobs (
		id, account_id, attempt_id, status, priority, created_at, updated_at
	) VALUES (
		:id, :account_id, :attempt_id, :status, :priority, :created_at, :updated_at
	)`

	params := map[string]any{
		"id":         job.ID,
		"account_id": job.AccountID,
		"attempt_id": job.AttemptID,
		"status":     job.Status,
		"priority":   job.Priority,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("job repo: insert: %w", err)
	}

	return nil
}

// Claim marks up to limit pending jobs as processing under this owner,
// highest priority first. SKIP LOCKED keeps concurrent claims disjoint.
func (r *JobRepository) Claim(ctx context.Context, owner string, accountID uuid.UUID, limit int) ([]domain.OriginateJob, error) {
	if limit <= 0 {
		limit = 20
	}

	q := `UPDATE originate_jobs SET
		status = $1,
		locked_by = $2,
		locked_at = NOW(),
		updated_at = NOW()
	 WHERE id IN (
		SELECT id FROM originate_jobs
		 WHERE status = $3 AND account_id = $4
		 ORDER BY priority DESC, created_at ASC
		 LIMIT $5
		 FOR UPDATE SKIP LOCKED
	 )
	 RETURNING ` + jobColumns

	rows, err := r.db.QueryxContext(ctx, q,
		domain.JobStatusProcessing, owner, domain.JobStatusPending, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("job repo: claim: %w", err)
	}
	defer rows.Close()

	var claimed []domain.OriginateJob
	for rows.Next() {
		var record jobRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("job repo: scan: %w", err)
		}
		claimed = append(claimed, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job repo: rows err: %w", err)
	}

	return claimed, nil
}

// MarkCompleted finishes a job successfully.
func (r *JobRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, domain.JobStatusCompleted, nil)
}

// MarkFailed finishes a job with an error message.
func (r *JobRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	return r.setStatus(ctx, id, domain.JobStatusFailed, &message)
}

// Requeue returns a claimed job to the pending pool.
func (r *JobRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE originate_jobs SET status = $1, locked_by = NULL, locked_at = NULL, updated_at = NOW() WHERE id = $2`,
		domain.JobStatusPending, id)
	if err != nil {
		return fmt.Errorf("job repo: requeue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ReclaimStale releases processing jobs whose lock outlived the
// timeout, returning them to the pending pool.
func (r *JobRepository) ReclaimStale(ctx context.Context, lockTimeout time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE originate_jobs SET status = $1, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		  WHERE status = $2 AND locked_at < NOW() - $3::interval`,
		domain.JobStatusPending, domain.JobStatusProcessing, lockTimeout.String())
	if err != nil {
		return 0, fmt.Errorf("job repo: reclaim stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("job repo: rows affected: %w", err)
	}
	return n, nil
}

func (r *JobRepository) setStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, message *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE originate_jobs SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3`,
		status, message, id)
	if err != nil {
		return fmt.Errorf("job repo: set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type jobRecord struct {
	ID           uuid.UUID      `db:"id"`
	AccountID    uuid.UUID      `db:"account_id"`
	AttemptID    uuid.UUID      `db:"attempt_id"`
	Status       string         `db:"status"`
	Priority     int            `db:"priority"`
	LockedBy     sql.NullString `db:"locked_by"`
	LockedAt     sql.NullTime   `db:"locked_at"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    sql.NullTime   `db:"created_at"`
	UpdatedAt    sql.NullTime   `db:"updated_at"`
}

func (r jobRecord) toDomain() domain.OriginateJob {
	job := domain.OriginateJob{
		ID:        r.ID,
		AccountID: r.AccountID,
		AttemptID: r.AttemptID,
		Status:    domain.JobStatus(r.Status),
		Priority:  r.Priority,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
	if r.LockedBy.Valid {
		job.LockedBy = &r.LockedBy.String
	}
	if r.LockedAt.Valid {
		t := r.LockedAt.Time
		job.LockedAt = &t
	}
	if r.ErrorMessage.Valid {
		job.ErrorMessage = &r.ErrorMessage.String
	}
	return job
}
