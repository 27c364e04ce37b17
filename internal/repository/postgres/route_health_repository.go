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

// RouteHealthRepository implements repository.RouteHealthRepository
// using PostgreSQL. Window stats are aggregated from attempts joined
// to their calls' final states.
type RouteHealthRepository struct {
	db *sqlx.DB
}

// NewRouteHealthRepository constructs a new repository.
func NewRouteHealthRepository(db *sqlx.DB) *RouteHealthRepository {
	return &RouteHealthRepository{db: db}
}

// WindowStats aggregates per-carrier outcomes for attempts created
// since the window start.
func (r *RouteHealthRepository) WindowStats(ctx context.Context, since time.Time) ([]repository.CarrierWindow, error) {
	q := `SELECT
		a.carrier_id,
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE c.connected_at IS NOT NULL) AS connected,
		COUNT(*) FILTER (WHERE c.state = $1) AS failed,
		COUNT(*) FILTER (WHERE c.state = $2) AS no_media
	 FROM call_attempts a
	 JOIN calls c ON c.id = a.call_id
	 WHERE a.carrier_id IS NOT NULL AND a.created_at >= $3
	 GROUP BY a.carrier_id`

	rows, err := r.db.QueryxContext(ctx, q, domain.CallStateFailed, domain.CallStateNoRTP, since)
	if err != nil {
		return nil, fmt.Errorf("route health repo: window stats: %w", err)
	}
	defer rows.Close()

	var results []repository.CarrierWindow
	for rows.Next() {
		var window repository.CarrierWindow
		if err := rows.Scan(&window.CarrierID, &window.Total, &window.Connected, &window.Failed, &window.NoMedia); err != nil {
			return nil, fmt.Errorf("route health repo: scan: %w", err)
		}
		results = append(results, window)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("route health repo: rows err: %w", err)
	}

	return results, nil
}

// Upsert writes the computed health record for a carrier.
func (r *RouteHealthRepository) Upsert(ctx context.Context, health *domain.RouteHealth) error {
	q := `INSERT INTO route_health (
		carrier_id, health_score, asr, total_calls, connected, failed,
		no_media, is_degraded, cooldown_until, updated_at
	) VALUES (
		:carrier_id, :health_score, :asr, :total_calls, :connected, :failed,
		:no_media, :is_degraded, :cooldown_until, :updated_at
	)
	ON CONFLICT (carrier_id) DO UPDATE SET
		health_score = EXCLUDED.health_score,
		asr = EXCLUDED.asr,
		total_calls = EXCLUDED.total_calls,
		connected = EXCLUDED.connected,
		failed = EXCLUDED.failed,
		no_media = EXCLUDED.no_media,
		is_degraded = EXCLUDED.is_degraded,
		cooldown_until = EXCLUDED.cooldown_until,
		updated_at = EXCLUDED.updated_at`

	params := map[string]any{
		"carrier_id":     health.CarrierID,
		"health_score":   health.HealthScore,
		"asr":            health.ASR,
		"total_calls":    health.TotalCalls,
		"connected":      health.Connected,
		"failed":         health.Failed,
		"no_media":       health.NoMedia,
		"is_degraded":    health.IsDegraded,
		"cooldown_until": health.CooldownUntil,
		"updated_at":     health.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("route health repo: upsert: %w", err)
	}

	return nil
}

const healthColumns = `carrier_id, health_score, asr, total_calls, connected,
	failed, no_media, is_degraded, cooldown_until, updated_at`

// Get fetches the health record for one carrier.
func (r *RouteHealthRepository) Get(ctx context.Context, carrierID uuid.UUID) (*domain.RouteHealth, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+healthColumns+` FROM route_health WHERE carrier_id = $1`, carrierID)
	var record healthRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("route health repo: get: %w", err)
	}
	health := record.toDomain()
	return &health, nil
}

// List returns every carrier's health, best score first.
func (r *RouteHealthRepository) List(ctx context.Context) ([]domain.RouteHealth, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+healthColumns+` FROM route_health ORDER BY health_score DESC`)
	if err != nil {
		return nil, fmt.Errorf("route health repo: list: %w", err)
	}
	defer rows.Close()

	var results []domain.RouteHealth
	for rows.Next() {
		var record healthRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("route health repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("route health repo: rows err: %w", err)
	}

	return results, nil
}

// Reset restores a carrier to a clean score, clearing degradation.
func (r *RouteHealthRepository) Reset(ctx context.Context, carrierID uuid.UUID) error {
	q := `INSERT INTO route_health (carrier_id, health_score, is_degraded, updated_at)
	 VALUES ($1, 100, FALSE, NOW())
	 ON CONFLICT (carrier_id) DO UPDATE SET
		health_score = 100,
		is_degraded = FALSE,
		cooldown_until = NULL,
		updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, q, carrierID); err != nil {
		return fmt.Errorf("route health repo: reset: %w", err)
	}
	return nil
}

type healthRecord struct {
	CarrierID     uuid.UUID    `db:"carrier_id"`
	HealthScore   float64      `db:"health_score"`
	ASR           float64      `db:"asr"`
	TotalCalls    int64        `db:"total_calls"`
	Connected     int64        `db:"connected"`
	Failed        int64        `db:"failed"`
	NoMedia       int64        `db:"no_media"`
	IsDegraded    bool         `db:"is_degraded"`
	CooldownUntil sql.NullTime `db:"cooldown_until"`
	UpdatedAt     sql.NullTime `db:"updated_at"`
}

func (r healthRecord) toDomain() domain.RouteHealth {
	health := domain.RouteHealth{
		CarrierID:   r.CarrierID,
		HealthScore: r.HealthScore,
		ASR:         r.ASR,
		TotalCalls:  r.TotalCalls,
		Connected:   r.Connected,
		Failed:      r.Failed,
		NoMedia:     r.NoMedia,
		IsDegraded:  r.IsDegraded,
		UpdatedAt:   r.UpdatedAt.Time,
	}
	if r.CooldownUntil.Valid {
		t := r.CooldownUntil.Time
		health.CooldownUntil = &t
	}
	return health
}
