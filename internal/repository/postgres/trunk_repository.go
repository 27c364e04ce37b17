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

// TrunkRepository implements repository.TrunkRepository using PostgreSQL.
type TrunkRepository struct {
	db *sqlx.DB
}

// NewTrunkRepository constructs a new repository.
func NewTrunkRepository(db *sqlx.DB) *TrunkRepository {
	return &TrunkRepository{db: db}
}

const trunkColumns = `id, carrier_id, name, max_cps, max_channels, is_active, created_at, updated_at`

// Get fetches a trunk by id.
func (r *TrunkRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Trunk, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+trunkColumns+` FROM trunks WHERE id = $1`, id)
	var record trunkRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("trunk repo: get: %w", err)
	}
	trunk := record.toDomain()
	return &trunk, nil
}

// ListActive returns trunks eligible for dispatch.
func (r *TrunkRepository) ListActive(ctx context.Context) ([]domain.Trunk, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+trunkColumns+` FROM trunks WHERE is_active = TRUE ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("trunk repo: list active: %w", err)
	}
	defer rows.Close()

	var results []domain.Trunk
	for rows.Next() {
		var record trunkRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("trunk repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trunk repo: rows err: %w", err)
	}

	return results, nil
}

// ListCallerIDs returns active presentation numbers for a carrier.
func (r *TrunkRepository) ListCallerIDs(ctx context.Context, carrierID uuid.UUID) ([]domain.CallerID, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, carrier_id, number, is_active FROM caller_ids
		  WHERE carrier_id = $1 AND is_active = TRUE ORDER BY number ASC`, carrierID)
	if err != nil {
		return nil, fmt.Errorf("trunk repo: list caller ids: %w", err)
	}
	defer rows.Close()

	var results []domain.CallerID
	for rows.Next() {
		var record callerIDRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("trunk repo: scan: %w", err)
		}
		results = append(results, domain.CallerID{
			ID:        record.ID,
			CarrierID: record.CarrierID,
			Number:    record.Number,
			IsActive:  record.IsActive,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trunk repo: rows err: %w", err)
	}

	return results, nil
}

type trunkRecord struct {
	ID          uuid.UUID    `db:"id"`
	CarrierID   uuid.UUID    `db:"carrier_id"`
	Name        string       `db:"name"`
	MaxCPS      int          `db:"max_cps"`
	MaxChannels int          `db:"max_channels"`
	IsActive    bool         `db:"is_active"`
	CreatedAt   sql.NullTime `db:"created_at"`
	UpdatedAt   sql.NullTime `db:"updated_at"`
}

func (r trunkRecord) toDomain() domain.Trunk {
	return domain.Trunk{
		ID:          r.ID,
		CarrierID:   r.CarrierID,
		Name:        r.Name,
		MaxCPS:      r.MaxCPS,
		MaxChannels: r.MaxChannels,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
}

type callerIDRecord struct {
	ID        uuid.UUID `db:"id"`
	CarrierID uuid.UUID `db:"carrier_id"`
	Number    string    `db:"number"`
	IsActive  bool      `db:"is_active"`
}
