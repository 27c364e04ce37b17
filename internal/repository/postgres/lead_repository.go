package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/dial-engine/internal/domain"
)

// LeadRepository implements repository.LeadRepository using PostgreSQL.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs a new repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// BulkInsert loads leads for a campaign in one transaction.
func (r *LeadRepository) BulkInsert(ctx context.Context, campaignID uuid.UUID, leads []domain.Lead) error {
	if len(leads) == 0 {
		return nil
	}

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx,
			`INSERT INTO leads (id, campaign_id, phone_number, state, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`)
		if err != nil {
			return fmt.Errorf("lead repo: prepare: %w", err)
		}
		defer stmt.Close()

		for _, lead := range leads {
			metadata, err := json.Marshal(lead.Metadata)
			if err != nil {
				return fmt.Errorf("lead repo: marshal metadata: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				lead.ID, campaignID, lead.PhoneNumber, domain.LeadStateNew, metadata, lead.CreatedAt); err != nil {
				return fmt.Errorf("lead repo: insert: %w", err)
			}
		}
		return nil
	})
}

// NextBatch returns leads not yet handed to the dialer. SKIP LOCKED
// keeps concurrent scheduler ticks from double-picking a lead.
func (r *LeadRepository) NextBatch(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, campaign_id, phone_number, state, metadata, created_at
		   FROM leads
		  WHERE campaign_id = $1 AND state = $2
		  ORDER BY created_at ASC
		  LIMIT $3
		  FOR UPDATE SKIP LOCKED`,
		campaignID, domain.LeadStateNew, limit)
	if err != nil {
		return nil, fmt.Errorf("lead repo: next batch: %w", err)
	}
	defer rows.Close()

	var results []domain.Lead
	for rows.Next() {
		var record leadRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("lead repo: scan: %w", err)
		}
		lead, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, lead)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}

	return results, nil
}

// MarkScheduled flags leads as handed to the dialer.
func (r *LeadRepository) MarkScheduled(ctx context.Context, campaignID uuid.UUID, leadIDs []uuid.UUID) error {
	if len(leadIDs) == 0 {
		return nil
	}

	q, args, err := sqlx.In(
		`UPDATE leads SET state = ? WHERE campaign_id = ? AND id IN (?)`,
		domain.LeadStateScheduled, campaignID, leadIDs)
	if err != nil {
		return fmt.Errorf("lead repo: build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...); err != nil {
		return fmt.Errorf("lead repo: mark scheduled: %w", err)
	}
	return nil
}

type leadRecord struct {
	ID          uuid.UUID    `db:"id"`
	CampaignID  uuid.UUID    `db:"campaign_id"`
	PhoneNumber string       `db:"phone_number"`
	State       string       `db:"state"`
	Metadata    []byte       `db:"metadata"`
	CreatedAt   sql.NullTime `db:"created_at"`
}

func (r leadRecord) toDomain() (domain.Lead, error) {
	lead := domain.Lead{
		ID:          r.ID,
		CampaignID:  r.CampaignID,
		PhoneNumber: r.PhoneNumber,
		State:       domain.LeadState(r.State),
		CreatedAt:   r.CreatedAt.Time,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &lead.Metadata); err != nil {
			return domain.Lead{}, fmt.Errorf("lead repo: decode metadata: %w", err)
		}
	}
	return lead, nil
}
