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

// CampaignRepository implements repository.CampaignRepository using
// PostgreSQL. Work-hour windows live in a child table and are loaded
// with their campaign.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a campaign and its windows in one transaction.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		q := `INSERT INTO campaigns (
			id, account_id, name, time_zone, dial_ratio, status, created_at, updated_at
		) VALUES (
			:id, :account_id, :name, :time_zone, :dial_ratio, :status, :created_at, :updated_at
		)`

		params := map[string]any{
			"id":         campaign.ID,
			"account_id": campaign.AccountID,
			"name":       campaign.Name,
			"time_zone":  campaign.TimeZone,
			"dial_ratio": campaign.DialRatio,
			"status":     campaign.Status,
			"created_at": campaign.CreatedAt,
			"updated_at": campaign.UpdatedAt,
		}
		if _, err := tx.NamedExecContext(ctx, q, params); err != nil {
			return fmt.Errorf("campaign repo: insert: %w", err)
		}

		for _, window := range campaign.WorkHours {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO campaign_work_hours (campaign_id, day_of_week, start_minute, end_minute) VALUES ($1, $2, $3, $4)`,
				campaign.ID, int(window.DayOfWeek), minuteOfDay(window.Start), minuteOfDay(window.End)); err != nil {
				return fmt.Errorf("campaign repo: insert window: %w", err)
			}
		}
		return nil
	})
}

// Get fetches a campaign with its work-hour windows.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT id, account_id, name, time_zone, dial_ratio, status, created_at, updated_at
		   FROM campaigns WHERE id = $1`, id)
	var record dialCampaignRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := record.toDomain()
	windows, err := r.loadWindows(ctx, id)
	if err != nil {
		return nil, err
	}
	campaign.WorkHours = windows
	return &campaign, nil
}

// ListByAccountAndStatus returns an account's campaigns in one status.
func (r *CampaignRepository) ListByAccountAndStatus(ctx context.Context, accountID uuid.UUID, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, account_id, name, time_zone, dial_ratio, status, created_at, updated_at
		   FROM campaigns WHERE account_id = $1 AND status = $2 ORDER BY created_at ASC LIMIT $3`,
		accountID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	var results []*domain.Campaign
	for rows.Next() {
		var record dialCampaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := record.toDomain()
		results = append(results, &campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}

	for _, campaign := range results {
		windows, err := r.loadWindows(ctx, campaign.ID)
		if err != nil {
			return nil, err
		}
		campaign.WorkHours = windows
	}
	return results, nil
}

// UpdateStatus moves a campaign between draft, active and stopped.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("campaign repo: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *CampaignRepository) loadWindows(ctx context.Context, campaignID uuid.UUID) ([]domain.WorkHourWindow, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT day_of_week, start_minute, end_minute FROM campaign_work_hours
		  WHERE campaign_id = $1 ORDER BY day_of_week ASC, start_minute ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: load windows: %w", err)
	}
	defer rows.Close()

	var windows []domain.WorkHourWindow
	for rows.Next() {
		var day, startMin, endMin int
		if err := rows.Scan(&day, &startMin, &endMin); err != nil {
			return nil, fmt.Errorf("campaign repo: scan window: %w", err)
		}
		windows = append(windows, domain.WorkHourWindow{
			DayOfWeek: time.Weekday(day),
			Start:     timeAtMinute(startMin),
			End:       timeAtMinute(endMin),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return windows, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func timeAtMinute(minute int) time.Time {
	return time.Date(2000, 1, 1, minute/60, minute%60, 0, 0, time.UTC)
}

type dialCampaignRecord struct {
	ID        uuid.UUID    `db:"id"`
	AccountID uuid.UUID    `db:"account_id"`
	Name      string       `db:"name"`
	TimeZone  string       `db:"time_zone"`
	DialRatio float64      `db:"dial_ratio"`
	Status    string       `db:"status"`
	CreatedAt sql.NullTime `db:"created_at"`
	UpdatedAt sql.NullTime `db:"updated_at"`
}

func (r dialCampaignRecord) toDomain() domain.Campaign {
	return domain.Campaign{
		ID:        r.ID,
		AccountID: r.AccountID,
		Name:      r.Name,
		TimeZone:  r.TimeZone,
		DialRatio: r.DialRatio,
		Status:    domain.CampaignStatus(r.Status),
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}
