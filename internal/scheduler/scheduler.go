package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/repository"
	apperrors "github.com/acme/dial-engine/pkg/errors"
	"github.com/acme/dial-engine/pkg/logger"
)

// Decision reports the pacing outcome for one campaign on one tick.
type Decision struct {
	CampaignID     uuid.UUID `json:"campaign_id"`
	CallsScheduled int       `json:"calls_scheduled"`
	Reason         string    `json:"reason,omitempty"`
}

// Scheduler paces campaigns: on each tick it decides, per active
// campaign, how many calls to enqueue based on agent availability and
// the campaign's dial ratio, then materializes call, attempt and job
// rows for the executor to claim.
type Scheduler struct {
	campaigns    repository.CampaignRepository
	agents       repository.AgentRepository
	leads        repository.LeadRepository
	calls        repository.CallRepository
	attempts     repository.AttemptRepository
	jobs         repository.JobRepository
	leadBatchMax int
	interval     time.Duration
	logger       *logger.Logger
}

// New constructs a scheduler.
func New(
	campaigns repository.CampaignRepository,
	agents repository.AgentRepository,
	leads repository.LeadRepository,
	calls repository.CallRepository,
	attempts repository.AttemptRepository,
	jobs repository.JobRepository,
	leadBatchMax int,
	interval time.Duration,
	lg *logger.Logger,
) *Scheduler {
	if leadBatchMax <= 0 {
		leadBatchMax = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		campaigns:    campaigns,
		agents:       agents,
		leads:        leads,
		calls:        calls,
		attempts:     attempts,
		jobs:         jobs,
		leadBatchMax: leadBatchMax,
		interval:     interval,
		logger:       lg,
	}
}

// StartCampaign moves a campaign into the active set.
func (s *Scheduler) StartCampaign(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status == domain.CampaignStatusActive {
		return fmt.Errorf("%w: campaign already active", apperrors.ErrConflict)
	}
	return s.campaigns.UpdateStatus(ctx, id, domain.CampaignStatusActive)
}

// StopCampaign removes a campaign from the active set. In-flight calls
// are unaffected; only new scheduling stops.
func (s *Scheduler) StopCampaign(ctx context.Context, id uuid.UUID) error {
	if _, err := s.campaigns.Get(ctx, id); err != nil {
		return err
	}
	return s.campaigns.UpdateStatus(ctx, id, domain.CampaignStatusStopped)
}

// Tick runs one pacing pass over the account's active campaigns and
// returns one decision per campaign.
func (s *Scheduler) Tick(ctx context.Context, accountID uuid.UUID) ([]Decision, error) {
	tracer := otel.Tracer("dialer.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID.String()))

	campaigns, err := s.campaigns.ListByAccountAndStatus(sctx, accountID, domain.CampaignStatusActive, 0)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scheduler: list active campaigns: %w", err)
	}

	now := time.Now().UTC()
	decisions := make([]Decision, 0, len(campaigns))
	for _, campaign := range campaigns {
		decision, err := s.pace(sctx, campaign, now)
		if err != nil {
			s.logger.Error("scheduler: pacing campaign failed",
				zap.Error(err),
				zap.String("campaign_id", campaign.ID.String()))
			decision = Decision{CampaignID: campaign.ID, Reason: "Scheduling error"}
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

func (s *Scheduler) pace(ctx context.Context, campaign *domain.Campaign, now time.Time) (Decision, error) {
	decision := Decision{CampaignID: campaign.ID}

	if !InsideWorkHours(campaign, now) {
		decision.Reason = "Outside work hours"
		return decision, nil
	}

	available, err := s.agents.CountAvailable(ctx, campaign.AccountID)
	if err != nil {
		return decision, fmt.Errorf("count agents: %w", err)
	}
	if available == 0 {
		decision.Reason = "No available agents"
		return decision, nil
	}

	target := int(math.Ceil(float64(available) * campaign.DialRatio))
	if target <= 0 {
		decision.Reason = "Dial ratio yields zero calls"
		return decision, nil
	}
	if target > s.leadBatchMax {
		target = s.leadBatchMax
	}

	leads, err := s.leads.NextBatch(ctx, campaign.ID, target)
	if err != nil {
		return decision, fmt.Errorf("fetch leads: %w", err)
	}
	if len(leads) == 0 {
		decision.Reason = "No leads remaining"
		return decision, nil
	}

	scheduledLeads := make([]uuid.UUID, 0, len(leads))
	for _, lead := range leads {
		if err := s.enqueue(ctx, campaign, lead, now); err != nil {
			s.logger.Error("scheduler: enqueue lead",
				zap.Error(err),
				zap.String("lead_id", lead.ID.String()))
			continue
		}
		scheduledLeads = append(scheduledLeads, lead.ID)
	}
	if len(scheduledLeads) > 0 {
		if err := s.leads.MarkScheduled(ctx, campaign.ID, scheduledLeads); err != nil {
			return decision, fmt.Errorf("mark leads scheduled: %w", err)
		}
	}

	decision.CallsScheduled = len(scheduledLeads)
	s.logger.Info("scheduler: campaign paced",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("agents_available", available),
		zap.Float64("dial_ratio", campaign.DialRatio),
		zap.Int("calls_scheduled", decision.CallsScheduled))
	return decision, nil
}

// enqueue materializes one lead into a QUEUED call, a pending attempt
// and a claimable origination job.
func (s *Scheduler) enqueue(ctx context.Context, campaign *domain.Campaign, lead domain.Lead, now time.Time) error {
	call := &domain.Call{
		ID:          uuid.New(),
		AccountID:   campaign.AccountID,
		CampaignID:  campaign.ID,
		PhoneNumber: lead.PhoneNumber,
		State:       domain.CallStateQueued,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.calls.Create(ctx, call); err != nil {
		return fmt.Errorf("create call: %w", err)
	}

	attempt := &domain.CallAttempt{
		ID:            uuid.New(),
		CallID:        call.ID,
		CampaignID:    campaign.ID,
		CorrelationID: uuid.NewString(),
		State:         domain.AttemptStatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}

	job := &domain.OriginateJob{
		ID:        uuid.New(),
		AccountID: campaign.AccountID,
		AttemptID: attempt.ID,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// InsideWorkHours reports whether now falls within one of the
// campaign's calling windows, evaluated in the campaign's timezone.
// A window whose end precedes its start spans midnight: it matches
// both the late portion of its own day and the early portion of the
// next.
func InsideWorkHours(campaign *domain.Campaign, now time.Time) bool {
	if len(campaign.WorkHours) == 0 {
		return false
	}

	loc, err := time.LoadLocation(campaign.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	day := local.Weekday()
	minute := local.Hour()*60 + local.Minute()

	for _, window := range campaign.WorkHours {
		start := window.Start.Hour()*60 + window.Start.Minute()
		end := window.End.Hour()*60 + window.End.Minute()

		if start <= end {
			if window.DayOfWeek == day && minute >= start && minute < end {
				return true
			}
			continue
		}

		// Midnight span: tail of the window's day or head of the next.
		if window.DayOfWeek == day && minute >= start {
			return true
		}
		next := (window.DayOfWeek + 1) % 7
		if next == day && minute < end {
			return true
		}
	}
	return false
}

// Run ticks every interval for each account returned by the account
// source until cancelled.
func (s *Scheduler) Run(ctx context.Context, accountIDs []uuid.UUID) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		for _, accountID := range accountIDs {
			if _, err := s.Tick(ctx, accountID); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduler tick failed",
					zap.Error(err),
					zap.String("account_id", accountID.String()))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
