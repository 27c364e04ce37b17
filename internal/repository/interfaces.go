package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/domain"
	apperrors "github.com/acme/dial-engine/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a conditional update lost a race.
	ErrConflict = apperrors.ErrConflict
)

// StateStamps carries the timestamps written alongside a state change.
type StateStamps struct {
	ConnectedAt *time.Time
	EndedAt     *time.Time
}

// CallRepository manages call rows in the durable coordination store.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Call, error)
	// UpdateStateCAS moves the call from the expected state to the new
	// one in a single conditional write; ErrConflict if another writer
	// advanced the call first.
	UpdateStateCAS(ctx context.Context, id uuid.UUID, from, to domain.CallState, stamps StateStamps) error
	SetAMDResult(ctx context.Context, id uuid.UUID, result string, confidence float64) error
	ListByStates(ctx context.Context, states []domain.CallState, limit int) ([]domain.Call, error)
}

// AttemptRepository manages call attempts and their routing decisions.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *domain.CallAttempt) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CallAttempt, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*domain.CallAttempt, error)
	GetLatestByCallID(ctx context.Context, callID uuid.UUID) (*domain.CallAttempt, error)
	UpdateRouting(ctx context.Context, id uuid.UUID, trunkID, carrierID uuid.UUID, callerID string) error
	UpdateState(ctx context.Context, id uuid.UUID, state domain.AttemptState) error
}

// JobRepository manages origination jobs with exclusive claiming.
type JobRepository interface {
	Create(ctx context.Context, job *domain.OriginateJob) error
	// Claim atomically marks up to limit PENDING jobs as PROCESSING
	// owned by the given executor, highest priority first.
	Claim(ctx context.Context, owner string, accountID uuid.UUID, limit int) ([]domain.OriginateJob, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	// Requeue returns a claimed job to PENDING so a later tick retries it.
	Requeue(ctx context.Context, id uuid.UUID) error
	// ReclaimStale releases PROCESSING jobs whose lock is older than
	// the timeout, returning the number reclaimed.
	ReclaimStale(ctx context.Context, lockTimeout time.Duration) (int64, error)
}

// TrunkRepository reads trunk and caller-ID configuration.
type TrunkRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Trunk, error)
	ListActive(ctx context.Context) ([]domain.Trunk, error)
	ListCallerIDs(ctx context.Context, carrierID uuid.UUID) ([]domain.CallerID, error)
}

// CarrierWindow aggregates call outcomes for one carrier over a window.
type CarrierWindow struct {
	CarrierID uuid.UUID
	Total     int64
	Connected int64
	Failed    int64
	NoMedia   int64
}

// RouteHealthRepository persists per-carrier health scores.
type RouteHealthRepository interface {
	WindowStats(ctx context.Context, since time.Time) ([]CarrierWindow, error)
	Upsert(ctx context.Context, health *domain.RouteHealth) error
	Get(ctx context.Context, carrierID uuid.UUID) (*domain.RouteHealth, error)
	// List returns health records ordered by descending score.
	List(ctx context.Context) ([]domain.RouteHealth, error)
	Reset(ctx context.Context, carrierID uuid.UUID) error
}

// TimerRepository manages armed deadlines.
type TimerRepository interface {
	Arm(ctx context.Context, timer *domain.Timer) error
	// ClaimDue atomically marks expired, unfired timers as fired and
	// returns them; each timer is returned to exactly one caller.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Timer, error)
}

// CampaignRepository manages campaign pacing configuration.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	ListByAccountAndStatus(ctx context.Context, accountID uuid.UUID, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error
}

// AgentRepository reads agent availability.
type AgentRepository interface {
	CountAvailable(ctx context.Context, accountID uuid.UUID) (int, error)
}

// LeadRepository manages campaign leads.
type LeadRepository interface {
	BulkInsert(ctx context.Context, campaignID uuid.UUID, leads []domain.Lead) error
	// NextBatch returns up to limit leads still awaiting dialing.
	NextBatch(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.Lead, error)
	MarkScheduled(ctx context.Context, campaignID uuid.UUID, leadIDs []uuid.UUID) error
}

// AuditStore is the append-only record of transitions and raw signaling.
type AuditStore interface {
	AppendTransition(ctx context.Context, record domain.TransitionRecord) error
	ListTransitions(ctx context.Context, callID uuid.UUID, limit int) ([]domain.TransitionRecord, error)
	RecordSignalingEvent(ctx context.Context, event domain.RawSignalingEvent) error
}
