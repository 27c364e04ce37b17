// Package memory provides in-process implementations of the repository
// interfaces. They back unit tests and single-node deployments where
// the durable coordination store contract (atomic claim, conditional
// update) is satisfied by a mutex instead of row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/repository"
)

var (
	_ repository.CallRepository        = (*CallRepo)(nil)
	_ repository.AttemptRepository     = (*AttemptRepo)(nil)
	_ repository.JobRepository         = (*JobRepo)(nil)
	_ repository.TimerRepository       = (*TimerRepo)(nil)
	_ repository.TrunkRepository       = (*TrunkRepo)(nil)
	_ repository.RouteHealthRepository = (*HealthRepo)(nil)
	_ repository.CampaignRepository    = (*CampaignRepo)(nil)
	_ repository.AgentRepository       = (*AgentRepo)(nil)
	_ repository.LeadRepository        = (*LeadRepo)(nil)
	_ repository.AuditStore            = (*AuditLog)(nil)
)

// CallRepo is an in-memory repository.CallRepository.
type CallRepo struct {
	mu    sync.Mutex
	calls map[uuid.UUID]domain.Call
}

func NewCallRepo() *CallRepo {
	return &CallRepo{calls: make(map[uuid.UUID]domain.Call)}
}

func (r *CallRepo) Create(_ context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.ID]; ok {
		return repository.ErrConflict
	}
	r.calls[call.ID] = *call
	return nil
}

func (r *CallRepo) Get(_ context.Context, id uuid.UUID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := call
	return &out, nil
}

func (r *CallRepo) UpdateStateCAS(_ context.Context, id uuid.UUID, from, to domain.CallState, stamps repository.StateStamps) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return repository.ErrNotFound
	}
	if call.State != from {
		return repository.ErrConflict
	}
	call.State = to
	if stamps.ConnectedAt != nil {
		call.ConnectedAt = stamps.ConnectedAt
	}
	if stamps.EndedAt != nil {
		call.EndedAt = stamps.EndedAt
	}
	call.UpdatedAt = time.Now().UTC()
	r.calls[id] = call
	return nil
}

func (r *CallRepo) SetAMDResult(_ context.Context, id uuid.UUID, result string, confidence float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return repository.ErrNotFound
	}
	call.AMDResult = &result
	call.AMDConfidence = &confidence
	r.calls[id] = call
	return nil
}

func (r *CallRepo) ListByStates(_ context.Context, states []domain.CallState, limit int) ([]domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[domain.CallState]bool, len(states))
	for _, s := range states {
		wanted[s] = true
	}
	out := make([]domain.Call, 0)
	for _, call := range r.calls {
		if wanted[call.State] {
			out = append(out, call)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AttemptRepo is an in-memory repository.AttemptRepository.
type AttemptRepo struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]domain.CallAttempt
}

func NewAttemptRepo() *AttemptRepo {
	return &AttemptRepo{attempts: make(map[uuid.UUID]domain.CallAttempt)}
}

func (r *AttemptRepo) Create(_ context.Context, attempt *domain.CallAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[attempt.ID] = *attempt
	return nil
}

func (r *AttemptRepo) Get(_ context.Context, id uuid.UUID) (*domain.CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := attempt
	return &out, nil
}

func (r *AttemptRepo) GetByCorrelationID(_ context.Context, correlationID string) (*domain.CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, attempt := range r.attempts {
		if attempt.CorrelationID == correlationID {
			out := attempt
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *AttemptRepo) GetLatestByCallID(_ context.Context, callID uuid.UUID) (*domain.CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.CallAttempt
	for _, attempt := range r.attempts {
		if attempt.CallID != callID {
			continue
		}
		a := attempt
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = &a
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (r *AttemptRepo) UpdateRouting(_ context.Context, id uuid.UUID, trunkID, carrierID uuid.UUID, callerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	if !ok {
		return repository.ErrNotFound
	}
	attempt.TrunkID = &trunkID
	attempt.CarrierID = &carrierID
	attempt.CallerIDUsed = callerID
	attempt.UpdatedAt = time.Now().UTC()
	r.attempts[id] = attempt
	return nil
}

func (r *AttemptRepo) UpdateState(_ context.Context, id uuid.UUID, state domain.AttemptState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	if !ok {
		return repository.ErrNotFound
	}
	attempt.State = state
	attempt.UpdatedAt = time.Now().UTC()
	r.attempts[id] = attempt
	return nil
}

// JobRepo is an in-memory repository.JobRepository.
type JobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]domain.OriginateJob
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[uuid.UUID]domain.OriginateJob)}
}

func (r *JobRepo) Create(_ context.Context, job *domain.OriginateJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *JobRepo) Get(id uuid.UUID) (domain.OriginateJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

func (r *JobRepo) Claim(_ context.Context, owner string, accountID uuid.UUID, limit int) ([]domain.OriginateJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]domain.OriginateJob, 0)
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusPending && job.LockedBy == nil && job.AccountID == accountID {
			candidates = append(candidates, job)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := time.Now().UTC()
	claimed := make([]domain.OriginateJob, 0, len(candidates))
	for _, job := range candidates {
		job.Status = domain.JobStatusProcessing
		job.LockedBy = &owner
		job.LockedAt = &now
		r.jobs[job.ID] = job
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (r *JobRepo) MarkCompleted(_ context.Context, id uuid.UUID) error {
	return r.setStatus(id, domain.JobStatusCompleted, nil)
}

func (r *JobRepo) MarkFailed(_ context.Context, id uuid.UUID, message string) error {
	return r.setStatus(id, domain.JobStatusFailed, &message)
}

func (r *JobRepo) Requeue(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	job.Status = domain.JobStatusPending
	job.LockedBy = nil
	job.LockedAt = nil
	r.jobs[id] = job
	return nil
}

func (r *JobRepo) ReclaimStale(_ context.Context, lockTimeout time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().UTC().Add(-lockTimeout)
	var n int64
	for id, job := range r.jobs {
		if job.Status == domain.JobStatusProcessing && job.LockedAt != nil && job.LockedAt.Before(cutoff) {
			job.Status = domain.JobStatusPending
			job.LockedBy = nil
			job.LockedAt = nil
			r.jobs[id] = job
			n++
		}
	}
	return n, nil
}

func (r *JobRepo) setStatus(id uuid.UUID, status domain.JobStatus, message *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	job.Status = status
	job.ErrorMessage = message
	job.UpdatedAt = time.Now().UTC()
	r.jobs[id] = job
	return nil
}

// TimerRepo is an in-memory repository.TimerRepository.
type TimerRepo struct {
	mu     sync.Mutex
	timers map[uuid.UUID]domain.Timer
}

func NewTimerRepo() *TimerRepo {
	return &TimerRepo{timers: make(map[uuid.UUID]domain.Timer)}
}

func (r *TimerRepo) Arm(_ context.Context, timer *domain.Timer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[timer.ID] = *timer
	return nil
}

func (r *TimerRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]domain.Timer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := make([]domain.Timer, 0)
	for id, timer := range r.timers {
		if timer.Fired || timer.ExpiresAt.After(now) {
			continue
		}
		timer.Fired = true
		r.timers[id] = timer
		due = append(due, timer)
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

// Armed reports how many unfired timers exist, for tests.
func (r *TimerRepo) Armed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, timer := range r.timers {
		if !timer.Fired {
			n++
		}
	}
	return n
}

// TrunkRepo is an in-memory repository.TrunkRepository.
type TrunkRepo struct {
	mu        sync.Mutex
	trunks    map[uuid.UUID]domain.Trunk
	callerIDs []domain.CallerID
}

func NewTrunkRepo() *TrunkRepo {
	return &TrunkRepo{trunks: make(map[uuid.UUID]domain.Trunk)}
}

func (r *TrunkRepo) Add(trunk domain.Trunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trunks[trunk.ID] = trunk
}

func (r *TrunkRepo) AddCallerID(cid domain.CallerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callerIDs = append(r.callerIDs, cid)
}

func (r *TrunkRepo) Get(_ context.Context, id uuid.UUID) (*domain.Trunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trunk, ok := r.trunks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := trunk
	return &out, nil
}

func (r *TrunkRepo) ListActive(_ context.Context) ([]domain.Trunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Trunk, 0, len(r.trunks))
	for _, trunk := range r.trunks {
		if trunk.IsActive {
			out = append(out, trunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *TrunkRepo) ListCallerIDs(_ context.Context, carrierID uuid.UUID) ([]domain.CallerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CallerID, 0)
	for _, cid := range r.callerIDs {
		if cid.CarrierID == carrierID && cid.IsActive {
			out = append(out, cid)
		}
	}
	return out, nil
}

// HealthRepo is an in-memory repository.RouteHealthRepository. Window
// stats are seeded by tests via SetWindows.
type HealthRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.RouteHealth
	windows []repository.CarrierWindow
}

func NewHealthRepo() *HealthRepo {
	return &HealthRepo{records: make(map[uuid.UUID]domain.RouteHealth)}
}

func (r *HealthRepo) SetWindows(windows []repository.CarrierWindow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = windows
}

func (r *HealthRepo) WindowStats(_ context.Context, _ time.Time) ([]repository.CarrierWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.CarrierWindow, len(r.windows))
	copy(out, r.windows)
	return out, nil
}

func (r *HealthRepo) Upsert(_ context.Context, health *domain.RouteHealth) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[health.CarrierID] = *health
	return nil
}

func (r *HealthRepo) Get(_ context.Context, carrierID uuid.UUID) (*domain.RouteHealth, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[carrierID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := record
	return &out, nil
}

func (r *HealthRepo) List(_ context.Context) ([]domain.RouteHealth, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RouteHealth, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HealthScore > out[j].HealthScore })
	return out, nil
}

func (r *HealthRepo) Reset(_ context.Context, carrierID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[carrierID]
	if !ok {
		record = domain.RouteHealth{CarrierID: carrierID}
	}
	record.HealthScore = 100
	record.IsDegraded = false
	record.CooldownUntil = nil
	record.UpdatedAt = time.Now().UTC()
	r.records[carrierID] = record
	return nil
}

// CampaignRepo is an in-memory repository.CampaignRepository.
type CampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]domain.Campaign
}

func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{campaigns: make(map[uuid.UUID]domain.Campaign)}
}

func (r *CampaignRepo) Create(_ context.Context, campaign *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[campaign.ID] = *campaign
	return nil
}

func (r *CampaignRepo) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	campaign, ok := r.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := campaign
	return &out, nil
}

func (r *CampaignRepo) ListByAccountAndStatus(_ context.Context, accountID uuid.UUID, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Campaign, 0)
	for _, campaign := range r.campaigns {
		if campaign.AccountID == accountID && campaign.Status == status {
			c := campaign
			out = append(out, &c)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *CampaignRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	campaign, ok := r.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	campaign.Status = status
	campaign.UpdatedAt = time.Now().UTC()
	r.campaigns[id] = campaign
	return nil
}

// AgentRepo is an in-memory repository.AgentRepository.
type AgentRepo struct {
	mu     sync.Mutex
	agents []domain.Agent
}

func NewAgentRepo() *AgentRepo {
	return &AgentRepo{}
}

func (r *AgentRepo) Add(agent domain.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = append(r.agents, agent)
}

func (r *AgentRepo) CountAvailable(_ context.Context, accountID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, agent := range r.agents {
		if agent.AccountID == accountID && agent.Status == domain.AgentStatusAvailable {
			n++
		}
	}
	return n, nil
}

// LeadRepo is an in-memory repository.LeadRepository.
type LeadRepo struct {
	mu    sync.Mutex
	leads map[uuid.UUID]domain.Lead
}

func NewLeadRepo() *LeadRepo {
	return &LeadRepo{leads: make(map[uuid.UUID]domain.Lead)}
}

func (r *LeadRepo) BulkInsert(_ context.Context, campaignID uuid.UUID, leads []domain.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lead := range leads {
		lead.CampaignID = campaignID
		r.leads[lead.ID] = lead
	}
	return nil
}

func (r *LeadRepo) NextBatch(_ context.Context, campaignID uuid.UUID, limit int) ([]domain.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Lead, 0)
	for _, lead := range r.leads {
		if lead.CampaignID == campaignID && lead.State == domain.LeadStateNew {
			out = append(out, lead)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *LeadRepo) MarkScheduled(_ context.Context, campaignID uuid.UUID, leadIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range leadIDs {
		lead, ok := r.leads[id]
		if !ok || lead.CampaignID != campaignID {
			continue
		}
		lead.State = domain.LeadStateScheduled
		r.leads[id] = lead
	}
	return nil
}

// AuditLog is an in-memory repository.AuditStore.
type AuditLog struct {
	mu          sync.Mutex
	transitions []domain.TransitionRecord
	rawEvents   []domain.RawSignalingEvent
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) AppendTransition(_ context.Context, record domain.TransitionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, record)
	return nil
}

func (l *AuditLog) ListTransitions(_ context.Context, callID uuid.UUID, limit int) ([]domain.TransitionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TransitionRecord, 0)
	for i := len(l.transitions) - 1; i >= 0; i-- {
		if l.transitions[i].CallID == callID {
			out = append(out, l.transitions[i])
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (l *AuditLog) RecordSignalingEvent(_ context.Context, event domain.RawSignalingEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rawEvents = append(l.rawEvents, event)
	return nil
}

// Transitions returns a copy of every appended record, for tests.
func (l *AuditLog) Transitions() []domain.TransitionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TransitionRecord, len(l.transitions))
	copy(out, l.transitions)
	return out
}

// RawEvents returns a copy of every recorded signaling event, for tests.
func (l *AuditLog) RawEvents() []domain.RawSignalingEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.RawSignalingEvent, len(l.rawEvents))
	copy(out, l.rawEvents)
	return out
}
