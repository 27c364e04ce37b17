package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/repository/memory"
	"github.com/acme/dial-engine/pkg/logger"
)

type schedFixture struct {
	sched     *Scheduler
	campaigns *memory.CampaignRepo
	agents    *memory.AgentRepo
	leads     *memory.LeadRepo
	calls     *memory.CallRepo
	attempts  *memory.AttemptRepo
	jobs      *memory.JobRepo
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	f := &schedFixture{
		campaigns: memory.NewCampaignRepo(),
		agents:    memory.NewAgentRepo(),
		leads:     memory.NewLeadRepo(),
		calls:     memory.NewCallRepo(),
		attempts:  memory.NewAttemptRepo(),
		jobs:      memory.NewJobRepo(),
	}
	f.sched = New(f.campaigns, f.agents, f.leads, f.calls, f.attempts, f.jobs, 50, time.Second, lg)
	return f
}

// allDayWindows covers every weekday around the clock so tick tests do
// not depend on the wall clock.
func allDayWindows() []domain.WorkHourWindow {
	windows := make([]domain.WorkHourWindow, 0, 7)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	for d := time.Sunday; d <= time.Saturday; d++ {
		windows = append(windows, domain.WorkHourWindow{DayOfWeek: d, Start: start, End: end})
	}
	return windows
}

func (f *schedFixture) seedCampaign(t *testing.T, accountID uuid.UUID, ratio float64, status domain.CampaignStatus) *domain.Campaign {
	t.Helper()
	campaign := &domain.Campaign{
		ID:        uuid.New(),
		AccountID: accountID,
		Name:      "renewals",
		TimeZone:  "UTC",
		WorkHours: allDayWindows(),
		DialRatio: ratio,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.campaigns.Create(context.Background(), campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return campaign
}

func (f *schedFixture) seedLeads(t *testing.T, campaignID uuid.UUID, n int) {
	t.Helper()
	leads := make([]domain.Lead, 0, n)
	for i := 0; i < n; i++ {
		leads = append(leads, domain.Lead{
			ID:          uuid.New(),
			PhoneNumber: "+1555000" + uuid.NewString()[:4],
			State:       domain.LeadStateNew,
			CreatedAt:   time.Now().UTC(),
		})
	}
	if err := f.leads.BulkInsert(context.Background(), campaignID, leads); err != nil {
		t.Fatalf("seed leads: %v", err)
	}
}

func (f *schedFixture) seedAgents(accountID uuid.UUID, available, busy int) {
	for i := 0; i < available; i++ {
		f.agents.Add(domain.Agent{ID: uuid.New(), AccountID: accountID, Status: domain.AgentStatusAvailable})
	}
	for i := 0; i < busy; i++ {
		f.agents.Add(domain.Agent{ID: uuid.New(), AccountID: accountID, Status: domain.AgentStatusBusy})
	}
}

func TestTickSchedulesByDialRatio(t *testing.T) {
	f := newSchedFixture(t)
	accountID := uuid.New()
	campaign := f.seedCampaign(t, accountID, 1.5, domain.CampaignStatusActive)
	f.seedLeads(t, campaign.ID, 20)
	f.seedAgents(accountID, 4, 2)

	decisions, err := f.sched.Tick(context.Background(), accountID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(decisions))
	}
	// ceil(4 available * 1.5) = 6; busy agents do not count.
	if decisions[0].CallsScheduled != 6 {
		t.Fatalf("calls scheduled = %d, want 6", decisions[0].CallsScheduled)
	}

	queued, err := f.calls.ListByStates(context.Background(), []domain.CallState{domain.CallStateQueued}, 0)
	if err != nil {
		t.Fatalf("list calls: %v", err)
	}
	if len(queued) != 6 {
		t.Fatalf("queued calls = %d, want 6", len(queued))
	}

	jobs, err := f.jobs.Claim(context.Background(), "exec-1", accountID, 0)
	if err != nil {
		t.Fatalf("claim jobs: %v", err)
	}
	if len(jobs) != 6 {
		t.Fatalf("claimable jobs = %d, want 6", len(jobs))
	}
	for _, job := range jobs {
		attempt, err := f.attempts.Get(context.Background(), job.AttemptID)
		if err != nil {
			t.Fatalf("job %s references missing attempt: %v", job.ID, err)
		}
		if attempt.CorrelationID == "" {
			t.Fatal("attempt created without correlation id")
		}
	}
}

func TestTickZeroAgentsSchedulesNothing(t *testing.T) {
	f := newSchedFixture(t)
	accountID := uuid.New()
	campaign := f.seedCampaign(t, accountID, 2.0, domain.CampaignStatusActive)
	f.seedLeads(t, campaign.ID, 10)
	f.seedAgents(accountID, 0, 3)

	decisions, err := f.sched.Tick(context.Background(), accountID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if decisions[0].CallsScheduled != 0 || decisions[0].Reason != "No available agents" {
		t.Fatalf("decision = %+v", decisions[0])
	}
}

func TestTickSkipsStoppedCampaigns(t *testing.T) {
	f := newSchedFixture(t)
	accountID := uuid.New()
	campaign := f.seedCampaign(t, accountID, 1.0, domain.CampaignStatusStopped)
	f.seedLeads(t, campaign.ID, 10)
	f.seedAgents(accountID, 5, 0)

	decisions, err := f.sched.Tick(context.Background(), accountID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(decisions) != 0 {
		t.Fatalf("stopped campaign produced decisions: %+v", decisions)
	}
}

func TestTickExhaustsLeads(t *testing.T) {
	f := newSchedFixture(t)
	accountID := uuid.New()
	campaign := f.seedCampaign(t, accountID, 1.0, domain.CampaignStatusActive)
	f.seedLeads(t, campaign.ID, 2)
	f.seedAgents(accountID, 10, 0)

	decisions, err := f.sched.Tick(context.Background(), accountID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if decisions[0].CallsScheduled != 2 {
		t.Fatalf("calls scheduled = %d, want 2 (lead supply)", decisions[0].CallsScheduled)
	}

	// Second tick finds no leads left.
	decisions, err = f.sched.Tick(context.Background(), accountID)
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if decisions[0].CallsScheduled != 0 || decisions[0].Reason != "No leads remaining" {
		t.Fatalf("decision = %+v", decisions[0])
	}
}

func TestStartStopCampaign(t *testing.T) {
	f := newSchedFixture(t)
	accountID := uuid.New()
	campaign := f.seedCampaign(t, accountID, 1.0, domain.CampaignStatusDraft)
	ctx := context.Background()

	if err := f.sched.StartCampaign(ctx, campaign.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.sched.StartCampaign(ctx, campaign.ID); err == nil {
		t.Fatal("starting an active campaign must conflict")
	}
	if err := f.sched.StopCampaign(ctx, campaign.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	stored, _ := f.campaigns.Get(ctx, campaign.ID)
	if stored.Status != domain.CampaignStatusStopped {
		t.Fatalf("status = %s", stored.Status)
	}
}

func TestInsideWorkHours(t *testing.T) {
	window := func(day time.Weekday, startH, startM, endH, endM int) domain.WorkHourWindow {
		return domain.WorkHourWindow{
			DayOfWeek: day,
			Start:     time.Date(2026, 1, 1, startH, startM, 0, 0, time.UTC),
			End:       time.Date(2026, 1, 1, endH, endM, 0, 0, time.UTC),
		}
	}
	campaign := &domain.Campaign{
		TimeZone: "UTC",
		WorkHours: []domain.WorkHourWindow{
			window(time.Monday, 9, 0, 17, 0),
			// Friday 22:00 spanning into Saturday 02:00.
			window(time.Friday, 22, 0, 2, 0),
		},
	}

	// 2026-08-31 is a Monday.
	monday := func(h, m int) time.Time { return time.Date(2026, 8, 31, h, m, 0, 0, time.UTC) }
	friday := func(h, m int) time.Time { return time.Date(2026, 9, 4, h, m, 0, 0, time.UTC) }
	saturday := func(h, m int) time.Time { return time.Date(2026, 9, 5, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday mid-window", monday(12, 30), true},
		{"monday before open", monday(8, 59), false},
		{"monday at close", monday(17, 0), false},
		{"friday late tail", friday(23, 15), true},
		{"saturday early head", saturday(1, 30), true},
		{"saturday past head", saturday(2, 0), false},
		{"friday before span", friday(21, 59), false},
	}
	for _, tc := range tests {
		if got := InsideWorkHours(campaign, tc.at); got != tc.want {
			t.Errorf("%s: InsideWorkHours = %v, want %v", tc.name, got, tc.want)
		}
	}

	empty := &domain.Campaign{TimeZone: "UTC"}
	if InsideWorkHours(empty, monday(12, 0)) {
		t.Error("campaign without windows must never be inside work hours")
	}
}
