package executor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/lifecycle"
	"github.com/acme/dial-engine/internal/repository/memory"
	"github.com/acme/dial-engine/pkg/logger"
)

type grantingThrottle struct {
	grant    bool
	acquired []uuid.UUID
}

func (g *grantingThrottle) Acquire(_ context.Context, trunk *domain.Trunk) (bool, error) {
	g.acquired = append(g.acquired, trunk.ID)
	return g.grant, nil
}

type acceptingSink struct {
	inputs []lifecycle.EventInput
}

func (s *acceptingSink) Submit(_ context.Context, input lifecycle.EventInput) (*lifecycle.Outcome, error) {
	s.inputs = append(s.inputs, input)
	return &lifecycle.Outcome{Accepted: true, CurrentState: domain.CallStateOriginating}, nil
}

type execFixture struct {
	exec     *Executor
	jobs     *memory.JobRepo
	attempts *memory.AttemptRepo
	trunks   *memory.TrunkRepo
	health   *memory.HealthRepo
	throttle *grantingThrottle
	sink     *acceptingSink
}

func newExecFixture(t *testing.T) *execFixture {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	f := &execFixture{
		jobs:     memory.NewJobRepo(),
		attempts: memory.NewAttemptRepo(),
		trunks:   memory.NewTrunkRepo(),
		health:   memory.NewHealthRepo(),
		throttle: &grantingThrottle{grant: true},
		sink:     &acceptingSink{},
	}
	f.exec = New("exec-test", f.jobs, f.attempts, f.trunks, f.health, f.throttle, f.sink,
		time.Second, 20, time.Minute, lg)
	return f
}

func (f *execFixture) seedTrunk(t *testing.T, name string, score float64, degraded bool) *domain.Trunk {
	t.Helper()
	carrierID := uuid.New()
	trunk := domain.Trunk{
		ID:          uuid.New(),
		CarrierID:   carrierID,
		Name:        name,
		MaxCPS:      10,
		MaxChannels: 50,
		IsActive:    true,
	}
	f.trunks.Add(trunk)
	f.trunks.AddCallerID(domain.CallerID{
		ID:        uuid.New(),
		CarrierID: carrierID,
		Number:    "+15559990000",
		IsActive:  true,
	})
	if err := f.health.Upsert(context.Background(), &domain.RouteHealth{
		CarrierID:   carrierID,
		HealthScore: score,
		IsDegraded:  degraded,
	}); err != nil {
		t.Fatalf("seed health: %v", err)
	}
	return &trunk
}

func (f *execFixture) seedJob(t *testing.T, accountID uuid.UUID) (*domain.OriginateJob, *domain.CallAttempt) {
	t.Helper()
	ctx := context.Background()
	attempt := &domain.CallAttempt{
		ID:            uuid.New(),
		CallID:        uuid.New(),
		CampaignID:    uuid.New(),
		CorrelationID: uuid.NewString(),
		State:         domain.AttemptStatePending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := f.attempts.Create(ctx, attempt); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}
	job := &domain.OriginateJob{
		ID:        uuid.New(),
		AccountID: accountID,
		AttemptID: attempt.ID,
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job, attempt
}

func TestExecuteBatchDispatchesJob(t *testing.T) {
	f := newExecFixture(t)
	accountID := uuid.New()
	trunk := f.seedTrunk(t, "primary", 95, false)
	job, attempt := f.seedJob(t, accountID)

	results, err := f.exec.ExecuteBatch(context.Background(), accountID, 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v", results)
	}
	if results[0].TrunkID != trunk.ID.String() {
		t.Fatalf("trunk = %s, want %s", results[0].TrunkID, trunk.ID)
	}

	stored, ok := f.jobs.Get(job.ID)
	if !ok || stored.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s, want COMPLETED", stored.Status)
	}

	updated, _ := f.attempts.Get(context.Background(), attempt.ID)
	if updated.TrunkID == nil || *updated.TrunkID != trunk.ID {
		t.Fatal("routing decision not stamped on attempt")
	}
	if updated.CallerIDUsed == "" {
		t.Fatal("caller id not stamped on attempt")
	}
	if updated.State != domain.AttemptStateOriginating {
		t.Fatalf("attempt state = %s", updated.State)
	}

	if len(f.sink.inputs) != 1 || f.sink.inputs[0].Event != domain.EventOriginateSent {
		t.Fatalf("sink inputs = %+v", f.sink.inputs)
	}
}

func TestExecuteBatchThrottledJobRequeued(t *testing.T) {
	f := newExecFixture(t)
	accountID := uuid.New()
	f.seedTrunk(t, "primary", 95, false)
	job, _ := f.seedJob(t, accountID)
	f.throttle.grant = false

	results, err := f.exec.ExecuteBatch(context.Background(), accountID, 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Success || results[0].Error != "Throttled" {
		t.Fatalf("result = %+v", results[0])
	}

	stored, _ := f.jobs.Get(job.ID)
	if stored.Status != domain.JobStatusPending {
		t.Fatalf("throttled job status = %s, want PENDING for retry", stored.Status)
	}
	if stored.LockedBy != nil {
		t.Fatal("requeued job must drop its lock")
	}
	if len(f.sink.inputs) != 0 {
		t.Fatal("throttled job must not originate")
	}
}

func TestExecuteBatchSkipsDegradedCarrier(t *testing.T) {
	f := newExecFixture(t)
	accountID := uuid.New()
	f.seedTrunk(t, "degraded", 30, true)
	healthy := f.seedTrunk(t, "healthy", 80, false)
	f.seedJob(t, accountID)

	results, err := f.exec.ExecuteBatch(context.Background(), accountID, 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !results[0].Success {
		t.Fatalf("result = %+v", results[0])
	}
	if results[0].TrunkID != healthy.ID.String() {
		t.Fatalf("selected trunk = %s, want healthy %s", results[0].TrunkID, healthy.ID)
	}
}

func TestExecuteBatchAllCarriersDegraded(t *testing.T) {
	f := newExecFixture(t)
	accountID := uuid.New()
	f.seedTrunk(t, "bad-1", 20, true)
	f.seedTrunk(t, "bad-2", 10, true)
	job, _ := f.seedJob(t, accountID)

	results, err := f.exec.ExecuteBatch(context.Background(), accountID, 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Success {
		t.Fatal("dispatch must fail with every carrier degraded")
	}

	stored, _ := f.jobs.Get(job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want FAILED", stored.Status)
	}
	if stored.ErrorMessage == nil || *stored.ErrorMessage == "" {
		t.Fatal("failed job must carry an error message")
	}
}

func TestExecuteBatchPrefersHealthiestCarrier(t *testing.T) {
	f := newExecFixture(t)
	accountID := uuid.New()
	f.seedTrunk(t, "ok", 60, false)
	best := f.seedTrunk(t, "best", 98, false)
	f.seedJob(t, accountID)

	results, err := f.exec.ExecuteBatch(context.Background(), accountID, 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].TrunkID != best.ID.String() {
		t.Fatalf("selected trunk = %s, want highest-score %s", results[0].TrunkID, best.ID)
	}
}

func TestReclaimStale(t *testing.T) {
	f := newExecFixture(t)
	accountID := uuid.New()
	f.seedTrunk(t, "primary", 95, false)
	job, _ := f.seedJob(t, accountID)

	// Simulate a dead executor holding the claim past the lock timeout.
	claimed, err := f.jobs.Claim(context.Background(), "dead-exec", accountID, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}

	// Fresh lock: nothing to reclaim yet.
	n, err := f.exec.ReclaimStale(context.Background())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 0 {
		t.Fatalf("reclaimed %d fresh locks", n)
	}

	// Age the lock past a tiny window and reclaim through the repo.
	time.Sleep(10 * time.Millisecond)
	reclaimed, err := f.jobs.ReclaimStale(context.Background(), time.Millisecond)
	if err != nil {
		t.Fatalf("reclaim stale: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	stored, _ := f.jobs.Get(job.ID)
	if stored.Status != domain.JobStatusPending || stored.LockedBy != nil {
		t.Fatalf("reclaimed job = %+v", stored)
	}
}
