package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/lifecycle"
	"github.com/acme/dial-engine/internal/repository"
	"github.com/acme/dial-engine/pkg/logger"
)

// ChannelAcquirer guards trunk capacity ahead of origination.
type ChannelAcquirer interface {
	Acquire(ctx context.Context, trunk *domain.Trunk) (bool, error)
}

// EventSink receives the ORIGINATE_SENT event once dispatch succeeds.
type EventSink interface {
	Submit(ctx context.Context, input lifecycle.EventInput) (*lifecycle.Outcome, error)
}

// JobResult reports the dispatch outcome of one claimed job.
type JobResult struct {
	JobID     uuid.UUID `json:"job_id"`
	AttemptID uuid.UUID `json:"attempt_id"`
	Success   bool      `json:"success"`
	TrunkID   string    `json:"trunk_id,omitempty"`
	CallerID  string    `json:"caller_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Executor claims origination jobs and dispatches them: pick the
// healthiest trunk with capacity, reserve a channel, stamp the routing
// decision on the attempt and drive the call into ORIGINATING.
type Executor struct {
	owner        string
	jobs         repository.JobRepository
	attempts     repository.AttemptRepository
	trunks       repository.TrunkRepository
	health       repository.RouteHealthRepository
	throttle     ChannelAcquirer
	sink         EventSink
	pollInterval time.Duration
	batchSize    int
	lockTimeout  time.Duration
	logger       *logger.Logger
}

// New constructs an executor. owner identifies this instance in job
// locks; when empty the hostname is used.
func New(
	owner string,
	jobs repository.JobRepository,
	attempts repository.AttemptRepository,
	trunks repository.TrunkRepository,
	health repository.RouteHealthRepository,
	throttle ChannelAcquirer,
	sink EventSink,
	pollInterval time.Duration,
	batchSize int,
	lockTimeout time.Duration,
	lg *logger.Logger,
) *Executor {
	if owner == "" {
		host, err := os.Hostname()
		if err != nil {
			host = uuid.NewString()
		}
		owner = host
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if lockTimeout <= 0 {
		lockTimeout = time.Minute
	}
	return &Executor{
		owner:        owner,
		jobs:         jobs,
		attempts:     attempts,
		trunks:       trunks,
		health:       health,
		throttle:     throttle,
		sink:         sink,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		lockTimeout:  lockTimeout,
		logger:       lg,
	}
}

// ExecuteBatch claims up to maxJobs pending jobs for the account and
// dispatches each one. Per-job failures are recorded on the job row and
// reported in the result list; they never abort the batch.
func (e *Executor) ExecuteBatch(ctx context.Context, accountID uuid.UUID, maxJobs int) ([]JobResult, error) {
	tracer := otel.Tracer("dialer.executor")
	sctx, span := tracer.Start(ctx, "executor.execute_batch")
	defer span.End()

	if maxJobs <= 0 || maxJobs > e.batchSize {
		maxJobs = e.batchSize
	}
	claimed, err := e.jobs.Claim(sctx, e.owner, accountID, maxJobs)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("executor: claim jobs: %w", err)
	}
	span.SetAttributes(attribute.Int("jobs.claimed", len(claimed)))

	results := make([]JobResult, 0, len(claimed))
	for _, job := range claimed {
		results = append(results, e.dispatch(sctx, job))
	}
	return results, nil
}

func (e *Executor) dispatch(ctx context.Context, job domain.OriginateJob) JobResult {
	result := JobResult{JobID: job.ID, AttemptID: job.AttemptID}

	attempt, err := e.attempts.Get(ctx, job.AttemptID)
	if err != nil {
		result.Error = "Attempt not found"
		e.fail(ctx, job.ID, result.Error)
		return result
	}

	trunk, err := e.selectTrunk(ctx)
	if err != nil {
		result.Error = err.Error()
		e.fail(ctx, job.ID, result.Error)
		return result
	}

	granted, err := e.throttle.Acquire(ctx, trunk)
	if err != nil {
		result.Error = "Throttle check failed"
		e.requeue(ctx, job.ID)
		return result
	}
	if !granted {
		result.Error = "Throttled"
		e.requeue(ctx, job.ID)
		return result
	}

	callerID, err := e.pickCallerID(ctx, trunk.CarrierID)
	if err != nil {
		result.Error = err.Error()
		e.fail(ctx, job.ID, result.Error)
		return result
	}

	if err := e.attempts.UpdateRouting(ctx, attempt.ID, trunk.ID, trunk.CarrierID, callerID); err != nil {
		result.Error = "Routing update failed"
		e.fail(ctx, job.ID, result.Error)
		return result
	}

	outcome, err := e.sink.Submit(ctx, lifecycle.EventInput{
		AttemptID: &attempt.ID,
		Event:     domain.EventOriginateSent,
		Metadata:  map[string]any{"trunk_id": trunk.ID.String(), "caller_id": callerID},
	})
	if err != nil {
		result.Error = "Originate event failed"
		e.fail(ctx, job.ID, result.Error)
		return result
	}
	if !outcome.Accepted {
		result.Error = fmt.Sprintf("Call not dialable: %s", outcome.Reason)
		e.fail(ctx, job.ID, result.Error)
		return result
	}

	if err := e.attempts.UpdateState(ctx, attempt.ID, domain.AttemptStateOriginating); err != nil {
		e.logger.Error("executor: mark attempt originating", zap.Error(err))
	}
	if err := e.jobs.MarkCompleted(ctx, job.ID); err != nil {
		e.logger.Error("executor: mark job completed", zap.Error(err))
	}

	result.Success = true
	result.TrunkID = trunk.ID.String()
	result.CallerID = callerID
	return result
}

// selectTrunk returns the active trunk on the healthiest non-degraded
// carrier. Trunks on degraded carriers are skipped entirely; when every
// carrier is degraded no trunk is eligible.
func (e *Executor) selectTrunk(ctx context.Context) (*domain.Trunk, error) {
	trunks, err := e.trunks.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trunks: %w", err)
	}
	if len(trunks) == 0 {
		return nil, fmt.Errorf("no active trunks")
	}

	ranked, err := e.health.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("route health: %w", err)
	}
	degraded := make(map[uuid.UUID]bool)
	rank := make(map[uuid.UUID]int)
	for i, record := range ranked {
		rank[record.CarrierID] = i
		if record.IsDegraded {
			degraded[record.CarrierID] = true
		}
	}

	var best *domain.Trunk
	bestRank := int(^uint(0) >> 1)
	for i := range trunks {
		trunk := &trunks[i]
		if degraded[trunk.CarrierID] {
			continue
		}
		r, scored := rank[trunk.CarrierID]
		if !scored {
			// Unscored carriers rank behind every scored one.
			r = len(ranked)
		}
		if best == nil || r < bestRank {
			best = trunk
			bestRank = r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("all carriers degraded")
	}
	return best, nil
}

func (e *Executor) pickCallerID(ctx context.Context, carrierID uuid.UUID) (string, error) {
	callerIDs, err := e.trunks.ListCallerIDs(ctx, carrierID)
	if err != nil {
		return "", fmt.Errorf("list caller ids: %w", err)
	}
	if len(callerIDs) == 0 {
		return "", fmt.Errorf("no caller id for carrier")
	}
	// Spread presentation numbers without per-carrier rotation state.
	idx := int(time.Now().UnixNano() % int64(len(callerIDs)))
	return callerIDs[idx].Number, nil
}

func (e *Executor) fail(ctx context.Context, jobID uuid.UUID, message string) {
	if err := e.jobs.MarkFailed(ctx, jobID, message); err != nil {
		e.logger.Error("executor: mark job failed",
			zap.Error(err),
			zap.String("job_id", jobID.String()))
	}
}

func (e *Executor) requeue(ctx context.Context, jobID uuid.UUID) {
	if err := e.jobs.Requeue(ctx, jobID); err != nil {
		e.logger.Error("executor: requeue job",
			zap.Error(err),
			zap.String("job_id", jobID.String()))
	}
}

// ReclaimStale releases jobs whose executor died mid-dispatch so a
// healthy instance can retry them.
func (e *Executor) ReclaimStale(ctx context.Context) (int64, error) {
	n, err := e.jobs.ReclaimStale(ctx, e.lockTimeout)
	if err != nil {
		return 0, fmt.Errorf("executor: reclaim stale jobs: %w", err)
	}
	if n > 0 {
		e.logger.Warn("executor: reclaimed stale jobs", zap.Int64("count", n))
	}
	return n, nil
}

// Run polls for work across the given accounts until cancelled.
func (e *Executor) Run(ctx context.Context, accountIDs []uuid.UUID) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		for _, accountID := range accountIDs {
			if _, err := e.ExecuteBatch(ctx, accountID, e.batchSize); err != nil && ctx.Err() == nil {
				e.logger.Error("executor batch failed",
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
