package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/queue"
	"github.com/acme/dial-engine/internal/repository"
	"github.com/acme/dial-engine/internal/statemachine"
	"github.com/acme/dial-engine/pkg/logger"
)

// ChannelReleaser frees a trunk channel hold when a call terminates.
type ChannelReleaser interface {
	Release(ctx context.Context, trunkID uuid.UUID) error
}

// OutcomePublisher announces terminal transitions downstream.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, msg queue.OutcomeMessage) error
}

// Deadlines configures the timers armed on state entry.
type Deadlines struct {
	RingTimeout  time.Duration
	NoRTPTimeout time.Duration
	MaxDuration  time.Duration
}

func (d Deadlines) withDefaults() Deadlines {
	if d.RingTimeout <= 0 {
		d.RingTimeout = 30 * time.Second
	}
	if d.NoRTPTimeout <= 0 {
		d.NoRTPTimeout = 5 * time.Second
	}
	if d.MaxDuration <= 0 {
		d.MaxDuration = 4 * time.Hour
	}
	return d
}

// EventInput describes one event submission against a call.
type EventInput struct {
	CallID    *uuid.UUID
	AttemptID *uuid.UUID
	Event     domain.CallEvent
	SIPCode   int
	RTPStats  map[string]any
	Metadata  map[string]any
}

// Outcome reports the result of an event submission. A rejected
// transition is a normal outcome, not an error (§ invalid-for-state
// events arrive routinely from at-least-once signaling delivery).
type Outcome struct {
	Accepted      bool
	PreviousState domain.CallState
	CurrentState  domain.CallState
	Reason        string
}

// Service serializes call transitions: validate against the state
// machine, append the audit record, then conditionally advance the call
// row. The log write precedes the state write so a crash between the
// two leaves the log as the recovery source of truth.
type Service struct {
	calls     repository.CallRepository
	attempts  repository.AttemptRepository
	audit     repository.AuditStore
	timers    repository.TimerRepository
	releaser  ChannelReleaser
	outcomes  OutcomePublisher
	deadlines Deadlines
	logger    *logger.Logger
}

// NewService builds the lifecycle service. releaser and outcomes may be
// nil for deployments without a throttle or outcome topic.
func NewService(
	calls repository.CallRepository,
	attempts repository.AttemptRepository,
	audit repository.AuditStore,
	timers repository.TimerRepository,
	releaser ChannelReleaser,
	outcomes OutcomePublisher,
	deadlines Deadlines,
	lg *logger.Logger,
) *Service {
	return &Service{
		calls:     calls,
		attempts:  attempts,
		audit:     audit,
		timers:    timers,
		releaser:  releaser,
		outcomes:  outcomes,
		deadlines: deadlines.withDefaults(),
		logger:    lg,
	}
}

// Submit applies one event to a call. The returned Outcome reports
// acceptance; errors are reserved for infrastructure faults.
func (s *Service) Submit(ctx context.Context, input EventInput) (*Outcome, error) {
	tracer := otel.Tracer("dialer.lifecycle")
	sctx, span := tracer.Start(ctx, "lifecycle.submit")
	defer span.End()

	call, attempt, err := s.resolve(sctx, input)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("call.id", call.ID.String()),
		attribute.String("call.state", string(call.State)),
		attribute.String("event", string(input.Event)),
	)

	res := statemachine.Apply(call.State, input.Event)
	if !res.Accepted {
		s.logger.Debug("lifecycle: event rejected",
			zap.String("call_id", call.ID.String()),
			zap.String("event", string(input.Event)),
			zap.String("state", string(call.State)))
		return &Outcome{
			Accepted:      false,
			PreviousState: call.State,
			CurrentState:  call.State,
			Reason:        res.Reason,
		}, nil
	}

	now := time.Now().UTC()
	stamps := repository.StateStamps{}
	if res.To == domain.CallStateAnswered && call.ConnectedAt == nil {
		stamps.ConnectedAt = &now
	}
	// NO_RTP closes the call for accounting even though a late BYE may
	// still move it to ENDED: ended_at, channel release and the outcome
	// all happen on entry, exactly once.
	closing := statemachine.IsTerminal(res.To) || res.To == domain.CallStateNoRTP
	closing = closing && res.From != domain.CallStateNoRTP
	if closing {
		stamps.EndedAt = &now
	}

	record := domain.TransitionRecord{
		CallID:     call.ID,
		FromState:  res.From,
		ToState:    res.To,
		Event:      input.Event,
		SIPCode:    input.SIPCode,
		RTPStats:   input.RTPStats,
		Metadata:   input.Metadata,
		OccurredAt: now,
	}
	if err := s.audit.AppendTransition(sctx, record); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("lifecycle: append transition log: %w", err)
	}

	if err := s.calls.UpdateStateCAS(sctx, call.ID, res.From, res.To, stamps); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("lifecycle: advance call state: %w", err)
	}

	s.armDeadlines(sctx, call, attempt, res.To, now)

	if closing {
		s.finalize(sctx, call, attempt, res, stamps, now)
	}

	return &Outcome{Accepted: true, PreviousState: res.From, CurrentState: res.To}, nil
}

// History lists the audit trail for a call, newest first.
func (s *Service) History(ctx context.Context, callID uuid.UUID, limit int) ([]domain.TransitionRecord, error) {
	if _, err := s.calls.Get(ctx, callID); err != nil {
		return nil, err
	}
	return s.audit.ListTransitions(ctx, callID, limit)
}

func (s *Service) resolve(ctx context.Context, input EventInput) (*domain.Call, *domain.CallAttempt, error) {
	var attempt *domain.CallAttempt
	var callID uuid.UUID

	switch {
	case input.AttemptID != nil:
		a, err := s.attempts.Get(ctx, *input.AttemptID)
		if err != nil {
			return nil, nil, err
		}
		attempt = a
		callID = a.CallID
	case input.CallID != nil:
		callID = *input.CallID
	default:
		return nil, nil, fmt.Errorf("%w: call_id or attempt_id is required", repository.ErrNotFound)
	}

	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		return nil, nil, err
	}

	if attempt == nil {
		// Best effort: timers and throttle release need the attempt,
		// but a call created outside the dispatch path may lack one.
		if a, err := s.attempts.GetLatestByCallID(ctx, callID); err == nil {
			attempt = a
		}
	}

	return call, attempt, nil
}

// armDeadlines arms the timer implied by entering the new state. Old
// timers are not cancelled; the sweep discards them as stale once the
// call has moved past their armed state.
func (s *Service) armDeadlines(ctx context.Context, call *domain.Call, attempt *domain.CallAttempt, state domain.CallState, now time.Time) {
	if attempt == nil {
		return
	}

	var timerType domain.TimerType
	var expiry time.Duration
	switch state {
	case domain.CallStateOriginating:
		timerType, expiry = domain.TimerRingTimeout, s.deadlines.RingTimeout
	case domain.CallStateAnswered:
		timerType, expiry = domain.TimerAnswerNoRTP, s.deadlines.NoRTPTimeout
	case domain.CallStateBridged, domain.CallStatePlaying, domain.CallStateRecording:
		timerType, expiry = domain.TimerMaxDuration, s.deadlines.MaxDuration
	default:
		return
	}

	timer := &domain.Timer{
		ID:         uuid.New(),
		AttemptID:  attempt.ID,
		CallID:     call.ID,
		Type:       timerType,
		ArmedState: state,
		ExpiresAt:  now.Add(expiry),
		CreatedAt:  now,
	}
	if err := s.timers.Arm(ctx, timer); err != nil {
		s.logger.Error("lifecycle: arm timer",
			zap.Error(err),
			zap.String("call_id", call.ID.String()),
			zap.String("timer_type", string(timerType)))
	}
}

func (s *Service) finalize(ctx context.Context, call *domain.Call, attempt *domain.CallAttempt, res statemachine.Result, stamps repository.StateStamps, now time.Time) {
	if attempt != nil && attempt.TrunkID != nil && s.releaser != nil {
		if err := s.releaser.Release(ctx, *attempt.TrunkID); err != nil {
			s.logger.Error("lifecycle: release trunk channel",
				zap.Error(err),
				zap.String("trunk_id", attempt.TrunkID.String()))
		}
	}

	if attempt != nil {
		attemptState := domain.AttemptStateCompleted
		if res.To == domain.CallStateFailed {
			attemptState = domain.AttemptStateFailed
		}
		if err := s.attempts.UpdateState(ctx, attempt.ID, attemptState); err != nil {
			s.logger.Error("lifecycle: update attempt state", zap.Error(err))
		}
	}

	if s.outcomes == nil {
		return
	}

	connectedAt := call.ConnectedAt
	if stamps.ConnectedAt != nil {
		connectedAt = stamps.ConnectedAt
	}
	var durationMs int64
	if connectedAt != nil {
		durationMs = now.Sub(*connectedAt).Milliseconds()
	}
	amdResult := ""
	if call.AMDResult != nil {
		amdResult = *call.AMDResult
	}

	msg := queue.OutcomeMessage{
		CallID:       call.ID,
		CampaignID:   call.CampaignID,
		AccountID:    call.AccountID,
		FinalState:   string(res.To),
		TriggerEvent: string(res.Event),
		AMDResult:    amdResult,
		DurationMs:   durationMs,
		ConnectedAt:  connectedAt,
		EndedAt:      now,
		OccurredAt:   now,
	}
	if err := s.outcomes.PublishOutcome(ctx, msg); err != nil {
		s.logger.Error("lifecycle: publish outcome",
			zap.Error(err),
			zap.String("call_id", call.ID.String()))
	}
}
