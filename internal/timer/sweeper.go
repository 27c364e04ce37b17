package timer

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/lifecycle"
	"github.com/acme/dial-engine/internal/repository"
	"github.com/acme/dial-engine/pkg/logger"
)

// EventSink receives the synthetic events produced by firing timers.
type EventSink interface {
	Submit(ctx context.Context, input lifecycle.EventInput) (*lifecycle.Outcome, error)
}

// firings maps each timer type to the event it emits and the states in
// which firing is meaningful. A timer remains live while its call stays
// anywhere inside the qualifying set; once the call leaves it the timer
// is discarded, never fired.
var firings = map[domain.TimerType]struct {
	event  domain.CallEvent
	states map[domain.CallState]bool
}{
	domain.TimerRingTimeout: {
		event: domain.EventRingTimeout,
		states: map[domain.CallState]bool{
			domain.CallStateOriginating: true,
			domain.CallStateRinging:     true,
			domain.CallStateEarlyMedia:  true,
		},
	},
	domain.TimerAnswerNoRTP: {
		event:  domain.EventRTPTimeout,
		states: map[domain.CallState]bool{domain.CallStateAnswered: true},
	},
	// AGENT_ASSIGN_TIMEOUT has no qualifying lifecycle state; a fired
	// instance is always discarded.
	domain.TimerAgentAssign: {
		event:  domain.EventAgentTimeout,
		states: map[domain.CallState]bool{},
	},
	domain.TimerMaxDuration: {
		event: domain.EventMaxDuration,
		states: map[domain.CallState]bool{
			domain.CallStateBridged:   true,
			domain.CallStateRecording: true,
			domain.CallStatePlaying:   true,
		},
	},
}

// MapFiring resolves the event for a timer type firing in the given
// state; ok is false when the state no longer qualifies.
func MapFiring(timerType domain.TimerType, state domain.CallState) (domain.CallEvent, bool) {
	firing, known := firings[timerType]
	if !known || !firing.states[state] {
		return "", false
	}
	return firing.event, true
}

// Sweeper claims expired timers and feeds their events into the call
// lifecycle. Claiming marks the timer fired, so each deadline produces
// at most one event across all sweeper instances.
type Sweeper struct {
	timers   repository.TimerRepository
	calls    repository.CallRepository
	sink     EventSink
	interval time.Duration
	batch    int
	logger   *logger.Logger
}

// NewSweeper constructs a timer sweeper.
func NewSweeper(timers repository.TimerRepository, calls repository.CallRepository, sink EventSink, interval time.Duration, batch int, lg *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 200
	}
	return &Sweeper{timers: timers, calls: calls, sink: sink, interval: interval, batch: batch, logger: lg}
}

// Sweep claims and processes one batch of due timers, returning how
// many produced an event.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	tracer := otel.Tracer("dialer.timer")
	sctx, span := tracer.Start(ctx, "timer.sweep")
	defer span.End()

	due, err := s.timers.ClaimDue(sctx, time.Now().UTC(), s.batch)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("timer sweep: claim due: %w", err)
	}
	span.SetAttributes(attribute.Int("timers.due", len(due)))

	fired := 0
	for _, timer := range due {
		call, err := s.calls.Get(sctx, timer.CallID)
		if err != nil {
			s.logger.Warn("timer sweep: load call",
				zap.Error(err),
				zap.String("timer_id", timer.ID.String()))
			continue
		}

		// Stale timer: the call left the states this timer type can
		// fire in. A ring timer armed in ORIGINATING stays live through
		// RINGING and EARLY_MEDIA; it is only the answer that outruns it.
		event, ok := MapFiring(timer.Type, call.State)
		if !ok {
			s.logger.Debug("timer sweep: discarding stale timer",
				zap.String("timer_id", timer.ID.String()),
				zap.String("timer_type", string(timer.Type)),
				zap.String("armed_state", string(timer.ArmedState)),
				zap.String("current_state", string(call.State)))
			continue
		}

		attemptID := timer.AttemptID
		outcome, err := s.sink.Submit(sctx, lifecycle.EventInput{
			AttemptID: &attemptID,
			Event:     event,
			Metadata:  map[string]any{"timer_type": string(timer.Type)},
		})
		if err != nil {
			span.RecordError(err)
			s.logger.Error("timer sweep: submit event",
				zap.Error(err),
				zap.String("timer_id", timer.ID.String()),
				zap.String("event", string(event)))
			continue
		}
		if outcome.Accepted {
			fired++
		}
	}

	return fired, nil
}

// Run sweeps on a fixed interval until cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("timer sweep failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("timer sweep fired events", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
