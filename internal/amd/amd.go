// Package amd classifies who answered an outbound call and routes the
// call accordingly: humans toward an agent, machines toward hangup or
// voicemail drop.
package amd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/lifecycle"
	"github.com/acme/dial-engine/internal/repository"
	apperrors "github.com/acme/dial-engine/pkg/errors"
	"github.com/acme/dial-engine/pkg/logger"
)

// Classification labels for an answered call.
const (
	ResultHuman   = "human"
	ResultMachine = "machine"
	ResultFax     = "fax"
	ResultUnknown = "unknown"
)

// Actions taken after classification.
const (
	ActionConnect = "connect"
	ActionHangup  = "hangup"
	ActionRetry   = "retry"
)

// Result is one provider classification.
type Result struct {
	Result        string        `json:"result"`
	Confidence    float64       `json:"confidence"`
	DetectionTime time.Duration `json:"detection_time"`
}

// Provider runs classification against live call audio.
type Provider interface {
	Classify(ctx context.Context, callID uuid.UUID) (Result, error)
}

// EventSink receives the AMD event derived from classification.
type EventSink interface {
	Submit(ctx context.Context, input lifecycle.EventInput) (*lifecycle.Outcome, error)
}

// Decision reports what the detector concluded and did for a call.
type Decision struct {
	CallID          uuid.UUID `json:"call_id"`
	Result          string    `json:"result"`
	Confidence      float64   `json:"confidence"`
	Action          string    `json:"action"`
	DetectionTimeMs int64     `json:"detection_time_ms"`
}

// Service runs detection once per call: classify, persist the verdict,
// then feed the matching event into the lifecycle so the state machine
// decides whether the call proceeds or tears down.
type Service struct {
	provider Provider
	calls    repository.CallRepository
	sink     EventSink
	timeout  time.Duration
	logger   *logger.Logger
}

// NewService constructs the AMD service.
func NewService(provider Provider, calls repository.CallRepository, sink EventSink, timeout time.Duration, lg *logger.Logger) *Service {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &Service{provider: provider, calls: calls, sink: sink, timeout: timeout, logger: lg}
}

// Detect classifies the answerer of a call. A call that already carries
// a verdict is not re-classified.
func (s *Service) Detect(ctx context.Context, callID uuid.UUID) (*Decision, error) {
	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.AMDResult != nil {
		return nil, fmt.Errorf("%w: call already classified as %s", apperrors.ErrConflict, *call.AMDResult)
	}
	if call.State != domain.CallStateAnswered {
		return nil, fmt.Errorf("%w: detection requires an answered call, state is %s", apperrors.ErrValidation, call.State)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.provider.Classify(cctx, callID)
	if err != nil {
		return nil, fmt.Errorf("amd: classify: %w", err)
	}

	if err := s.calls.SetAMDResult(ctx, callID, result.Result, result.Confidence); err != nil {
		return nil, fmt.Errorf("amd: persist verdict: %w", err)
	}

	decision := &Decision{
		CallID:          callID,
		Result:          result.Result,
		Confidence:      result.Confidence,
		DetectionTimeMs: result.DetectionTime.Milliseconds(),
	}

	var event domain.CallEvent
	switch result.Result {
	case ResultHuman:
		event = domain.EventAMDHuman
		decision.Action = ActionConnect
	case ResultMachine, ResultFax:
		event = domain.EventAMDMachine
		decision.Action = ActionHangup
	default:
		// Inconclusive detection: leave the call ANSWERED and let a
		// later attempt or the no-RTP timer resolve it.
		decision.Action = ActionRetry
		return decision, nil
	}

	outcome, err := s.sink.Submit(ctx, lifecycle.EventInput{
		CallID:   &callID,
		Event:    event,
		Metadata: map[string]any{"amd_confidence": result.Confidence},
	})
	if err != nil {
		return nil, fmt.Errorf("amd: submit event: %w", err)
	}
	if !outcome.Accepted {
		s.logger.Warn("amd: verdict event rejected",
			zap.String("call_id", callID.String()),
			zap.String("event", string(event)),
			zap.String("reason", outcome.Reason))
	}

	s.logger.Info("amd: call classified",
		zap.String("call_id", callID.String()),
		zap.String("result", result.Result),
		zap.Float64("confidence", result.Confidence),
		zap.String("action", decision.Action))
	return decision, nil
}
