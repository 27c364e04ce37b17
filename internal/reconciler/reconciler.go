// Package reconciler converts raw signaling notifications from the
// telephony edge into validated lifecycle events.
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/lifecycle"
	"github.com/acme/dial-engine/internal/repository"
	"github.com/acme/dial-engine/pkg/logger"
)

// EventSink receives the lifecycle events derived from notifications.
type EventSink interface {
	Submit(ctx context.Context, input lifecycle.EventInput) (*lifecycle.Outcome, error)
}

// Notification is one raw event from the signaling plane, matched to a
// call attempt by correlation id.
type Notification struct {
	CorrelationID string         `json:"correlation_id"`
	SIPCode       int            `json:"sip_code,omitempty"`
	EventType     string         `json:"event_type,omitempty"`
	AMDResult     string         `json:"amd_result,omitempty"`
	RTPStats      map[string]any `json:"rtp_stats,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// ItemResult reports the reconciliation of one notification.
type ItemResult struct {
	CorrelationID string `json:"correlation_id"`
	Applied       bool   `json:"applied"`
	Event         string `json:"event,omitempty"`
	State         string `json:"state,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Reconciler maps notifications to lifecycle events. Every notification
// is recorded raw for audit before mapping; unmappable or unmatched
// notifications are reported per item, never failing the batch.
type Reconciler struct {
	attempts repository.AttemptRepository
	audit    repository.AuditStore
	sink     EventSink
	logger   *logger.Logger
}

// New constructs a reconciler.
func New(attempts repository.AttemptRepository, audit repository.AuditStore, sink EventSink, lg *logger.Logger) *Reconciler {
	return &Reconciler{attempts: attempts, audit: audit, sink: sink, logger: lg}
}

// Reconcile processes a batch of notifications, one result per item.
func (r *Reconciler) Reconcile(ctx context.Context, notifications []Notification) []ItemResult {
	tracer := otel.Tracer("dialer.reconciler")
	sctx, span := tracer.Start(ctx, "reconciler.reconcile")
	defer span.End()
	span.SetAttributes(attribute.Int("notifications.count", len(notifications)))

	results := make([]ItemResult, 0, len(notifications))
	for _, notification := range notifications {
		results = append(results, r.reconcileOne(sctx, notification))
	}
	return results
}

func (r *Reconciler) reconcileOne(ctx context.Context, notification Notification) ItemResult {
	result := ItemResult{CorrelationID: notification.CorrelationID}

	r.record(ctx, notification)

	if notification.CorrelationID == "" {
		result.Error = "Missing correlation id"
		return result
	}

	attempt, err := r.attempts.GetByCorrelationID(ctx, notification.CorrelationID)
	if err != nil {
		result.Error = "No attempt for correlation id"
		return result
	}

	event, ok := MapEvent(notification)
	if !ok {
		result.Error = fmt.Sprintf("Unmappable notification: type=%q sip=%d", notification.EventType, notification.SIPCode)
		return result
	}
	result.Event = string(event)

	outcome, err := r.sink.Submit(ctx, lifecycle.EventInput{
		AttemptID: &attempt.ID,
		Event:     event,
		SIPCode:   notification.SIPCode,
		RTPStats:  notification.RTPStats,
		Metadata:  notification.Payload,
	})
	if err != nil {
		r.logger.Error("reconciler: submit event",
			zap.Error(err),
			zap.String("correlation_id", notification.CorrelationID),
			zap.String("event", string(event)))
		result.Error = "Event submission failed"
		return result
	}

	result.Applied = outcome.Accepted
	result.State = string(outcome.CurrentState)
	if !outcome.Accepted {
		result.Error = outcome.Reason
	}
	return result
}

// record appends the raw notification to the audit store. Failures are
// logged only; audit must never block reconciliation.
func (r *Reconciler) record(ctx context.Context, notification Notification) {
	err := r.audit.RecordSignalingEvent(ctx, domain.RawSignalingEvent{
		CorrelationID: notification.CorrelationID,
		SIPCode:       notification.SIPCode,
		EventType:     notification.EventType,
		AMDResult:     notification.AMDResult,
		Payload:       notification.Payload,
		ReceivedAt:    time.Now().UTC(),
	})
	if err != nil {
		r.logger.Error("reconciler: record raw event", zap.Error(err))
	}
}

// MapEvent translates a notification into a lifecycle event. The event
// type takes precedence over the SIP code when both are present.
func MapEvent(notification Notification) (domain.CallEvent, bool) {
	switch strings.ToLower(notification.EventType) {
	case "rtp_started":
		return domain.EventRTPStarted, true
	case "rtp_timeout":
		return domain.EventRTPTimeout, true
	case "rtp_gone":
		return domain.EventRTPGone, true
	case "hangup", "bye":
		return domain.EventBye, true
	case "cancel":
		return domain.EventCancel, true
	case "originate_failed":
		return domain.EventOriginateFailed, true
	case "amd":
		switch strings.ToLower(notification.AMDResult) {
		case "human":
			return domain.EventAMDHuman, true
		// Fax behaves like machine: the lifecycle has no fax event.
		case "machine", "fax":
			return domain.EventAMDMachine, true
		}
		return "", false
	case "":
		// Fall through to the SIP code.
	default:
		return "", false
	}

	switch {
	case notification.SIPCode == 180:
		return domain.EventSIP180, true
	case notification.SIPCode == 183:
		return domain.EventSIP183, true
	case notification.SIPCode == 200:
		return domain.EventSIP200, true
	case notification.SIPCode >= 400 && notification.SIPCode < 500:
		return domain.EventSIP4xx, true
	case notification.SIPCode >= 500 && notification.SIPCode < 600:
		return domain.EventSIP5xx, true
	}
	return "", false
}
