package media

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/lifecycle"
	"github.com/acme/dial-engine/internal/repository"
	"github.com/acme/dial-engine/pkg/logger"
)

// EventSink receives no-media events detected by the scan.
type EventSink interface {
	Submit(ctx context.Context, input lifecycle.EventInput) (*lifecycle.Outcome, error)
}

// Sample is one RTP statistics report from the media plane.
type Sample struct {
	CallID     uuid.UUID `json:"call_id"`
	Packets    int64     `json:"packets"`
	Jitter     float64   `json:"jitter_ms"`
	PacketLoss float64   `json:"packet_loss_pct"`
	ReportedAt time.Time `json:"reported_at"`
}

// CallStatus is the per-call result of a media scan.
type CallStatus struct {
	CallID uuid.UUID `json:"call_id"`
	State  string    `json:"state"`
	Status string    `json:"status"`
}

const (
	StatusOK      = "ok"
	StatusNoMedia = "no_rtp"
)

// Monitor watches in-flight calls for missing media. Fresh RTP samples
// live in Redis under a TTL; a call in a media-bearing state with no
// sample past its grace period is declared dead air and pushed toward
// teardown through the lifecycle.
type Monitor struct {
	calls       repository.CallRepository
	redis       *redis.Client
	sink        EventSink
	gracePeriod time.Duration
	sampleTTL   time.Duration
	interval    time.Duration
	batch       int
	logger      *logger.Logger
}

// NewMonitor constructs a media monitor.
func NewMonitor(calls repository.CallRepository, client *redis.Client, sink EventSink, gracePeriod, sampleTTL, interval time.Duration, batch int, lg *logger.Logger) *Monitor {
	if gracePeriod <= 0 {
		gracePeriod = 5 * time.Second
	}
	if sampleTTL <= 0 {
		sampleTTL = 30 * time.Second
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batch <= 0 {
		batch = 500
	}
	return &Monitor{
		calls:       calls,
		redis:       client,
		sink:        sink,
		gracePeriod: gracePeriod,
		sampleTTL:   sampleTTL,
		interval:    interval,
		batch:       batch,
		logger:      lg,
	}
}

// ReportStats stores one RTP sample for a call. The TTL makes absence
// of a recent sample detectable without explicit stream-end signaling.
func (m *Monitor) ReportStats(ctx context.Context, sample Sample) error {
	sample.ReportedAt = time.Now().UTC()
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("media: marshal sample: %w", err)
	}
	if err := m.redis.Set(ctx, m.sampleKey(sample.CallID), payload, m.sampleTTL).Err(); err != nil {
		return fmt.Errorf("media: store sample: %w", err)
	}
	return nil
}

// LastSample returns the freshest stored sample for a call, nil when
// none survives the TTL.
func (m *Monitor) LastSample(ctx context.Context, callID uuid.UUID) (*Sample, error) {
	raw, err := m.redis.Get(ctx, m.sampleKey(callID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("media: load sample: %w", err)
	}
	var sample Sample
	if err := json.Unmarshal(raw, &sample); err != nil {
		return nil, fmt.Errorf("media: decode sample: %w", err)
	}
	return &sample, nil
}

// CheckAll scans calls in media-bearing states and reports per-call
// status. Calls past the grace period with no live sample get a
// no-media event submitted.
func (m *Monitor) CheckAll(ctx context.Context) ([]CallStatus, error) {
	tracer := otel.Tracer("dialer.media")
	sctx, span := tracer.Start(ctx, "media.check_all")
	defer span.End()

	watched := []domain.CallState{domain.CallStateAnswered, domain.CallStateBridged}
	calls, err := m.calls.ListByStates(sctx, watched, m.batch)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("media: list watched calls: %w", err)
	}
	span.SetAttributes(attribute.Int("calls.watched", len(calls)))

	now := time.Now().UTC()
	statuses := make([]CallStatus, 0, len(calls))
	for _, call := range calls {
		status := CallStatus{CallID: call.ID, State: string(call.State), Status: StatusOK}

		sample, err := m.LastSample(sctx, call.ID)
		if err != nil {
			m.logger.Warn("media: sample lookup failed",
				zap.Error(err),
				zap.String("call_id", call.ID.String()))
			statuses = append(statuses, status)
			continue
		}

		if sample == nil && m.pastGrace(call, now) {
			status.Status = StatusNoMedia
			m.flagNoMedia(sctx, call)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// pastGrace reports whether the call has been connected long enough
// that missing media means dead air rather than setup latency.
func (m *Monitor) pastGrace(call domain.Call, now time.Time) bool {
	anchor := call.StartedAt
	if call.ConnectedAt != nil {
		anchor = *call.ConnectedAt
	}
	return now.Sub(anchor) > m.gracePeriod
}

func (m *Monitor) flagNoMedia(ctx context.Context, call domain.Call) {
	// RTP never arrived in ANSWERED versus vanished mid-call in BRIDGED.
	event := domain.EventRTPTimeout
	if call.State == domain.CallStateBridged {
		event = domain.EventRTPGone
	}

	outcome, err := m.sink.Submit(ctx, lifecycle.EventInput{
		CallID: &call.ID,
		Event:  event,
	})
	if err != nil {
		m.logger.Error("media: submit no-media event",
			zap.Error(err),
			zap.String("call_id", call.ID.String()))
		return
	}
	if outcome.Accepted {
		m.logger.Warn("media: no RTP detected",
			zap.String("call_id", call.ID.String()),
			zap.String("state", string(call.State)),
			zap.String("event", string(event)))
	}
}

// Run scans on a fixed interval until cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.CheckAll(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("media scan failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) sampleKey(callID uuid.UUID) string {
	return fmt.Sprintf("dialer:media:%s:sample", callID.String())
}
