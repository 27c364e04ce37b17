package routehealth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/repository"
	"github.com/acme/dial-engine/pkg/logger"
)

const (
	targetASR         = 70.0
	noMediaPenalty    = 5.0
	degradedThreshold = 50.0
	defaultWindow     = 24 * time.Hour
	defaultInterval   = time.Minute
)

// Score computes the health score and ASR for one carrier window.
// The score starts at 100, loses max(0, (70-asr)/2) for a below-target
// answer rate and 5 per no-media call, clamped to [0, 100].
func Score(window repository.CarrierWindow) (score, asr float64) {
	if window.Total > 0 {
		asr = float64(window.Connected) / float64(window.Total) * 100
	}

	score = 100
	if penalty := (targetASR - asr) / 2; penalty > 0 {
		score -= penalty
	}
	score -= noMediaPenalty * float64(window.NoMedia)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, asr
}

// Monitor recomputes per-carrier route health from recent outcomes.
type Monitor struct {
	repo     repository.RouteHealthRepository
	window   time.Duration
	interval time.Duration
	logger   *logger.Logger
}

// NewMonitor constructs a route health monitor.
func NewMonitor(repo repository.RouteHealthRepository, window, interval time.Duration, lg *logger.Logger) *Monitor {
	if window <= 0 {
		window = defaultWindow
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{repo: repo, window: window, interval: interval, logger: lg}
}

// UpdateAll recomputes the score for every carrier with calls in the
// trailing window and returns the refreshed records.
func (m *Monitor) UpdateAll(ctx context.Context) ([]domain.RouteHealth, error) {
	tracer := otel.Tracer("dialer.routehealth")
	sctx, span := tracer.Start(ctx, "routehealth.update_all")
	defer span.End()

	since := time.Now().UTC().Add(-m.window)
	windows, err := m.repo.WindowStats(sctx, since)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("route health: window stats: %w", err)
	}
	span.SetAttributes(attribute.Int("carrier.count", len(windows)))

	updated := make([]domain.RouteHealth, 0, len(windows))
	for _, w := range windows {
		score, asr := Score(w)
		health := domain.RouteHealth{
			CarrierID:   w.CarrierID,
			HealthScore: score,
			ASR:         asr,
			TotalCalls:  w.Total,
			Connected:   w.Connected,
			Failed:      w.Failed,
			NoMedia:     w.NoMedia,
			IsDegraded:  score < degradedThreshold,
			UpdatedAt:   time.Now().UTC(),
		}
		if err := m.repo.Upsert(sctx, &health); err != nil {
			span.RecordError(err)
			m.logger.Error("route health: upsert", zap.Error(err), zap.String("carrier_id", w.CarrierID.String()))
			continue
		}
		if health.IsDegraded {
			m.logger.Warn("route health: carrier degraded",
				zap.String("carrier_id", w.CarrierID.String()),
				zap.Float64("score", score),
				zap.Float64("asr", asr))
		}
		updated = append(updated, health)
	}

	return updated, nil
}

// Status returns all health records ranked by descending score.
func (m *Monitor) Status(ctx context.Context) ([]domain.RouteHealth, error) {
	records, err := m.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("route health: list: %w", err)
	}
	return records, nil
}

// Reset clears the degraded state for a carrier and restores its score
// to 100. Used by operators after a carrier-side fix.
func (m *Monitor) Reset(ctx context.Context, carrierID uuid.UUID) error {
	if err := m.repo.Reset(ctx, carrierID); err != nil {
		return fmt.Errorf("route health: reset: %w", err)
	}
	m.logger.Info("route health: carrier reset", zap.String("carrier_id", carrierID.String()))
	return nil
}

// Run recomputes health on a fixed interval until cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.UpdateAll(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("route health: update failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
