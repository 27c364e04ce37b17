package amd

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimulatedProvider fabricates classifications with a configurable
// human rate. Used in development and load testing where no media
// plane exists.
type SimulatedProvider struct {
	mu        sync.Mutex
	rng       *rand.Rand
	humanRate float64
	latency   time.Duration
}

// NewSimulatedProvider builds a provider answering "human" with the
// given probability. seed fixes the sequence for reproducible runs.
func NewSimulatedProvider(humanRate float64, latency time.Duration, seed int64) *SimulatedProvider {
	if humanRate < 0 {
		humanRate = 0
	}
	if humanRate > 1 {
		humanRate = 1
	}
	return &SimulatedProvider{
		rng:       rand.New(rand.NewSource(seed)),
		humanRate: humanRate,
		latency:   latency,
	}
}

// Classify returns a fabricated verdict after the configured latency.
func (p *SimulatedProvider) Classify(ctx context.Context, _ uuid.UUID) (Result, error) {
	if p.latency > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(p.latency):
		}
	}

	p.mu.Lock()
	roll := p.rng.Float64()
	confidence := 0.75 + p.rng.Float64()*0.24
	p.mu.Unlock()

	verdict := ResultMachine
	if roll < p.humanRate {
		verdict = ResultHuman
	}
	return Result{
		Result:        verdict,
		Confidence:    confidence,
		DetectionTime: p.latency,
	}, nil
}
