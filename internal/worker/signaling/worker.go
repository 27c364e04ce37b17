// Package signaling consumes raw telephony notifications from Kafka
// and feeds them to the event reconciler.
package signaling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/acme/dial-engine/internal/queue"
	"github.com/acme/dial-engine/internal/reconciler"
	"github.com/acme/dial-engine/pkg/logger"
)

// Worker drains the signaling topic. Messages are batched by count and
// a wait bound, then reconciled together; undecodable messages are
// dropped with a log line since redelivery cannot fix them.
type Worker struct {
	reader     *kafka.Reader
	reconciler *reconciler.Reconciler
	batchSize  int
	batchWait  time.Duration
	logger     *logger.Logger
}

// NewWorker constructs the signaling worker.
func NewWorker(reader *kafka.Reader, rec *reconciler.Reconciler, batchSize int, batchWait time.Duration, lg *logger.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if batchWait <= 0 {
		batchWait = 250 * time.Millisecond
	}
	return &Worker{
		reader:     reader,
		reconciler: rec,
		batchSize:  batchSize,
		batchWait:  batchWait,
		logger:     lg,
	}
}

// Run consumes until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("signaling worker started",
		zap.Int("batch_size", w.batchSize),
		zap.Duration("batch_wait", w.batchWait))

	for {
		batch, err := w.readBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("signaling worker: read batch", zap.Error(err))
			continue
		}
		if len(batch) == 0 {
			continue
		}

		results := w.reconciler.Reconcile(ctx, batch)
		applied, failed := 0, 0
		for _, result := range results {
			if result.Applied {
				applied++
			} else if result.Error != "" {
				failed++
			}
		}
		w.logger.Info("signaling batch reconciled",
			zap.Int("received", len(batch)),
			zap.Int("applied", applied),
			zap.Int("rejected_or_failed", failed))
	}
}

// readBatch reads up to batchSize messages, returning early once
// batchWait elapses after the first message.
func (w *Worker) readBatch(ctx context.Context) ([]reconciler.Notification, error) {
	first, err := w.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}

	notifications := make([]reconciler.Notification, 0, w.batchSize)
	if n, ok := w.decode(first); ok {
		notifications = append(notifications, n)
	}

	deadline, cancel := context.WithTimeout(ctx, w.batchWait)
	defer cancel()

	for len(notifications) < w.batchSize {
		msg, err := w.reader.ReadMessage(deadline)
		if err != nil {
			// Batch window closed; ship what we have.
			break
		}
		if n, ok := w.decode(msg); ok {
			notifications = append(notifications, n)
		}
	}
	return notifications, nil
}

func (w *Worker) decode(msg kafka.Message) (reconciler.Notification, bool) {
	var signal queue.SignalingMessage
	if err := json.Unmarshal(msg.Value, &signal); err != nil {
		w.logger.Warn("signaling worker: dropping undecodable message",
			zap.Error(err),
			zap.Int64("offset", msg.Offset))
		return reconciler.Notification{}, false
	}
	return reconciler.Notification{
		CorrelationID: signal.CorrelationID,
		SIPCode:       signal.SIPCode,
		EventType:     signal.EventType,
		AMDResult:     signal.AMDResult,
		RTPStats:      signal.RTPStats,
		Payload:       signal.Payload,
	}, true
}

// Close releases the underlying reader.
func (w *Worker) Close() error {
	return w.reader.Close()
}
