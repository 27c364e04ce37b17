package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/domain"
)

// AuditStore persists the append-only transition log and raw signaling
// events in Scylla. Transitions partition by call id so one call's
// history is a single-partition read.
type AuditStore struct {
	session *gocql.Session
}

// NewAuditStore creates a new audit store.
func NewAuditStore(session *gocql.Session) *AuditStore {
	return &AuditStore{session: session}
}

// AppendTransition writes one transition record. Records are never
// updated or deleted.
func (s *AuditStore) AppendTransition(ctx context.Context, record domain.TransitionRecord) error {
	rtpStats, err := encodeMap(record.RTPStats)
	if err != nil {
		return fmt.Errorf("audit store: encode rtp stats: %w", err)
	}
	metadata, err := encodeMap(record.Metadata)
	if err != nil {
		return fmt.Errorf("audit store: encode metadata: %w", err)
	}

	if err := s.session.Query(`INSERT INTO call_transitions (call_id, occurred_at, entry_id, from_state, to_state, event, sip_code, rtp_stats, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CallID.String(), record.OccurredAt, gocql.TimeUUID(),
		string(record.FromState), string(record.ToState), string(record.Event),
		record.SIPCode, rtpStats, metadata,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("audit store: insert transition: %w", err)
	}

	return nil
}

// ListTransitions returns a call's transition history, newest first.
func (s *AuditStore) ListTransitions(ctx context.Context, callID uuid.UUID, limit int) ([]domain.TransitionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := s.session.Query(`SELECT occurred_at, from_state, to_state, event, sip_code, rtp_stats, metadata
		FROM call_transitions WHERE call_id = ? ORDER BY occurred_at DESC LIMIT ?`,
		callID.String(), limit).WithContext(ctx).Iter()

	var (
		occurredAt time.Time
		fromState  string
		toState    string
		event      string
		sipCode    int
		rtpStats   string
		metadata   string
	)

	records := make([]domain.TransitionRecord, 0, limit)
	for iter.Scan(&occurredAt, &fromState, &toState, &event, &sipCode, &rtpStats, &metadata) {
		record := domain.TransitionRecord{
			CallID:     callID,
			FromState:  domain.CallState(fromState),
			ToState:    domain.CallState(toState),
			Event:      domain.CallEvent(event),
			SIPCode:    sipCode,
			OccurredAt: occurredAt,
		}
		record.RTPStats = decodeMap(rtpStats)
		record.Metadata = decodeMap(metadata)
		records = append(records, record)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("audit store: iter close: %w", err)
	}

	return records, nil
}

// RecordSignalingEvent archives one raw inbound notification.
func (s *AuditStore) RecordSignalingEvent(ctx context.Context, event domain.RawSignalingEvent) error {
	payload, err := encodeMap(event.Payload)
	if err != nil {
		return fmt.Errorf("audit store: encode payload: %w", err)
	}

	if err := s.session.Query(`INSERT INTO signaling_events (correlation_id, received_at, entry_id, sip_code, event_type, amd_result, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.CorrelationID, event.ReceivedAt, gocql.TimeUUID(),
		event.SIPCode, event.EventType, event.AMDResult, payload,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("audit store: insert signaling event: %w", err)
	}

	return nil
}

func encodeMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
