package queue

import (
	"time"

	"github.com/google/uuid"
)

// SignalingMessage is one inbound notification from the signaling
// transport, matched to an attempt by correlation id.
type SignalingMessage struct {
	CorrelationID string         `json:"correlation_id"`
	SIPCode       int            `json:"sip_code,omitempty"`
	EventType     string         `json:"event_type,omitempty"`
	AMDResult     string         `json:"amd_result,omitempty"`
	RTPStats      map[string]any `json:"rtp_stats,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	EmittedAt     time.Time      `json:"emitted_at"`
}

// OutcomeMessage announces a call reaching a terminal state.
type OutcomeMessage struct {
	CallID       uuid.UUID  `json:"call_id"`
	CampaignID   uuid.UUID  `json:"campaign_id"`
	AccountID    uuid.UUID  `json:"account_id"`
	FinalState   string     `json:"final_state"`
	TriggerEvent string     `json:"trigger_event"`
	AMDResult    string     `json:"amd_result,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	ConnectedAt  *time.Time `json:"connected_at,omitempty"`
	EndedAt      time.Time  `json:"ended_at"`
	OccurredAt   time.Time  `json:"occurred_at"`
}
