package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallState enumerates lifecycle states of an outbound call.
type CallState string

const (
	CallStateQueued          CallState = "QUEUED"
	CallStateOriginating     CallState = "ORIGINATING"
	CallStateRinging         CallState = "RINGING"
	CallStateEarlyMedia      CallState = "EARLY_MEDIA"
	CallStateAnswered        CallState = "ANSWERED"
	CallStateBridged         CallState = "BRIDGED"
	CallStatePlaying         CallState = "PLAYING"
	CallStateRecording       CallState = "RECORDING"
	CallStateTransferPending CallState = "TRANSFER_PENDING"
	CallStateTransferred     CallState = "TRANSFERRED"
	CallStateEnded           CallState = "ENDED"
	CallStateFailed          CallState = "FAILED"
	CallStateNoRTP           CallState = "NO_RTP"
	CallStateAbandoned       CallState = "ABANDONED"
	CallStateTimeout         CallState = "TIMEOUT"
	CallStateCancelled       CallState = "CANCELLED"
)

// CallEvent enumerates signals that drive call state transitions.
type CallEvent string

const (
	EventOriginateSent     CallEvent = "ORIGINATE_SENT"
	EventOriginateFailed   CallEvent = "ORIGINATE_FAILED"
	EventCancel            CallEvent = "CANCEL"
	EventSIP180            CallEvent = "SIP_180"
	EventSIP183            CallEvent = "SIP_183"
	EventSIP200            CallEvent = "SIP_200"
	EventSIP4xx            CallEvent = "SIP_4XX"
	EventSIP5xx            CallEvent = "SIP_5XX"
	EventRingTimeout       CallEvent = "RING_TIMEOUT"
	EventBye               CallEvent = "BYE"
	EventRTPStarted        CallEvent = "RTP_STARTED"
	EventRTPTimeout        CallEvent = "RTP_TIMEOUT"
	EventRTPGone           CallEvent = "RTP_GONE"
	EventAMDHuman          CallEvent = "AMD_HUMAN"
	EventAMDMachine        CallEvent = "AMD_MACHINE"
	EventAgentAnswer       CallEvent = "AGENT_ANSWER"
	EventAgentTimeout      CallEvent = "AGENT_TIMEOUT"
	EventTransferInitiated CallEvent = "TRANSFER_INITIATED"
	EventTransferComplete  CallEvent = "TRANSFER_COMPLETE"
	EventTransferFailed    CallEvent = "TRANSFER_FAILED"
	EventMaxDuration       CallEvent = "MAX_DURATION"
)

// Call is one outbound call tracked through the signaling lifecycle.
// Mutated only via validated state transitions; immutable once terminal.
type Call struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	CampaignID    uuid.UUID
	PhoneNumber   string
	State         CallState
	AMDResult     *string
	AMDConfidence *float64
	StartedAt     time.Time
	ConnectedAt   *time.Time
	EndedAt       *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Duration reports the connected duration, zero until the call ends.
func (c *Call) Duration() time.Duration {
	if c.ConnectedAt == nil || c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(*c.ConnectedAt)
}

// AttemptState mirrors the origination subset of the call lifecycle.
type AttemptState string

const (
	AttemptStatePending     AttemptState = "PENDING"
	AttemptStateOriginating AttemptState = "ORIGINATING"
	AttemptStateCompleted   AttemptState = "COMPLETED"
	AttemptStateFailed      AttemptState = "FAILED"
)

// CallAttempt is one dialing try for a call. It carries the routing
// decision and the correlation id used to match external signaling.
type CallAttempt struct {
	ID            uuid.UUID
	CallID        uuid.UUID
	CampaignID    uuid.UUID
	CorrelationID string
	TrunkID       *uuid.UUID
	CarrierID     *uuid.UUID
	CallerIDUsed  string
	State         AttemptState
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TransitionRecord is one append-only audit entry. A call's current
// state always equals the ToState of its most recent record.
type TransitionRecord struct {
	CallID     uuid.UUID
	FromState  CallState
	ToState    CallState
	Event      CallEvent
	SIPCode    int
	RTPStats   map[string]any
	Metadata   map[string]any
	OccurredAt time.Time
}

// RawSignalingEvent is an inbound notification recorded for audit
// regardless of whether it mapped to an actionable event.
type RawSignalingEvent struct {
	CorrelationID string
	SIPCode       int
	EventType     string
	AMDResult     string
	Payload       map[string]any
	ReceivedAt    time.Time
}
