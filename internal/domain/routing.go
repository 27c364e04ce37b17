package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates origination job states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// OriginateJob is a unit of dispatch work referencing an attempt.
// Claimed exclusively by one executor; terminal once COMPLETED or FAILED.
type OriginateJob struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	AttemptID    uuid.UUID
	Status       JobStatus
	Priority     int
	LockedBy     *string
	LockedAt     *time.Time
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Trunk is an outbound route with its own capacity limits.
type Trunk struct {
	ID          uuid.UUID
	CarrierID   uuid.UUID
	Name        string
	MaxCPS      int
	MaxChannels int
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CallerID is an outbound presentation number owned by a carrier.
type CallerID struct {
	ID        uuid.UUID
	CarrierID uuid.UUID
	Number    string
	IsActive  bool
}

// RouteHealth holds per-carrier rolling metrics over a trailing window.
type RouteHealth struct {
	CarrierID     uuid.UUID
	HealthScore   float64
	ASR           float64
	TotalCalls    int64
	Connected     int64
	Failed        int64
	NoMedia       int64
	IsDegraded    bool
	CooldownUntil *time.Time
	UpdatedAt     time.Time
}

// TimerType enumerates per-attempt deadline kinds.
type TimerType string

const (
	TimerRingTimeout TimerType = "RING_TIMEOUT"
	TimerAnswerNoRTP TimerType = "ANSWER_NO_RTP_TIMEOUT"
	TimerAgentAssign TimerType = "AGENT_ASSIGN_TIMEOUT"
	TimerMaxDuration TimerType = "MAX_DURATION"
)

// Timer is a scheduled deadline tied to an attempt. Valid only while
// the call remains in a state its type may fire in; fires at most once.
type Timer struct {
	ID         uuid.UUID
	AttemptID  uuid.UUID
	CallID     uuid.UUID
	Type       TimerType
	ArmedState CallState
	ExpiresAt  time.Time
	Fired      bool
	CreatedAt  time.Time
}
