package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a dialing campaign.
type CampaignStatus string

const (
	CampaignStatusDraft   CampaignStatus = "draft"
	CampaignStatusActive  CampaignStatus = "active"
	CampaignStatusStopped CampaignStatus = "stopped"
)

// Campaign configures pacing for a set of leads.
type Campaign struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Name      string
	TimeZone  string
	WorkHours []WorkHourWindow
	DialRatio float64
	Status    CampaignStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkHourWindow is an allowed calling window for one day of week.
// Windows where End precedes Start span midnight into the next day.
type WorkHourWindow struct {
	DayOfWeek time.Weekday
	Start     time.Time
	End       time.Time
}

// AgentStatus enumerates agent availability states.
type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "AVAILABLE"
	AgentStatusBusy      AgentStatus = "BUSY"
	AgentStatusOffline   AgentStatus = "OFFLINE"
)

// Agent is a human answerer counted by the pacing loop.
type Agent struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Name      string
	Status    AgentStatus
	UpdatedAt time.Time
}

// LeadState tracks whether a lead has been handed to the dialer.
type LeadState string

const (
	LeadStateNew       LeadState = "new"
	LeadStateScheduled LeadState = "scheduled"
	LeadStateDone      LeadState = "done"
)

// Lead is a dialable target belonging to a campaign.
type Lead struct {
	ID          uuid.UUID
	CampaignID  uuid.UUID
	PhoneNumber string
	State       LeadState
	Metadata    map[string]any
	CreatedAt   time.Time
}
