package statemachine

import (
	"github.com/acme/dial-engine/internal/domain"
)

// transitions is the authoritative lifecycle table. Any (state, event)
// pair absent from it is rejected; terminal states have no entry at all.
var transitions = map[domain.CallState]map[domain.CallEvent]domain.CallState{
	domain.CallStateQueued: {
		domain.EventOriginateSent:   domain.CallStateOriginating,
		domain.EventOriginateFailed: domain.CallStateFailed,
		domain.EventCancel:          domain.CallStateCancelled,
	},
	domain.CallStateOriginating: {
		domain.EventSIP180:      domain.CallStateRinging,
		domain.EventSIP183:      domain.CallStateEarlyMedia,
		domain.EventSIP200:      domain.CallStateAnswered,
		domain.EventSIP4xx:      domain.CallStateFailed,
		domain.EventSIP5xx:      domain.CallStateFailed,
		domain.EventRingTimeout: domain.CallStateTimeout,
		domain.EventCancel:      domain.CallStateCancelled,
	},
	domain.CallStateRinging: {
		domain.EventSIP200:      domain.CallStateAnswered,
		domain.EventSIP4xx:      domain.CallStateFailed,
		domain.EventRingTimeout: domain.CallStateTimeout,
		domain.EventCancel:      domain.CallStateCancelled,
		domain.EventBye:         domain.CallStateEnded,
	},
	domain.CallStateEarlyMedia: {
		domain.EventSIP200:      domain.CallStateAnswered,
		domain.EventSIP4xx:      domain.CallStateFailed,
		domain.EventRingTimeout: domain.CallStateTimeout,
		domain.EventBye:         domain.CallStateEnded,
	},
	domain.CallStateAnswered: {
		domain.EventRTPStarted: domain.CallStateBridged,
		domain.EventRTPTimeout: domain.CallStateNoRTP,
		domain.EventAMDHuman:   domain.CallStateBridged,
		domain.EventAMDMachine: domain.CallStatePlaying,
		domain.EventBye:        domain.CallStateEnded,
	},
	domain.CallStateBridged: {
		domain.EventRTPGone:           domain.CallStateNoRTP,
		domain.EventBye:               domain.CallStateEnded,
		domain.EventTransferInitiated: domain.CallStateTransferPending,
		domain.EventMaxDuration:       domain.CallStateEnded,
	},
	domain.CallStatePlaying: {
		domain.EventRTPGone:     domain.CallStateNoRTP,
		domain.EventBye:         domain.CallStateEnded,
		domain.EventAgentAnswer: domain.CallStateBridged,
		domain.EventMaxDuration: domain.CallStateEnded,
	},
	domain.CallStateRecording: {
		domain.EventBye:         domain.CallStateEnded,
		domain.EventMaxDuration: domain.CallStateEnded,
	},
	domain.CallStateTransferPending: {
		domain.EventTransferComplete: domain.CallStateTransferred,
		domain.EventTransferFailed:   domain.CallStateBridged,
		domain.EventBye:              domain.CallStateEnded,
	},
	domain.CallStateTransferred: {
		domain.EventBye: domain.CallStateEnded,
	},
	domain.CallStateNoRTP: {
		domain.EventBye: domain.CallStateEnded,
	},
}

var terminal = map[domain.CallState]bool{
	domain.CallStateEnded:     true,
	domain.CallStateFailed:    true,
	domain.CallStateAbandoned: true,
	domain.CallStateTimeout:   true,
	domain.CallStateCancelled: true,
}

// Result is the outcome of applying an event to a state. A rejected
// result is a normal business outcome, never an error.
type Result struct {
	Accepted bool
	From     domain.CallState
	To       domain.CallState
	Event    domain.CallEvent
	Reason   string
}

// Apply resolves the next state for (state, event). It is total and
// side-effect-free: unknown pairs yield a rejection, not a panic.
func Apply(state domain.CallState, event domain.CallEvent) Result {
	if terminal[state] {
		return Result{
			Accepted: false,
			From:     state,
			Event:    event,
			Reason:   "state " + string(state) + " is terminal",
		}
	}

	next, ok := transitions[state][event]
	if !ok {
		return Result{
			Accepted: false,
			From:     state,
			Event:    event,
			Reason:   "event " + string(event) + " not valid in state " + string(state),
		}
	}

	return Result{Accepted: true, From: state, To: next, Event: event}
}

// IsTerminal reports whether the state admits no further events.
func IsTerminal(state domain.CallState) bool {
	return terminal[state]
}

// States returns every state named by the transition table or the
// terminal set.
func States() []domain.CallState {
	seen := make(map[domain.CallState]bool)
	out := make([]domain.CallState, 0, len(transitions)+len(terminal))
	add := func(s domain.CallState) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for from, events := range transitions {
		add(from)
		for _, to := range events {
			add(to)
		}
	}
	for s := range terminal {
		add(s)
	}
	return out
}

// Events returns every event named by the transition table.
func Events() []domain.CallEvent {
	seen := make(map[domain.CallEvent]bool)
	out := make([]domain.CallEvent, 0, 24)
	for _, events := range transitions {
		for ev := range events {
			if !seen[ev] {
				seen[ev] = true
				out = append(out, ev)
			}
		}
	}
	return out
}

// ValidEvent reports whether the event name appears anywhere in the table.
func ValidEvent(event domain.CallEvent) bool {
	for _, events := range transitions {
		if _, ok := events[event]; ok {
			return true
		}
	}
	return false
}
