package timer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/lifecycle"
	"github.com/acme/dial-engine/internal/repository/memory"
	"github.com/acme/dial-engine/pkg/logger"
)

type recordedSink struct {
	inputs   []lifecycle.EventInput
	accepted bool
}

func (s *recordedSink) Submit(_ context.Context, input lifecycle.EventInput) (*lifecycle.Outcome, error) {
	s.inputs = append(s.inputs, input)
	return &lifecycle.Outcome{Accepted: s.accepted}, nil
}

func newSweeperFixture(t *testing.T) (*Sweeper, *memory.TimerRepo, *memory.CallRepo, *recordedSink) {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	timers := memory.NewTimerRepo()
	calls := memory.NewCallRepo()
	sink := &recordedSink{accepted: true}
	return NewSweeper(timers, calls, sink, time.Second, 100, lg), timers, calls, sink
}

func seedTimer(t *testing.T, timers *memory.TimerRepo, calls *memory.CallRepo, timerType domain.TimerType, armed, current domain.CallState, expiresAt time.Time) domain.Timer {
	t.Helper()
	ctx := context.Background()
	call := &domain.Call{
		ID:          uuid.New(),
		AccountID:   uuid.New(),
		CampaignID:  uuid.New(),
		PhoneNumber: "+15550002222",
		State:       current,
		StartedAt:   time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := calls.Create(ctx, call); err != nil {
		t.Fatalf("seed call: %v", err)
	}
	timer := domain.Timer{
		ID:         uuid.New(),
		AttemptID:  uuid.New(),
		CallID:     call.ID,
		Type:       timerType,
		ArmedState: armed,
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now().UTC(),
	}
	if err := timers.Arm(ctx, &timer); err != nil {
		t.Fatalf("arm timer: %v", err)
	}
	return timer
}

func TestSweepFiresExpiredRingTimeout(t *testing.T) {
	sweeper, timers, calls, sink := newSweeperFixture(t)
	past := time.Now().UTC().Add(-time.Second)
	seedTimer(t, timers, calls, domain.TimerRingTimeout, domain.CallStateRinging, domain.CallStateRinging, past)

	fired, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if len(sink.inputs) != 1 || sink.inputs[0].Event != domain.EventRingTimeout {
		t.Fatalf("submitted inputs = %+v", sink.inputs)
	}
}

func TestSweepFiresRingTimeoutAfterProvisionalResponse(t *testing.T) {
	sweeper, timers, calls, sink := newSweeperFixture(t)
	past := time.Now().UTC().Add(-time.Second)
	// Armed on ORIGINATING; the carrier sent SIP 180 and then went
	// silent. The timer stays live in RINGING and must still fire.
	seedTimer(t, timers, calls, domain.TimerRingTimeout, domain.CallStateOriginating, domain.CallStateRinging, past)

	fired, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if len(sink.inputs) != 1 || sink.inputs[0].Event != domain.EventRingTimeout {
		t.Fatalf("submitted inputs = %+v", sink.inputs)
	}
}

func TestSweepMaxDurationSurvivesVoicemailPlayback(t *testing.T) {
	sweeper, timers, calls, sink := newSweeperFixture(t)
	past := time.Now().UTC().Add(-time.Second)
	seedTimer(t, timers, calls, domain.TimerMaxDuration, domain.CallStateBridged, domain.CallStatePlaying, past)

	fired, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if len(sink.inputs) != 1 || sink.inputs[0].Event != domain.EventMaxDuration {
		t.Fatalf("submitted inputs = %+v", sink.inputs)
	}
}

func TestSweepDiscardsStaleTimer(t *testing.T) {
	sweeper, timers, calls, sink := newSweeperFixture(t)
	past := time.Now().UTC().Add(-time.Second)
	// Armed while RINGING, but the call answered before expiry.
	seedTimer(t, timers, calls, domain.TimerRingTimeout, domain.CallStateRinging, domain.CallStateAnswered, past)

	fired, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fired != 0 || len(sink.inputs) != 0 {
		t.Fatalf("stale timer produced an event: fired=%d inputs=%d", fired, len(sink.inputs))
	}
}

func TestSweepIgnoresUnexpiredTimer(t *testing.T) {
	sweeper, timers, calls, sink := newSweeperFixture(t)
	future := time.Now().UTC().Add(time.Hour)
	seedTimer(t, timers, calls, domain.TimerMaxDuration, domain.CallStateBridged, domain.CallStateBridged, future)

	fired, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fired != 0 || len(sink.inputs) != 0 {
		t.Fatal("unexpired timer must not fire")
	}
	if timers.Armed() != 1 {
		t.Fatalf("armed = %d, want 1", timers.Armed())
	}
}

func TestSweepFiresEachTimerAtMostOnce(t *testing.T) {
	sweeper, timers, calls, sink := newSweeperFixture(t)
	past := time.Now().UTC().Add(-time.Second)
	seedTimer(t, timers, calls, domain.TimerAnswerNoRTP, domain.CallStateAnswered, domain.CallStateAnswered, past)

	if _, err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if _, err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(sink.inputs) != 1 {
		t.Fatalf("events submitted = %d, want 1", len(sink.inputs))
	}
	if sink.inputs[0].Event != domain.EventRTPTimeout {
		t.Fatalf("event = %s, want RTP_TIMEOUT", sink.inputs[0].Event)
	}
}

func TestSweepDiscardsAgentAssignTimer(t *testing.T) {
	sweeper, timers, calls, sink := newSweeperFixture(t)
	past := time.Now().UTC().Add(-time.Second)
	seedTimer(t, timers, calls, domain.TimerAgentAssign, domain.CallStateAnswered, domain.CallStateAnswered, past)

	fired, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fired != 0 || len(sink.inputs) != 0 {
		t.Fatal("agent-assign timer has no qualifying state and must be discarded")
	}
}

func TestMapFiring(t *testing.T) {
	tests := []struct {
		timerType domain.TimerType
		state     domain.CallState
		event     domain.CallEvent
		ok        bool
	}{
		{domain.TimerRingTimeout, domain.CallStateOriginating, domain.EventRingTimeout, true},
		{domain.TimerRingTimeout, domain.CallStateRinging, domain.EventRingTimeout, true},
		{domain.TimerRingTimeout, domain.CallStateEarlyMedia, domain.EventRingTimeout, true},
		{domain.TimerRingTimeout, domain.CallStateAnswered, "", false},
		{domain.TimerAnswerNoRTP, domain.CallStateAnswered, domain.EventRTPTimeout, true},
		{domain.TimerAnswerNoRTP, domain.CallStateBridged, "", false},
		{domain.TimerMaxDuration, domain.CallStateBridged, domain.EventMaxDuration, true},
		{domain.TimerMaxDuration, domain.CallStateRecording, domain.EventMaxDuration, true},
		{domain.TimerMaxDuration, domain.CallStatePlaying, domain.EventMaxDuration, true},
		{domain.TimerMaxDuration, domain.CallStateEnded, "", false},
		{domain.TimerAgentAssign, domain.CallStateAnswered, "", false},
	}
	for _, tc := range tests {
		event, ok := MapFiring(tc.timerType, tc.state)
		if ok != tc.ok || event != tc.event {
			t.Errorf("MapFiring(%s, %s) = (%s, %v), want (%s, %v)",
				tc.timerType, tc.state, event, ok, tc.event, tc.ok)
		}
	}
}
