package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/queue"
	"github.com/acme/dial-engine/internal/repository"
	"github.com/acme/dial-engine/internal/repository/memory"
	"github.com/acme/dial-engine/pkg/logger"
)

type capturedOutcomes struct {
	messages []queue.OutcomeMessage
}

func (c *capturedOutcomes) PublishOutcome(_ context.Context, msg queue.OutcomeMessage) error {
	c.messages = append(c.messages, msg)
	return nil
}

type releasedTrunks struct {
	trunkIDs []uuid.UUID
}

func (r *releasedTrunks) Release(_ context.Context, trunkID uuid.UUID) error {
	r.trunkIDs = append(r.trunkIDs, trunkID)
	return nil
}

type fixture struct {
	svc      *Service
	calls    *memory.CallRepo
	attempts *memory.AttemptRepo
	audit    *memory.AuditLog
	timers   *memory.TimerRepo
	outcomes *capturedOutcomes
	released *releasedTrunks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	f := &fixture{
		calls:    memory.NewCallRepo(),
		attempts: memory.NewAttemptRepo(),
		audit:    memory.NewAuditLog(),
		timers:   memory.NewTimerRepo(),
		outcomes: &capturedOutcomes{},
		released: &releasedTrunks{},
	}
	f.svc = NewService(f.calls, f.attempts, f.audit, f.timers, f.released, f.outcomes, Deadlines{}, lg)
	return f
}

func (f *fixture) seedCall(t *testing.T, state domain.CallState) *domain.Call {
	t.Helper()
	call := &domain.Call{
		ID:          uuid.New(),
		AccountID:   uuid.New(),
		CampaignID:  uuid.New(),
		PhoneNumber: "+15550001111",
		State:       state,
		StartedAt:   time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := f.calls.Create(context.Background(), call); err != nil {
		t.Fatalf("seed call: %v", err)
	}
	return call
}

func (f *fixture) seedAttempt(t *testing.T, call *domain.Call, trunkID *uuid.UUID) *domain.CallAttempt {
	t.Helper()
	attempt := &domain.CallAttempt{
		ID:            uuid.New(),
		CallID:        call.ID,
		CampaignID:    call.CampaignID,
		CorrelationID: uuid.NewString(),
		TrunkID:       trunkID,
		State:         domain.AttemptStateOriginating,
		CreatedAt:     time.Now().UTC(),
	}
	if err := f.attempts.Create(context.Background(), attempt); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}
	return attempt
}

func TestSubmitAcceptedTransitionLogsBeforeState(t *testing.T) {
	f := newFixture(t)
	call := f.seedCall(t, domain.CallStateQueued)
	f.seedAttempt(t, call, nil)

	outcome, err := f.svc.Submit(context.Background(), EventInput{
		CallID: &call.ID,
		Event:  domain.EventOriginateSent,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Accepted {
		t.Fatalf("expected acceptance, got rejection: %s", outcome.Reason)
	}
	if outcome.PreviousState != domain.CallStateQueued || outcome.CurrentState != domain.CallStateOriginating {
		t.Fatalf("transition = %s -> %s", outcome.PreviousState, outcome.CurrentState)
	}

	stored, err := f.calls.Get(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if stored.State != domain.CallStateOriginating {
		t.Fatalf("stored state = %s", stored.State)
	}

	records := f.audit.Transitions()
	if len(records) != 1 {
		t.Fatalf("transition log entries = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.FromState != domain.CallStateQueued || rec.ToState != domain.CallStateOriginating || rec.Event != domain.EventOriginateSent {
		t.Fatalf("log entry = %+v", rec)
	}
	if stored.State != rec.ToState {
		t.Fatal("call state must equal the ToState of its latest log entry")
	}
}

func TestSubmitRejectionMutatesNothing(t *testing.T) {
	f := newFixture(t)
	call := f.seedCall(t, domain.CallStateQueued)

	outcome, err := f.svc.Submit(context.Background(), EventInput{
		CallID: &call.ID,
		Event:  domain.EventBye,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Accepted {
		t.Fatal("BYE in QUEUED must be rejected")
	}
	if outcome.PreviousState != domain.CallStateQueued || outcome.CurrentState != domain.CallStateQueued {
		t.Fatalf("rejection changed reported state: %+v", outcome)
	}

	stored, _ := f.calls.Get(context.Background(), call.ID)
	if stored.State != domain.CallStateQueued {
		t.Fatalf("stored state mutated to %s", stored.State)
	}
	if len(f.audit.Transitions()) != 0 {
		t.Fatal("rejected event must not be logged as a transition")
	}
}

func TestSubmitUnknownCall(t *testing.T) {
	f := newFixture(t)
	missing := uuid.New()

	_, err := f.svc.Submit(context.Background(), EventInput{
		CallID: &missing,
		Event:  domain.EventBye,
	})
	if err == nil {
		t.Fatal("expected not-found error for unknown call")
	}
}

func TestSubmitDuplicateEventRejectedSecondTime(t *testing.T) {
	f := newFixture(t)
	call := f.seedCall(t, domain.CallStateOriginating)
	f.seedAttempt(t, call, nil)

	first, err := f.svc.Submit(context.Background(), EventInput{CallID: &call.ID, Event: domain.EventSIP180})
	if err != nil || !first.Accepted {
		t.Fatalf("first SIP_180: accepted=%v err=%v", first != nil && first.Accepted, err)
	}

	// At-least-once delivery: the duplicate no longer matches RINGING.
	second, err := f.svc.Submit(context.Background(), EventInput{CallID: &call.ID, Event: domain.EventSIP180})
	if err != nil {
		t.Fatalf("second SIP_180: %v", err)
	}
	if second.Accepted {
		t.Fatal("duplicate SIP_180 must be rejected, not reapplied")
	}
}

func TestTerminalTransitionStampsEndedAtAndPublishes(t *testing.T) {
	f := newFixture(t)
	trunkID := uuid.New()
	call := f.seedCall(t, domain.CallStateBridged)
	now := time.Now().UTC().Add(-time.Minute)
	_ = f.calls.UpdateStateCAS(context.Background(), call.ID, domain.CallStateBridged, domain.CallStateBridged, repository.StateStamps{ConnectedAt: &now})
	attempt := f.seedAttempt(t, call, &trunkID)

	outcome, err := f.svc.Submit(context.Background(), EventInput{CallID: &call.ID, Event: domain.EventBye})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Accepted || outcome.CurrentState != domain.CallStateEnded {
		t.Fatalf("outcome = %+v", outcome)
	}

	stored, _ := f.calls.Get(context.Background(), call.ID)
	if stored.EndedAt == nil {
		t.Fatal("terminal transition must stamp ended_at")
	}

	if len(f.released.trunkIDs) != 1 || f.released.trunkIDs[0] != trunkID {
		t.Fatalf("trunk channel not released: %v", f.released.trunkIDs)
	}

	if len(f.outcomes.messages) != 1 {
		t.Fatalf("outcome messages = %d, want 1", len(f.outcomes.messages))
	}
	msg := f.outcomes.messages[0]
	if msg.FinalState != string(domain.CallStateEnded) || msg.TriggerEvent != string(domain.EventBye) {
		t.Fatalf("outcome message = %+v", msg)
	}

	updatedAttempt, _ := f.attempts.Get(context.Background(), attempt.ID)
	if updatedAttempt.State != domain.AttemptStateCompleted {
		t.Fatalf("attempt state = %s, want COMPLETED", updatedAttempt.State)
	}
}

func TestNoMediaTransitionClosesCall(t *testing.T) {
	f := newFixture(t)
	trunkID := uuid.New()
	call := f.seedCall(t, domain.CallStateAnswered)
	connected := time.Now().UTC().Add(-10 * time.Second)
	_ = f.calls.UpdateStateCAS(context.Background(), call.ID, domain.CallStateAnswered, domain.CallStateAnswered, repository.StateStamps{ConnectedAt: &connected})
	f.seedAttempt(t, call, &trunkID)

	outcome, err := f.svc.Submit(context.Background(), EventInput{CallID: &call.ID, Event: domain.EventRTPTimeout})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Accepted || outcome.CurrentState != domain.CallStateNoRTP {
		t.Fatalf("outcome = %+v", outcome)
	}

	stored, _ := f.calls.Get(context.Background(), call.ID)
	if stored.EndedAt == nil {
		t.Fatal("NO_RTP must stamp ended_at")
	}
	if len(f.released.trunkIDs) != 1 || f.released.trunkIDs[0] != trunkID {
		t.Fatalf("trunk channel not released on NO_RTP: %v", f.released.trunkIDs)
	}
	if len(f.outcomes.messages) != 1 || f.outcomes.messages[0].FinalState != string(domain.CallStateNoRTP) {
		t.Fatalf("outcome messages = %+v", f.outcomes.messages)
	}

	// A late BYE still lands, but the close accounting already ran.
	second, err := f.svc.Submit(context.Background(), EventInput{CallID: &call.ID, Event: domain.EventBye})
	if err != nil {
		t.Fatalf("bye after no-rtp: %v", err)
	}
	if !second.Accepted || second.CurrentState != domain.CallStateEnded {
		t.Fatalf("bye outcome = %+v", second)
	}
	if len(f.released.trunkIDs) != 1 {
		t.Fatalf("channel released twice: %v", f.released.trunkIDs)
	}
	if len(f.outcomes.messages) != 1 {
		t.Fatalf("outcome published twice: %d messages", len(f.outcomes.messages))
	}
}

func TestVoicemailPlaybackArmsMaxDuration(t *testing.T) {
	f := newFixture(t)
	call := f.seedCall(t, domain.CallStateAnswered)
	f.seedAttempt(t, call, nil)

	outcome, err := f.svc.Submit(context.Background(), EventInput{CallID: &call.ID, Event: domain.EventAMDMachine})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Accepted || outcome.CurrentState != domain.CallStatePlaying {
		t.Fatalf("outcome = %+v", outcome)
	}
	if f.timers.Armed() != 1 {
		t.Fatalf("armed timers after PLAYING = %d, want 1 (max duration)", f.timers.Armed())
	}
}

func TestTerminalStateAdmitsNoFurtherEvents(t *testing.T) {
	f := newFixture(t)
	call := f.seedCall(t, domain.CallStateEnded)

	outcome, err := f.svc.Submit(context.Background(), EventInput{CallID: &call.ID, Event: domain.EventBye})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Accepted {
		t.Fatal("ENDED call accepted an event")
	}
}

func TestStateEntryArmsDeadlines(t *testing.T) {
	f := newFixture(t)
	call := f.seedCall(t, domain.CallStateQueued)
	f.seedAttempt(t, call, nil)

	if _, err := f.svc.Submit(context.Background(), EventInput{CallID: &call.ID, Event: domain.EventOriginateSent}); err != nil {
		t.Fatalf("originate: %v", err)
	}
	if f.timers.Armed() != 1 {
		t.Fatalf("armed timers after ORIGINATING = %d, want 1 (ring timeout)", f.timers.Armed())
	}

	if _, err := f.svc.Submit(context.Background(), EventInput{CallID: &call.ID, Event: domain.EventSIP200}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if f.timers.Armed() != 2 {
		t.Fatalf("armed timers after ANSWERED = %d, want 2 (+no-rtp)", f.timers.Armed())
	}

	stored, _ := f.calls.Get(context.Background(), call.ID)
	if stored.ConnectedAt == nil {
		t.Fatal("ANSWERED must stamp connected_at")
	}
}

func TestHistoryReturnsNewestFirst(t *testing.T) {
	f := newFixture(t)
	call := f.seedCall(t, domain.CallStateQueued)
	f.seedAttempt(t, call, nil)

	ctx := context.Background()
	for _, ev := range []domain.CallEvent{domain.EventOriginateSent, domain.EventSIP180, domain.EventSIP200} {
		if _, err := f.svc.Submit(ctx, EventInput{CallID: &call.ID, Event: ev}); err != nil {
			t.Fatalf("submit %s: %v", ev, err)
		}
	}

	history, err := f.svc.History(ctx, call.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history entries = %d, want 3", len(history))
	}
	if history[0].Event != domain.EventSIP200 {
		t.Fatalf("newest entry = %s, want SIP_200", history[0].Event)
	}
}
