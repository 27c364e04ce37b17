package amd

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

type fixedProvider struct {
	result Result
}

func (p *fixedProvider) Classify(_ context.Context, _ uuid.UUID) (Result, error) {
	return p.result, nil
}

type amdSink struct {
	inputs []lifecycle.EventInput
}

func (s *amdSink) Submit(_ context.Context, input lifecycle.EventInput) (*lifecycle.Outcome, error) {
	s.inputs = append(s.inputs, input)
	return &lifecycle.Outcome{Accepted: true}, nil
}

func newAMDFixture(t *testing.T, result Result) (*Service, *memory.CallRepo, *amdSink) {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	calls := memory.NewCallRepo()
	sink := &amdSink{}
	svc := NewService(&fixedProvider{result: result}, calls, sink, time.Second, lg)
	return svc, calls, sink
}

func seedAnsweredCall(t *testing.T, calls *memory.CallRepo) *domain.Call {
	t.Helper()
	call := &domain.Call{
		ID:          uuid.New(),
		AccountID:   uuid.New(),
		CampaignID:  uuid.New(),
		PhoneNumber: "+15550004444",
		State:       domain.CallStateAnswered,
		StartedAt:   time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := calls.Create(context.Background(), call); err != nil {
		t.Fatalf("seed call: %v", err)
	}
	return call
}

func TestDetectHumanConnects(t *testing.T) {
	svc, calls, sink := newAMDFixture(t, Result{Result: ResultHuman, Confidence: 0.93})
	call := seedAnsweredCall(t, calls)

	decision, err := svc.Detect(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if decision.Result != ResultHuman || decision.Action != ActionConnect {
		t.Fatalf("decision = %+v", decision)
	}
	if len(sink.inputs) != 1 || sink.inputs[0].Event != domain.EventAMDHuman {
		t.Fatalf("sink inputs = %+v", sink.inputs)
	}

	stored, _ := calls.Get(context.Background(), call.ID)
	if stored.AMDResult == nil || *stored.AMDResult != ResultHuman {
		t.Fatal("verdict not persisted")
	}
	if stored.AMDConfidence == nil || *stored.AMDConfidence != 0.93 {
		t.Fatal("confidence not persisted")
	}
}

func TestDetectMachineHangsUp(t *testing.T) {
	svc, calls, sink := newAMDFixture(t, Result{Result: ResultMachine, Confidence: 0.88})
	call := seedAnsweredCall(t, calls)

	decision, err := svc.Detect(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if decision.Action != ActionHangup {
		t.Fatalf("action = %s, want hangup", decision.Action)
	}
	if len(sink.inputs) != 1 || sink.inputs[0].Event != domain.EventAMDMachine {
		t.Fatalf("sink inputs = %+v", sink.inputs)
	}
}

func TestDetectUnknownRetriesWithoutEvent(t *testing.T) {
	svc, calls, sink := newAMDFixture(t, Result{Result: ResultUnknown, Confidence: 0.4})
	call := seedAnsweredCall(t, calls)

	decision, err := svc.Detect(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if decision.Action != ActionRetry {
		t.Fatalf("action = %s, want retry", decision.Action)
	}
	if len(sink.inputs) != 0 {
		t.Fatal("inconclusive verdict must not emit an event")
	}
}

func TestDetectRunsOncePerCall(t *testing.T) {
	svc, calls, _ := newAMDFixture(t, Result{Result: ResultHuman, Confidence: 0.9})
	call := seedAnsweredCall(t, calls)

	if _, err := svc.Detect(context.Background(), call.ID); err != nil {
		t.Fatalf("first detect: %v", err)
	}
	if _, err := svc.Detect(context.Background(), call.ID); err == nil {
		t.Fatal("second detection on the same call must conflict")
	}
}

func TestDetectRequiresAnsweredState(t *testing.T) {
	svc, calls, _ := newAMDFixture(t, Result{Result: ResultHuman, Confidence: 0.9})
	call := &domain.Call{
		ID:          uuid.New(),
		AccountID:   uuid.New(),
		CampaignID:  uuid.New(),
		PhoneNumber: "+15550005555",
		State:       domain.CallStateRinging,
		StartedAt:   time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := calls.Create(context.Background(), call); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Detect(context.Background(), call.ID); err == nil {
		t.Fatal("detection on a ringing call must fail")
	}
}

func TestSimulatedProviderIsDeterministic(t *testing.T) {
	a := NewSimulatedProvider(0.6, 0, 42)
	b := NewSimulatedProvider(0.6, 0, 42)

	for i := 0; i < 20; i++ {
		ra, err := a.Classify(context.Background(), uuid.New())
		if err != nil {
			t.Fatalf("classify a: %v", err)
		}
		rb, err := b.Classify(context.Background(), uuid.New())
		if err != nil {
			t.Fatalf("classify b: %v", err)
		}
		if ra.Result != rb.Result || ra.Confidence != rb.Confidence {
			t.Fatalf("seeded providers diverged at %d: %+v vs %+v", i, ra, rb)
		}
		if ra.Confidence < 0.75 || ra.Confidence >= 1 {
			t.Fatalf("confidence out of range: %f", ra.Confidence)
		}
	}
}
