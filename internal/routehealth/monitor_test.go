package routehealth

import (
	"testing"

	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/repository"
)

func TestScorePerfectCarrier(t *testing.T) {
	score, asr := Score(repository.CarrierWindow{Total: 100, Connected: 80})
	if asr != 80 {
		t.Fatalf("asr = %v, want 80", asr)
	}
	if score != 100 {
		t.Fatalf("score = %v, want 100 (asr above target takes no penalty)", score)
	}
}

func TestScoreBelowTargetASR(t *testing.T) {
	// asr 40 -> penalty (70-40)/2 = 15
	score, asr := Score(repository.CarrierWindow{Total: 100, Connected: 40})
	if asr != 40 {
		t.Fatalf("asr = %v, want 40", asr)
	}
	if score != 85 {
		t.Fatalf("score = %v, want 85", score)
	}
}

func TestScoreNoMediaPenalty(t *testing.T) {
	// asr 70 (no asr penalty), 12 no-media calls -> 100 - 60 = 40
	score, _ := Score(repository.CarrierWindow{Total: 100, Connected: 70, NoMedia: 12})
	if score != 40 {
		t.Fatalf("score = %v, want 40", score)
	}
	if score >= degradedThreshold {
		t.Fatalf("score %v should be below the degraded threshold", score)
	}
}

func TestScoreEmptyWindow(t *testing.T) {
	score, asr := Score(repository.CarrierWindow{})
	if asr != 0 {
		t.Fatalf("asr = %v, want 0 for empty window", asr)
	}
	// asr 0 -> penalty 35 -> score 65
	if score != 65 {
		t.Fatalf("score = %v, want 65", score)
	}
}

func TestScoreStaysInRange(t *testing.T) {
	windows := []repository.CarrierWindow{
		{Total: 1000, Connected: 0, NoMedia: 500},
		{Total: 1, Connected: 1},
		{Total: 0, NoMedia: 100},
		{Total: 50, Connected: 25, Failed: 25, NoMedia: 3},
		{CarrierID: uuid.New(), Total: 7, Connected: 7, NoMedia: 0},
	}

	for _, w := range windows {
		score, asr := Score(w)
		if score < 0 || score > 100 {
			t.Errorf("Score(%+v): score %v outside [0,100]", w, score)
		}
		if asr < 0 || asr > 100 {
			t.Errorf("Score(%+v): asr %v outside [0,100]", w, asr)
		}
	}
}
