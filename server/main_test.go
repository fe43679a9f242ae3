package main

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"dilemma-lab/server/engine"
)

func testRunner(t *testing.T) *runner {
	t.Helper()
	ec := engine.DefaultConfig()
	ec.Deltas = []float64{0.5}
	ec.BoardIndex = 0
	ec.NumMatches = 3
	ec.RoundTimeout = 0
	return &runner{
		ec:        ec,
		log:       zap.NewNop(),
		checkStop: func() bool { return false },
		ladder:    NewLadder(1500, 24),
	}
}

func TestPlaySessionWithBots(t *testing.T) {
	r := testRunner(t)
	res, err := r.playSession(context.Background(), 7, []string{"bot:always-cooperate", "bot:always-defect"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Labels) != 2 || res.Labels[0] != "A-bot:always-cooperate" || res.Labels[1] != "B-bot:always-defect" {
		t.Fatalf("labels = %v", res.Labels)
	}
	if len(res.Rows) == 0 {
		t.Fatal("no rounds played")
	}
	matches := map[int]bool{}
	for _, row := range res.Rows {
		matches[row.Match] = true
		pa, pb := row.PayoffA, row.PayoffB
		if row.ParticipantA == res.Labels[1] {
			pa, pb = pb, pa
		}
		if pa != 8 || pb != 40 {
			t.Fatalf("round %d payoffs = %d/%d", row.Round, pa, pb)
		}
	}
	if len(matches) != 3 {
		t.Fatalf("matches played = %d, want 3", len(matches))
	}
	last := res.Rows[len(res.Rows)-1]
	if last.State != engine.StateSessionDone {
		t.Fatalf("last state = %s", last.State)
	}

	r.rate(context.Background(), res)
	if r.ladder.Rating("bot:always-defect") <= r.ladder.Rating("bot:always-cooperate") {
		t.Fatalf("ratings = %v", r.ladder.Ratings)
	}
}

func TestPlaySessionStops(t *testing.T) {
	r := testRunner(t)
	r.checkStop = func() bool { return true }
	res, err := r.playSession(context.Background(), 7, []string{"bot:tft", "bot:grim"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Stopped || len(res.Rows) != 0 {
		t.Fatalf("stopped=%v rows=%d", res.Stopped, len(res.Rows))
	}
}

func TestPlaySessionUnknownAgent(t *testing.T) {
	r := testRunner(t)
	if _, err := r.playSession(context.Background(), 7, []string{"bot:tft", "bot:nope"}); err == nil {
		t.Fatal("expected error for unknown bot")
	}
}

func TestSeedStream(t *testing.T) {
	a, b := engine.NewSeedStream(42), engine.NewSeedStream(42)
	for i := 0; i < 5; i++ {
		x, y := a.Seed(), b.Seed()
		if x != y || x <= 0 {
			t.Fatalf("seed %d: %d vs %d", i, x, y)
		}
	}
}

func TestParticipantLabel(t *testing.T) {
	if got := participantLabel(1, "bot:tit-for-tat"); got != "B-bot:tit-for-tat" {
		t.Fatalf("label = %q", got)
	}
	if got := participantLabel(26, "x"); got != "P27-x" {
		t.Fatalf("label = %q", got)
	}
	if !needsLLM([]string{"bot:tft", " LLM:gpt-4o-mini"}) || needsLLM([]string{"bot:tft"}) {
		t.Fatal("needsLLM")
	}
}
