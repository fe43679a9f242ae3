package agent

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"dilemma-lab/server/engine"
)

func rowsFor(pair string, match int, moves ...[2]engine.Decision) []engine.Row {
	out := make([]engine.Row, 0, len(moves))
	for i, m := range moves {
		out = append(out, engine.Row{
			Pair: pair, Round: i + 1, Match: match,
			ParticipantA: "a", ParticipantB: "b",
			DecisionA: m[0], DecisionB: m[1],
			PayoffA: 10 * (i + 1), PayoffB: i + 1,
		})
	}
	return out
}

func TestBuildObservationOrientsHistory(t *testing.T) {
	pair := engine.Pair{ID: "p1", Members: [2]string{"a", "b"}, Match: 1}
	rows := rowsFor("p1", 1,
		[2]engine.Decision{engine.Cooperate, engine.Defect},
		[2]engine.Decision{engine.Defect, engine.Defect},
	)
	rows = append(rows, engine.Row{Pair: "other", Round: 1, Match: 1})
	params := engine.SessionParameters{Delta: 0.5, Board: engine.Board{BothCooperate: 28, Betrayed: 8, Betray: 40, BothDefect: 18}}

	o := BuildObservation("s", pair, "b", 3, engine.Position{Match: 1, RoundInMatch: 3}, params, rows)
	if len(o.History) != 2 {
		t.Fatalf("history = %+v", o.History)
	}
	if o.History[0].Self != engine.Defect || o.History[0].Opponent != engine.Cooperate || o.History[0].Payoff != 1 {
		t.Fatalf("first exchange from b's seat = %+v", o.History[0])
	}
	if o.Delta != 0.5 || o.Board.Betray != 40 || o.RoundInMatch != 3 {
		t.Fatalf("observation = %+v", o)
	}

	// history resets with a new match
	o = BuildObservation("s", pair, "a", 3, engine.Position{Match: 2, RoundInMatch: 1}, params, rows)
	if len(o.History) != 0 {
		t.Fatalf("new match history = %+v", o.History)
	}
}

func TestValidate(t *testing.T) {
	o := Observation{Legal: []string{"Cooperate", "Defect"}}
	if d, err := Validate(o, DecisionOut{Decision: "cooperate"}); err != nil || d != engine.Cooperate {
		t.Fatalf("Validate(cooperate) = %q, %v", d, err)
	}
	if _, err := Validate(o, DecisionOut{Decision: "fold"}); !errors.Is(err, engine.ErrInvalidDecision) {
		t.Fatalf("Validate(fold) err = %v", err)
	}
	if _, err := Validate(o, DecisionOut{}); err == nil {
		t.Fatal("empty decision accepted")
	}
	if _, err := Validate(Observation{Legal: []string{"Cooperate"}}, DecisionOut{Decision: "D"}); err == nil {
		t.Fatal("illegal decision accepted")
	}
}

func TestBots(t *testing.T) {
	ctx := context.Background()
	defected := Observation{History: []Exchange{{Round: 1, Opponent: engine.Defect}, {Round: 2, Opponent: engine.Cooperate}}}
	fresh := Observation{}

	cases := []struct {
		name       string
		fresh, hit engine.Decision
	}{
		{"always-cooperate", engine.Cooperate, engine.Cooperate},
		{"always-defect", engine.Defect, engine.Defect},
		{"tit-for-tat", engine.Cooperate, engine.Cooperate}, // copies the last move (C)
		{"grim-trigger", engine.Cooperate, engine.Defect},
	}
	for _, tc := range cases {
		s, err := NewBot(tc.name, nil)
		if err != nil {
			t.Fatalf("NewBot(%s): %v", tc.name, err)
		}
		if d, _ := s.Decide(ctx, fresh); d != tc.fresh {
			t.Fatalf("%s first move %s, want %s", tc.name, d, tc.fresh)
		}
		if d, _ := s.Decide(ctx, defected); d != tc.hit {
			t.Fatalf("%s after defection %s, want %s", tc.name, d, tc.hit)
		}
	}

	tft, _ := NewBot("tft", nil)
	last := Observation{History: []Exchange{{Round: 1, Opponent: engine.Defect}}}
	if d, _ := tft.Decide(ctx, last); d != engine.Defect {
		t.Fatalf("tit-for-tat after D = %s", d)
	}
}

func TestRandomBot(t *testing.T) {
	s, err := NewBot("random", rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	seen := map[engine.Decision]bool{}
	for i := 0; i < 100; i++ {
		d, _ := s.Decide(context.Background(), Observation{})
		seen[d] = true
	}
	if !seen[engine.Cooperate] || !seen[engine.Defect] {
		t.Fatalf("random bot only played %v", seen)
	}
	if _, err := NewBot("random", nil); err == nil {
		t.Fatal("random bot without rng accepted")
	}
}

func TestParse(t *testing.T) {
	s, err := Parse("bot:tft", nil)
	if err != nil || s.Name() != "bot:tit-for-tat" {
		t.Fatalf("Parse(bot:tft) = %v, %v", s, err)
	}
	s, err = Parse("llm:openai/gpt-4o-mini", nil)
	if err != nil || s.Name() != "llm:openai/gpt-4o-mini" {
		t.Fatalf("Parse(llm) = %v, %v", s, err)
	}
	for _, bad := range []string{"bot", "bot:", "human:alice", "bot:chaos"} {
		if _, err := Parse(bad, nil); !errors.Is(err, ErrUnknownStrategy) {
			t.Fatalf("Parse(%q) err = %v", bad, err)
		}
	}
}
