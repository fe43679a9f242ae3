package judge

import (
	"testing"

	"dilemma-lab/server/engine"
)

var board0 = engine.Board{BothCooperate: 28, Betrayed: 8, Betray: 40, BothDefect: 18}

func TestBestResponseIsDefectOnStandardBoards(t *testing.T) {
	table := engine.DefaultBoards()
	for i := 0; i < table.Len(); i++ {
		b, _ := table.Board(i)
		for _, opp := range []engine.Decision{engine.Cooperate, engine.Defect} {
			if got := BestResponse(b, opp); got != engine.Defect {
				t.Fatalf("board %d vs %s: best response %s", i, opp, got)
			}
		}
	}
}

func TestEvaluate(t *testing.T) {
	r := engine.Row{
		ParticipantA: "a", ParticipantB: "b",
		DecisionA: engine.Cooperate, DecisionB: engine.Defect,
		Board: board0, State: engine.StateContinued,
	}
	v := Evaluate(r)
	if len(v) != 2 {
		t.Fatalf("verdicts = %+v", v)
	}
	// a cooperated into a defection: 8 instead of 18
	if v[0].IsBest || v[0].Regret != 10 || v[0].PayoffChosen != 8 || v[0].PayoffBest != 18 {
		t.Fatalf("a verdict = %+v", v[0])
	}
	// b defected on a cooperator: already best
	if !v[1].IsBest || v[1].Regret != 0 || v[1].PayoffChosen != 40 {
		t.Fatalf("b verdict = %+v", v[1])
	}
}

func TestEvaluateSkipsForfeits(t *testing.T) {
	r := engine.Row{DecisionA: engine.Cooperate, DecisionB: engine.Missing, Board: board0, State: engine.StateForfeited}
	if v := Evaluate(r); v != nil {
		t.Fatalf("forfeit verdicts = %+v", v)
	}
}

func TestCooperationSustainable(t *testing.T) {
	// (40-28)/(40-18) = 0.545...
	if CooperationSustainable(board0, 0.5) {
		t.Fatal("0.5 should not sustain cooperation on board 0")
	}
	if !CooperationSustainable(board0, 0.6) {
		t.Fatal("0.6 should sustain cooperation on board 0")
	}
}
