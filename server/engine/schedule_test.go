package engine

import (
	"errors"
	"testing"
)

func TestLocate(t *testing.T) {
	tl := NewPrecommittedTimeline("session", SessionParameters{Delta: 0.5}, []int{3, 6, 1})
	cases := []struct {
		round int
		want  Position
	}{
		{1, Position{1, 1}},
		{2, Position{1, 2}},
		{4, Position{2, 1}},
		{9, Position{2, 6}},
		{10, Position{3, 1}},
	}
	for _, tc := range cases {
		got, err := tl.Locate(tc.round)
		if err != nil {
			t.Fatalf("Locate(%d): %v", tc.round, err)
		}
		if got != tc.want {
			t.Fatalf("Locate(%d) = %+v, want %+v", tc.round, got, tc.want)
		}
	}
	for _, round := range []int{0, 11, 100} {
		if _, err := tl.Locate(round); !errors.Is(err, ErrScheduleExhausted) {
			t.Fatalf("Locate(%d) err = %v, want ErrScheduleExhausted", round, err)
		}
	}
	if tl.Total() != 10 {
		t.Fatalf("Total = %d", tl.Total())
	}
}

func TestStartsNewMatch(t *testing.T) {
	tl := NewPrecommittedTimeline("session", SessionParameters{}, []int{3, 6, 1})
	for round, want := range map[int]bool{1: true, 2: false, 4: true, 5: false, 10: true, 11: false} {
		if got := tl.StartsNewMatch(round); got != want {
			t.Fatalf("StartsNewMatch(%d) = %v", round, got)
		}
	}
}

func TestPrecommittedEndOfRound(t *testing.T) {
	tl := NewPrecommittedTimeline("session", SessionParameters{Delta: 0.5}, []int{5, 3})
	want := map[int]MatchEndState{
		1: StateContinued,
		4: StateContinued,
		5: StateTerminated,
		6: StateContinued,
		8: StateSessionDone,
	}
	for round, w := range want {
		got, roll, err := tl.EndOfRound(round)
		if err != nil {
			t.Fatalf("EndOfRound(%d): %v", round, err)
		}
		if got != w || roll != -1 {
			t.Fatalf("EndOfRound(%d) = %s, %d; want %s, -1", round, got, roll, w)
		}
	}
	if _, _, err := tl.EndOfRound(9); !errors.Is(err, ErrScheduleExhausted) {
		t.Fatalf("EndOfRound(9) err = %v", err)
	}
}

func TestLiveTimelineRolls(t *testing.T) {
	rolls := NewDieRolls(1)
	rolls.rolls[RollKey{"s", 1, 1}] = 65
	rolls.rolls[RollKey{"s", 1, 2}] = 85
	rolls.rolls[RollKey{"s", 2, 3}] = 100
	tl := NewLiveTimeline("s", SessionParameters{Delta: 0.7}, 2, 0, rolls)

	if tl.Total() != 0 {
		t.Fatalf("open match Total = %d", tl.Total())
	}
	st, roll, err := tl.EndOfRound(1)
	if err != nil || st != StateContinued || roll != 65 {
		t.Fatalf("round 1 = %s, %d, %v", st, roll, err)
	}
	st, roll, err = tl.EndOfRound(2)
	if err != nil || st != StateTerminated || roll != 85 {
		t.Fatalf("round 2 = %s, %d, %v", st, roll, err)
	}
	// a second pair asking about the same round sees the same outcome
	st, roll, err = tl.EndOfRound(2)
	if err != nil || st != StateTerminated || roll != 85 {
		t.Fatalf("round 2 again = %s, %d, %v", st, roll, err)
	}
	pos, err := tl.Locate(3)
	if err != nil || pos != (Position{2, 1}) {
		t.Fatalf("Locate(3) = %+v, %v", pos, err)
	}
	if !tl.StartsNewMatch(3) {
		t.Fatal("round 3 should start match 2")
	}
	st, roll, err = tl.EndOfRound(3)
	if err != nil || st != StateSessionDone || roll != 100 {
		t.Fatalf("round 3 = %s, %d, %v", st, roll, err)
	}
	if !tl.Done() || tl.Total() != 3 {
		t.Fatalf("Done = %v, Total = %d", tl.Done(), tl.Total())
	}
	if _, err := tl.Locate(4); !errors.Is(err, ErrScheduleExhausted) {
		t.Fatalf("Locate(4) err = %v", err)
	}
	got := tl.Boundaries()
	want := []MatchBoundary{{1, 1, 2}, {2, 3, 3}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("boundaries = %+v", got)
	}
}

func TestLiveTimelineMaxRounds(t *testing.T) {
	rolls := NewDieRolls(1)
	rolls.rolls[RollKey{"s", 1, 1}] = 10
	rolls.rolls[RollKey{"s", 1, 2}] = 10
	tl := NewLiveTimeline("s", SessionParameters{Delta: 0.9}, 5, 2, rolls)
	if st, _, _ := tl.EndOfRound(1); st != StateContinued {
		t.Fatalf("round 1 = %s", st)
	}
	if st, _, _ := tl.EndOfRound(2); st != StateSessionDone {
		t.Fatalf("capped round 2 = %s", st)
	}
	if _, err := tl.Locate(3); !errors.Is(err, ErrScheduleExhausted) {
		t.Fatalf("Locate(3) err = %v", err)
	}
}
