package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Timeline is the match schedule for one parameter scope. In pre-committed
// mode every boundary is known up front; in live mode the open match has
// LastRound 0 until a continuation check closes it.
type Timeline struct {
	Scope  string
	Params SessionParameters

	mode       Mode
	numMatches int
	maxRounds  int
	rolls      *DieRolls

	mu     sync.RWMutex
	bounds []MatchBoundary
	done   bool
}

// NewPrecommittedTimeline builds a timeline from pre-sampled match lengths.
func NewPrecommittedTimeline(scope string, params SessionParameters, lengths []int) *Timeline {
	return &Timeline{
		Scope:      scope,
		Params:     params,
		mode:       Precommitted,
		numMatches: len(lengths),
		bounds:     Boundaries(lengths),
	}
}

// NewLiveTimeline builds a timeline whose boundaries are revealed by die rolls.
// maxRounds > 0 caps the session length.
func NewLiveTimeline(scope string, params SessionParameters, numMatches, maxRounds int, rolls *DieRolls) *Timeline {
	return &Timeline{
		Scope:      scope,
		Params:     params,
		mode:       Live,
		numMatches: numMatches,
		maxRounds:  maxRounds,
		rolls:      rolls,
		bounds:     []MatchBoundary{{Match: 1, FirstRound: 1}},
	}
}

func (t *Timeline) Mode() Mode { return t.mode }

// Boundaries returns a copy of the known boundaries.
func (t *Timeline) Boundaries() []MatchBoundary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]MatchBoundary(nil), t.bounds...)
}

// Total is the number of scheduled rounds, or 0 while a live match is open.
func (t *Timeline) Total() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	last := t.bounds[len(t.bounds)-1]
	return last.LastRound
}

func (t *Timeline) Done() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.done
}

// Locate maps a global round to its match and round-in-match.
func (t *Timeline) Locate(round int) (Position, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return locate(t.bounds, round, t.maxRounds)
}

func locate(bounds []MatchBoundary, round, maxRounds int) (Position, error) {
	if round < 1 || (maxRounds > 0 && round > maxRounds) {
		return Position{}, fmt.Errorf("%w: round %d", ErrScheduleExhausted, round)
	}
	i := sort.Search(len(bounds), func(i int) bool {
		return bounds[i].LastRound == 0 || bounds[i].LastRound >= round
	})
	if i == len(bounds) {
		return Position{}, fmt.Errorf("%w: round %d", ErrScheduleExhausted, round)
	}
	b := bounds[i]
	return Position{Match: b.Match, RoundInMatch: round - b.FirstRound + 1}, nil
}

// StartsNewMatch reports whether round is the first round of a match.
func (t *Timeline) StartsNewMatch(round int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := sort.Search(len(t.bounds), func(i int) bool { return t.bounds[i].FirstRound >= round })
	return i < len(t.bounds) && t.bounds[i].FirstRound == round
}

// EndOfRound runs the continuation check for round. It is idempotent: every
// caller asking about the same round gets the same state and roll.
func (t *Timeline) EndOfRound(round int) (MatchEndState, int, error) {
	pos, err := t.Locate(round)
	if err != nil {
		return StateSessionDone, -1, err
	}
	if t.mode == Precommitted {
		t.mu.Lock()
		defer t.mu.Unlock()
		b := t.bounds[pos.Match-1]
		state := BoundaryOutcome(round, b, pos.Match == len(t.bounds))
		if state == StateSessionDone {
			t.done = true
		}
		return state, -1, nil
	}

	roll := t.rolls.Roll(RollKey{Scope: t.Scope, Match: pos.Match, Round: round})

	t.mu.Lock()
	defer t.mu.Unlock()
	b := &t.bounds[pos.Match-1]
	final := pos.Match >= t.numMatches || (t.maxRounds > 0 && round >= t.maxRounds)
	if b.LastRound != 0 {
		return BoundaryOutcome(round, *b, pos.Match == len(t.bounds) && t.done), roll, nil
	}
	state := RollOutcome(roll, t.Params.Threshold())
	if state == StateContinued && !(t.maxRounds > 0 && round >= t.maxRounds) {
		return StateContinued, roll, nil
	}
	b.LastRound = round
	if final {
		t.done = true
		return StateSessionDone, roll, nil
	}
	t.bounds = append(t.bounds, MatchBoundary{Match: pos.Match + 1, FirstRound: round + 1})
	return StateTerminated, roll, nil
}
