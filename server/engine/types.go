package engine

import (
	"errors"
	"fmt"
	"strings"
)

type Decision string

const (
	Missing   Decision = "" // no submission before the deadline
	Cooperate Decision = "Cooperate"
	Defect    Decision = "Defect"
)

func (d Decision) Valid() bool { return d == Cooperate || d == Defect }

// ParseDecision accepts the two decisions case-insensitively plus the
// single-letter forms "C"/"D". An empty string parses to Missing.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return Missing, nil
	case "cooperate", "c":
		return Cooperate, nil
	case "defect", "d":
		return Defect, nil
	}
	return Missing, fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

type Mode string

const (
	Precommitted Mode = "precommitted"
	Live         Mode = "live"
)

type PairingKind string

const (
	PairRandom PairingKind = "random"
	PairFixed  PairingKind = "fixed"
)

type ParamScope string

const (
	ScopeSession ParamScope = "session"
	ScopePair    ParamScope = "pair"
)

type TimeoutPolicy string

const (
	TimeoutForfeit       TimeoutPolicy = "forfeit"
	TimeoutDefaultDefect TimeoutPolicy = "defect"
)

type MatchEndState string

const (
	StateActive      MatchEndState = "ACTIVE"
	StateForfeited   MatchEndState = "FORFEITED"
	StateContinued   MatchEndState = "CONTINUED"
	StateTerminated  MatchEndState = "TERMINATED"
	StateSessionDone MatchEndState = "SESSION_DONE"
)

// Terminal reports whether no further rounds are played by the pair.
func (s MatchEndState) Terminal() bool {
	return s == StateForfeited || s == StateSessionDone
}

type Board struct {
	BothCooperate int `json:"both_cooperate"`
	Betrayed      int `json:"betrayed"`
	Betray        int `json:"betray"`
	BothDefect    int `json:"both_defect"`
}

type SessionParameters struct {
	Delta      float64 `json:"delta"`
	BoardIndex int     `json:"board_index"`
	Board      Board   `json:"board"`
}

// Threshold is the live-mode continuation threshold ⌊δ×100⌋.
func (p SessionParameters) Threshold() int { return ContinuationThreshold(p.Delta) }

type MatchBoundary struct {
	Match      int `json:"match"`
	FirstRound int `json:"first_round"`
	LastRound  int `json:"last_round"` // 0 while a live match is still open
}

func (b MatchBoundary) Len() int {
	if b.LastRound == 0 {
		return 0
	}
	return b.LastRound - b.FirstRound + 1
}

type Position struct {
	Match        int `json:"match"`
	RoundInMatch int `json:"round_in_match"`
}

type Pair struct {
	ID      string    `json:"id"`
	Members [2]string `json:"members"`
	Match   int       `json:"match"`
}

func (p Pair) Has(participant string) bool {
	return p.Members[0] == participant || p.Members[1] == participant
}

// Other returns the member that is not participant.
func (p Pair) Other(participant string) string {
	if p.Members[0] == participant {
		return p.Members[1]
	}
	return p.Members[0]
}

type RoundResult struct {
	PairID    string        `json:"pair_id"`
	Round     int           `json:"round"`
	Position  Position      `json:"position"`
	Decisions [2]Decision   `json:"decisions"`
	Payoffs   [2]int        `json:"payoffs"`
	DieRoll   int           `json:"die_roll"` // -1 when no roll was made
	State     MatchEndState `json:"state"`
}

var (
	ErrInvalidBoardIndex    = errors.New("board index out of range")
	ErrScheduleExhausted    = errors.New("no active match")
	ErrInvalidConfig        = errors.New("invalid session config")
	ErrInvalidDecision      = errors.New("decision must be Cooperate or Defect")
	ErrUnknownPair          = errors.New("unknown pair")
	ErrNotInPair            = errors.New("participant is not a member of the pair")
	ErrRoundResolved        = errors.New("round already resolved")
	ErrDuplicateParticipant = errors.New("participant listed twice")
)
