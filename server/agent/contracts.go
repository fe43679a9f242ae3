package agent

import (
	"fmt"

	"dilemma-lab/server/engine"
)

// Exchange is one earlier round of the current match from the observer's seat.
type Exchange struct {
	Round    int             `json:"round"`
	Self     engine.Decision `json:"self"`
	Opponent engine.Decision `json:"opponent"`
	Payoff   int             `json:"payoff"`
}

type Observation struct {
	SessionID    string       `json:"session_id"`
	PairID       string       `json:"pair_id"`
	Participant  string       `json:"participant"`
	Round        int          `json:"round"`
	Match        int          `json:"match"`
	RoundInMatch int          `json:"round_in_match"`
	Delta        float64      `json:"continuation_probability"`
	Board        engine.Board `json:"payoffs"`
	Legal        []string     `json:"legal_decisions"`
	History      []Exchange   `json:"history"` // this match only, oldest first
}

type DecisionOut struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment,omitempty"` // <=120 chars
}

// BuildObservation assembles what participant sees before deciding round.
// rows may hold the whole session; only rows of the same pair and match are kept.
func BuildObservation(sessionID string, pair engine.Pair, participant string, round int, pos engine.Position, params engine.SessionParameters, rows []engine.Row) Observation {
	o := Observation{
		SessionID:    sessionID,
		PairID:       pair.ID,
		Participant:  participant,
		Round:        round,
		Match:        pos.Match,
		RoundInMatch: pos.RoundInMatch,
		Delta:        params.Delta,
		Board:        params.Board,
		Legal:        []string{string(engine.Cooperate), string(engine.Defect)},
		History:      []Exchange{},
	}
	for _, r := range rows {
		if r.Pair != pair.ID || r.Match != pos.Match || r.Round >= round {
			continue
		}
		e := Exchange{Round: r.Round, Self: r.DecisionA, Opponent: r.DecisionB, Payoff: r.PayoffA}
		if r.ParticipantB == participant {
			e = Exchange{Round: r.Round, Self: r.DecisionB, Opponent: r.DecisionA, Payoff: r.PayoffB}
		}
		o.History = append(o.History, e)
	}
	return o
}

// Validate checks the proposed decision against the observation and returns
// the parsed value.
func Validate(o Observation, a DecisionOut) (engine.Decision, error) {
	d, err := engine.ParseDecision(a.Decision)
	if err != nil {
		return engine.Missing, err
	}
	if d == engine.Missing {
		return engine.Missing, fmt.Errorf("empty decision")
	}
	for _, l := range o.Legal {
		if l == string(d) {
			return d, nil
		}
	}
	return engine.Missing, fmt.Errorf("illegal decision %q (legals: %v)", a.Decision, o.Legal)
}

// LastOpponent returns the opponent's most recent decision in the match.
func (o Observation) LastOpponent() (engine.Decision, bool) {
	if len(o.History) == 0 {
		return engine.Missing, false
	}
	return o.History[len(o.History)-1].Opponent, true
}
