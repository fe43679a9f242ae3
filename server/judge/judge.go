package judge

import (
	"context"

	"dilemma-lab/server/engine"
	"dilemma-lab/server/store"
)

// Name is stored in decision_eval.judge.
const Name = "BestResponse"

// Verdict compares a decision with the best reply to what the opponent
// actually played that round.
type Verdict struct {
	Participant  string
	Chosen       engine.Decision
	BestResponse engine.Decision
	PayoffChosen int
	PayoffBest   int
	Regret       int
	IsBest       bool
}

// BestResponse returns the decision that pays most against opp on board b.
// Ties go to Cooperate.
func BestResponse(b engine.Board, opp engine.Decision) engine.Decision {
	if engine.Payoff(b, engine.Defect, opp) > engine.Payoff(b, engine.Cooperate, opp) {
		return engine.Defect
	}
	return engine.Cooperate
}

// Evaluate judges both seats of a resolved round. Forfeited rounds and
// missing decisions produce no verdicts.
func Evaluate(r engine.Row) []Verdict {
	if r.State == engine.StateForfeited || !r.DecisionA.Valid() || !r.DecisionB.Valid() {
		return nil
	}
	return []Verdict{
		verdict(r.Board, r.ParticipantA, r.DecisionA, r.DecisionB),
		verdict(r.Board, r.ParticipantB, r.DecisionB, r.DecisionA),
	}
}

func verdict(b engine.Board, who string, self, opp engine.Decision) Verdict {
	best := BestResponse(b, opp)
	chosen := engine.Payoff(b, self, opp)
	top := engine.Payoff(b, best, opp)
	return Verdict{
		Participant:  who,
		Chosen:       self,
		BestResponse: best,
		PayoffChosen: chosen,
		PayoffBest:   top,
		Regret:       top - chosen,
		IsBest:       chosen >= top,
	}
}

// CooperationSustainable reports whether mutual cooperation is a subgame
// perfect outcome under grim-trigger punishment: δ >= (T-R)/(T-P).
func CooperationSustainable(b engine.Board, delta float64) bool {
	if b.Betray <= b.BothDefect {
		return true
	}
	return delta >= float64(b.Betray-b.BothCooperate)/float64(b.Betray-b.BothDefect)
}

// EvaluateSession judges every persisted round of a session and writes the
// verdicts to decision_eval. It returns the number of verdicts written.
func EvaluateSession(ctx context.Context, db *store.DB, sessionID string) (int, error) {
	rounds, err := db.ListRounds(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range rounds {
		for _, v := range Evaluate(rec.Row) {
			if err := db.InsertDecisionEval(ctx, store.DecisionEval{
				RoundID:      rec.ID,
				Participant:  v.Participant,
				Judge:        Name,
				Chosen:       v.Chosen,
				BestResponse: v.BestResponse,
				PayoffChosen: v.PayoffChosen,
				PayoffBest:   v.PayoffBest,
				Regret:       v.Regret,
				IsBest:       v.IsBest,
			}); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
