package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"dilemma-lab/server/engine"
)

// Header is the column order of WriteCSV.
var Header = []string{
	"session", "pair", "round", "match", "round_in_match",
	"participant_a", "participant_b", "decision_a", "decision_b",
	"payoff_a", "payoff_b", "die_roll", "delta", "board_index",
	"both_cooperate", "betrayed", "betray", "both_defect", "state",
}

// WriteCSV writes rows as one flat table keyed by (session, pair, round).
// Missing decisions are written as empty cells.
func WriteCSV(w io.Writer, rows []engine.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.Session, r.Pair, strconv.Itoa(r.Round), strconv.Itoa(r.Match), strconv.Itoa(r.RoundInMatch),
			r.ParticipantA, r.ParticipantB, string(r.DecisionA), string(r.DecisionB),
			strconv.Itoa(r.PayoffA), strconv.Itoa(r.PayoffB), strconv.Itoa(r.DieRoll),
			strconv.FormatFloat(r.Delta, 'f', -1, 64), strconv.Itoa(r.BoardIndex),
			strconv.Itoa(r.Board.BothCooperate), strconv.Itoa(r.Board.Betrayed),
			strconv.Itoa(r.Board.Betray), strconv.Itoa(r.Board.BothDefect),
			string(r.State),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
