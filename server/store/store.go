package store

import (
	"context"
	"embed"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dilemma-lab/server/engine"
)

//go:embed schema.sql
var schema embed.FS

type DB struct{ *pgxpool.Pool }

func Open(dsn string) (*DB, error) {
	p, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &DB{p}, nil
}

func (db *DB) Close(ctx context.Context)      { db.Pool.Close() }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func Migrate(ctx context.Context, db *DB) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, string(sqlBytes))
	return err
}

/* -----------------------------
   Agents and ratings
------------------------------*/

// UpsertAgent registers an agent by name and returns its id.
func (db *DB) UpsertAgent(ctx context.Context, name, kind string, reasoningEffort *string) (int64, error) {
	var id int64
	err := db.QueryRow(ctx, `
        INSERT INTO agents(name, kind, reasoning_effort)
        VALUES ($1,$2,$3)
        ON CONFLICT (name) DO UPDATE
          SET kind = EXCLUDED.kind,
              reasoning_effort = EXCLUDED.reasoning_effort
        RETURNING id
    `, name, kind, nullableString(reasoningEffort)).Scan(&id)
	return id, err
}

// GetOrInitRating makes sure an agent_ratings row exists and reads it.
func (db *DB) GetOrInitRating(ctx context.Context, agentID int64) (elo float64, sessions, rounds int, err error) {
	if _, e := db.Exec(ctx, `INSERT INTO agent_ratings(agent_id) VALUES ($1) ON CONFLICT (agent_id) DO NOTHING`, agentID); e != nil {
		return 0, 0, 0, e
	}
	err = db.QueryRow(ctx, `
		SELECT elo, sessions, rounds
		  FROM agent_ratings WHERE agent_id = $1
	`, agentID).Scan(&elo, &sessions, &rounds)
	return
}

// UpdateAgentRating stores the new Elo and bumps career counters.
func (db *DB) UpdateAgentRating(ctx context.Context, agentID int64, elo float64, sessionsInc, roundsInc, judgeGoodInc, judgeTotalInc int) error {
	_, err := db.Exec(ctx, `
		UPDATE agent_ratings
		   SET elo = $2,
		       sessions = sessions + $3,
		       rounds = rounds + $4,
		       judge_good = judge_good + $5,
		       judge_total = judge_total + $6,
		       updated_at = now()
		 WHERE agent_id = $1
	`, agentID, elo, sessionsInc, roundsInc, judgeGoodInc, judgeTotalInc)
	return err
}

type JudgeAccuracy struct {
	Good  int `json:"good"`
	Total int `json:"total"`
}

func (ja JudgeAccuracy) Ratio() float64 {
	if ja.Total <= 0 {
		return 0
	}
	return float64(ja.Good) / float64(ja.Total)
}

// LeaderboardEntry is one agent's career line.
type LeaderboardEntry struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Elo      float64       `json:"elo"`
	Sessions int           `json:"sessions"`
	Rounds   int           `json:"rounds"`
	Judge    JudgeAccuracy `json:"judge"`
}

// Leaderboard lists rated agents by Elo, best first.
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
		SELECT a.name, a.kind, r.elo, r.sessions, r.rounds, r.judge_good, r.judge_total
		  FROM agent_ratings r
		  JOIN agents a ON a.id = r.agent_id
		 ORDER BY r.elo DESC, a.name
		 LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Name, &e.Kind, &e.Elo, &e.Sessions, &e.Rounds, &e.Judge.Good, &e.Judge.Total); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SessionJudgeAccuracy counts best-response decisions per participant.
func (db *DB) SessionJudgeAccuracy(ctx context.Context, sessionID, judge string) (map[string]JudgeAccuracy, error) {
	rows, err := db.Query(ctx, `
                SELECT e.participant,
                       SUM(CASE WHEN e.is_best THEN 1 ELSE 0 END)::int AS good,
                       COUNT(*)::int AS total
                  FROM decision_eval e
                  JOIN rounds r ON r.id = e.round_id
                 WHERE r.session_id = $1 AND e.judge = $2
                 GROUP BY e.participant`, sessionID, judge)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]JudgeAccuracy)
	for rows.Next() {
		var who string
		var ja JudgeAccuracy
		if err := rows.Scan(&who, &ja.Good, &ja.Total); err != nil {
			return nil, err
		}
		out[who] = ja
	}
	return out, rows.Err()
}

/* -----------------------------
   Sessions and rounds
------------------------------*/

// CreateSession records a new session and its drawn parameters. params is
// nil when parameters are drawn per pair.
func (db *DB) CreateSession(ctx context.Context, s *engine.Session, params *engine.SessionParameters) error {
	cfg := s.Config()
	cfgJSON, err := json.Marshal(map[string]any{
		"deltas":          cfg.Deltas,
		"num_matches":     cfg.NumMatches,
		"truncate_cap":    cfg.TruncateCap,
		"max_rounds":      cfg.MaxRounds,
		"pair_by_arrival": cfg.PairByArrival,
		"timeout":         cfg.Timeout,
		"round_timeout_s": cfg.RoundTimeout.Seconds(),
		"grace_s":         cfg.Grace.Seconds(),
	})
	if err != nil {
		return err
	}
	var delta, index, board any
	if params != nil {
		delta, index = params.Delta, params.BoardIndex
		if board, err = json.Marshal(params.Board); err != nil {
			return err
		}
	}
	_, err = db.Exec(ctx, `
		INSERT INTO sessions(id, seed, mode, param_scope, pairing, delta, board_index, board, config)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.Seed, string(cfg.Mode), string(cfg.Scope), string(cfg.Pairing), delta, index, board, cfgJSON)
	return err
}

// InsertParticipants records who played in a session; agentIDs may be nil.
func (db *DB) InsertParticipants(ctx context.Context, sessionID string, participants []string, agentIDs map[string]int64) error {
	batch := &pgx.Batch{}
	for _, p := range participants {
		var agent any
		if id, ok := agentIDs[p]; ok {
			agent = id
		}
		batch.Queue(`
			INSERT INTO session_participants(session_id, participant, agent_id)
			VALUES ($1,$2,$3)
			ON CONFLICT (session_id, participant) DO NOTHING
		`, sessionID, p, agent)
	}
	return db.SendBatch(ctx, batch).Close()
}

// InsertBoundaries upserts the closed match boundaries of one timeline.
func (db *DB) InsertBoundaries(ctx context.Context, sessionID, scope string, bounds []engine.MatchBoundary) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // safe if already committed

	for _, b := range bounds {
		if b.LastRound == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO match_boundaries(session_id, scope, match, first_round, last_round)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (session_id, scope, match) DO UPDATE
			  SET first_round = EXCLUDED.first_round,
			      last_round = EXCLUDED.last_round
		`, sessionID, scope, b.Match, b.FirstRound, b.LastRound); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// InsertRound persists a resolved round. Re-inserting the same
// (session, pair, round) keeps the first row and returns its id.
func (db *DB) InsertRound(ctx context.Context, r engine.Row) (int64, error) {
	board, err := json.Marshal(r.Board)
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.QueryRow(ctx, `
        WITH ins AS (
            INSERT INTO rounds(
                session_id, pair_id, round, match, round_in_match,
                participant_a, participant_b, decision_a, decision_b,
                payoff_a, payoff_b, die_roll, delta, board_index, board, state
            ) VALUES (
                $1,$2,$3,$4,$5,
                $6,$7,$8,$9,
                $10,$11,$12,$13,$14,$15,$16
            )
            ON CONFLICT (session_id, pair_id, round) DO NOTHING
            RETURNING id
        )
        SELECT id FROM ins
        UNION ALL
        SELECT id FROM rounds WHERE session_id = $1 AND pair_id = $2 AND round = $3
        LIMIT 1
    `,
		r.Session, r.Pair, r.Round, r.Match, r.RoundInMatch,
		r.ParticipantA, r.ParticipantB, decisionText(r.DecisionA), decisionText(r.DecisionB),
		r.PayoffA, r.PayoffB, r.DieRoll, r.Delta, r.BoardIndex, board, string(r.State),
	).Scan(&id)
	return id, err
}

func (db *DB) CompleteSession(ctx context.Context, sessionID string) error {
	_, err := db.Exec(ctx, `UPDATE sessions SET ended_at = now() WHERE id = $1`, sessionID)
	return err
}

// RoundRecord is a persisted round with its row id.
type RoundRecord struct {
	ID int64
	engine.Row
}

// ListRounds returns every persisted round of a session ordered by round, then pair.
func (db *DB) ListRounds(ctx context.Context, sessionID string) ([]RoundRecord, error) {
	rows, err := db.Query(ctx, `
		SELECT id, session_id, pair_id, round, match, round_in_match,
		       participant_a, participant_b, decision_a, decision_b,
		       payoff_a, payoff_b, die_roll, delta, board_index, board, state
		  FROM rounds
		 WHERE session_id = $1
		 ORDER BY round, pair_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RoundRecord
	for rows.Next() {
		var rec RoundRecord
		var decA, decB, state string
		var board []byte
		if err := rows.Scan(
			&rec.ID, &rec.Session, &rec.Pair, &rec.Round, &rec.Match, &rec.RoundInMatch,
			&rec.ParticipantA, &rec.ParticipantB, &decA, &decB,
			&rec.PayoffA, &rec.PayoffB, &rec.DieRoll, &rec.Delta, &rec.BoardIndex, &board, &state,
		); err != nil {
			return nil, err
		}
		rec.DecisionA, rec.DecisionB = parseDecisionText(decA), parseDecisionText(decB)
		rec.State = engine.MatchEndState(state)
		if err := json.Unmarshal(board, &rec.Board); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DecisionEval is one judge verdict on a participant's decision.
type DecisionEval struct {
	RoundID      int64
	Participant  string
	Judge        string
	Chosen       engine.Decision
	BestResponse engine.Decision
	PayoffChosen int
	PayoffBest   int
	Regret       int
	IsBest       bool
}

func (db *DB) InsertDecisionEval(ctx context.Context, e DecisionEval) error {
	_, err := db.Exec(ctx, `
        INSERT INTO decision_eval(
            round_id, participant, judge, chosen, best_response,
            payoff_chosen, payoff_best, regret, is_best
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (round_id, participant) DO UPDATE SET
            judge = EXCLUDED.judge,
            chosen = EXCLUDED.chosen,
            best_response = EXCLUDED.best_response,
            payoff_chosen = EXCLUDED.payoff_chosen,
            payoff_best = EXCLUDED.payoff_best,
            regret = EXCLUDED.regret,
            is_best = EXCLUDED.is_best
    `,
		e.RoundID, e.Participant, e.Judge, decisionText(e.Chosen), decisionText(e.BestResponse),
		e.PayoffChosen, e.PayoffBest, e.Regret, e.IsBest,
	)
	return err
}

// missing decisions are stored as "Missing" so the column stays NOT NULL
func decisionText(d engine.Decision) string {
	if d == engine.Missing {
		return "Missing"
	}
	return string(d)
}

func parseDecisionText(s string) engine.Decision {
	if s == "Missing" {
		return engine.Missing
	}
	return engine.Decision(s)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	if v := strings.TrimSpace(*s); v != "" {
		return v
	}
	return nil
}
