package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"dilemma-lab/server/engine"
	"dilemma-lab/server/export"
	"dilemma-lab/server/store"
)

type sessionView struct {
	ID          string                    `json:"id"`
	Seed        int64                     `json:"seed"`
	Mode        engine.Mode               `json:"mode"`
	Pairing     engine.PairingKind        `json:"pairing"`
	Scope       engine.ParamScope         `json:"param_scope"`
	Parameters  *engine.SessionParameters `json:"parameters,omitempty"`
	Threshold   *int                      `json:"continuation_threshold,omitempty"`
	Schedule    []engine.MatchBoundary    `json:"schedule"`
	TotalRounds int                       `json:"total_rounds"`
	Done        bool                      `json:"done"`
}

func viewOf(s *engine.Session) sessionView {
	cfg := s.Config()
	v := sessionView{
		ID:          s.ID,
		Seed:        s.Seed,
		Mode:        cfg.Mode,
		Pairing:     cfg.Pairing,
		Scope:       cfg.Scope,
		Schedule:    s.Schedule(),
		TotalRounds: s.TotalRounds(),
		Done:        s.Done(),
	}
	if p, ok := s.Parameters(); ok {
		v.Parameters = &p
		if cfg.Mode == engine.Live {
			th := p.Threshold()
			v.Threshold = &th
		}
	}
	if v.Schedule == nil {
		v.Schedule = []engine.MatchBoundary{}
	}
	return v
}

func Router(reg *registry, db *store.DB, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recovery(log))

	r.Get("/api/health", func(w http.ResponseWriter, req *http.Request) {
		out := map[string]any{"ok": true, "db": db != nil}
		if db != nil {
			if err := db.Ping(req.Context()); err != nil {
				out["ok"] = false
				out["db_error"] = err.Error()
			}
		}
		writeJSON(w, out)
	})

	r.Get("/api/leaderboard", func(w http.ResponseWriter, req *http.Request) {
		if db == nil {
			writeError(w, http.StatusServiceUnavailable, "no database configured")
			return
		}
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		entries, err := db.Leaderboard(req.Context(), limit)
		if err != nil {
			log.Error("leaderboard failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "leaderboard unavailable")
			return
		}
		if entries == nil {
			entries = []store.LeaderboardEntry{}
		}
		writeJSON(w, entries)
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Seed int64 `json:"seed"`
			}
			if req.ContentLength != 0 {
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
					return
				}
			}
			s, err := reg.create(req.Context(), body.Seed)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			w.Header().Set("Location", "/api/sessions/"+s.ID)
			writeJSONStatus(w, http.StatusCreated, viewOf(s))
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", withSession(reg, func(w http.ResponseWriter, req *http.Request, s *engine.Session) {
				writeJSON(w, viewOf(s))
			}))

			r.Get("/locate", withSession(reg, func(w http.ResponseWriter, req *http.Request, s *engine.Session) {
				round, err := strconv.Atoi(req.URL.Query().Get("round"))
				if err != nil {
					writeError(w, http.StatusBadRequest, "round must be an integer")
					return
				}
				pos, err := s.Locate(round)
				if err != nil {
					writeEngineError(w, err)
					return
				}
				writeJSON(w, map[string]any{
					"round":            round,
					"match":            pos.Match,
					"round_in_match":   pos.RoundInMatch,
					"starts_new_match": s.StartsNewMatch(round),
				})
			}))

			r.Post("/pairs", withSession(reg, func(w http.ResponseWriter, req *http.Request, s *engine.Session) {
				var body struct {
					Round        int      `json:"round"`
					Participants []string `json:"participants"`
				}
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
					return
				}
				pairs, err := s.Pair(body.Round, body.Participants)
				if err != nil {
					writeEngineError(w, err)
					return
				}
				writeJSON(w, map[string]any{"round": body.Round, "pairs": pairs})
			}))

			r.Post("/decisions", withSession(reg, func(w http.ResponseWriter, req *http.Request, s *engine.Session) {
				var body struct {
					PairID        string `json:"pair_id"`
					ParticipantID string `json:"participant_id"`
					Round         int    `json:"round"`
					Decision      string `json:"decision"`
				}
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
					return
				}
				d, err := engine.ParseDecision(body.Decision)
				if err != nil {
					writeEngineError(w, err)
					return
				}
				if err := s.RecordDecision(body.PairID, body.ParticipantID, body.Round, d); err != nil {
					writeEngineError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			}))

			r.Post("/resolve", withSession(reg, func(w http.ResponseWriter, req *http.Request, s *engine.Session) {
				var body struct {
					PairID string `json:"pair_id"`
					Round  int    `json:"round"`
				}
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
					return
				}
				res, err := s.ResolveRound(body.PairID, body.Round)
				if err != nil {
					writeEngineError(w, err)
					return
				}
				if err := reg.recordRound(req.Context(), s, res); err != nil {
					log.Error("persist round failed", zap.String("session", s.ID), zap.String("pair", res.PairID), zap.Int("round", res.Round), zap.Error(err))
				}
				writeJSON(w, res)
			}))

			r.Get("/export.csv", withSession(reg, func(w http.ResponseWriter, req *http.Request, s *engine.Session) {
				w.Header().Set("Content-Type", "text/csv")
				w.Header().Set("Content-Disposition", `attachment; filename="`+s.ID+`.csv"`)
				if err := export.WriteCSV(w, s.Rows()); err != nil {
					log.Error("export failed", zap.String("session", s.ID), zap.Error(err))
				}
			}))
		})
	})

	return r
}

func withSession(reg *registry, h func(http.ResponseWriter, *http.Request, *engine.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s, err := reg.get(chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h(w, req, s)
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownPair), errors.Is(err, errUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRoundResolved), errors.Is(err, engine.ErrAlreadyDecided), errors.Is(err, engine.ErrRoundPending),
		errors.Is(err, engine.ErrOutOfOrder):
		return http.StatusConflict
	case errors.Is(err, engine.ErrScheduleExhausted), errors.Is(err, engine.ErrDeadlinePassed):
		return http.StatusGone
	case errors.Is(err, engine.ErrInvalidDecision), errors.Is(err, engine.ErrNotInPair),
		errors.Is(err, engine.ErrDuplicateParticipant), errors.Is(err, engine.ErrInvalidConfig),
		errors.Is(err, engine.ErrInvalidBoardIndex), errors.Is(err, engine.ErrPerPairSchedule):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}
