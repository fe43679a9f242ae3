package main

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dilemma-lab/server/engine"
	"dilemma-lab/server/store"
)

var errUnknownSession = errors.New("unknown session")

// registry holds live sessions for the HTTP API and mirrors resolved rounds
// to the database when one is configured.
type registry struct {
	cfg engine.Config
	db  *store.DB
	log *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*engine.Session
}

func newRegistry(cfg engine.Config, db *store.DB, log *zap.Logger) *registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &registry{cfg: cfg, db: db, log: log, sessions: make(map[string]*engine.Session)}
}

func (r *registry) create(ctx context.Context, seed int64) (*engine.Session, error) {
	s, err := engine.InitSession(newSessionID(), r.cfg, seed, r.log)
	if err != nil {
		return nil, err
	}
	if r.db != nil {
		var params *engine.SessionParameters
		if p, ok := s.Parameters(); ok {
			params = &p
		}
		if err := r.db.CreateSession(ctx, s, params); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s, nil
}

func newSessionID() string { return uuid.NewString() }

func (r *registry) get(id string) (*engine.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errUnknownSession
	}
	return s, nil
}

// recordRound persists a resolved round. Boundaries are written when a match
// closes, and the session is marked complete when it is done.
func (r *registry) recordRound(ctx context.Context, s *engine.Session, res engine.RoundResult) error {
	if r.db == nil {
		return nil
	}
	return persistRound(ctx, r.db, s, res)
}

func persistRound(ctx context.Context, db *store.DB, s *engine.Session, res engine.RoundResult) error {
	row, ok := s.Row(res.PairID, res.Round)
	if !ok {
		return nil
	}
	if _, err := db.InsertRound(ctx, row); err != nil {
		return err
	}
	if res.State == engine.StateTerminated || res.State == engine.StateSessionDone {
		if err := persistBoundaries(ctx, db, s, res.PairID); err != nil {
			return err
		}
	}
	if s.Done() {
		return db.CompleteSession(ctx, s.ID)
	}
	return nil
}

func persistBoundaries(ctx context.Context, db *store.DB, s *engine.Session, pairID string) error {
	if _, ok := s.Parameters(); ok {
		return db.InsertBoundaries(ctx, s.ID, "session", s.Schedule())
	}
	tl, err := s.PairTimeline(pairID)
	if err != nil {
		return err
	}
	return db.InsertBoundaries(ctx, s.ID, pairID, tl.Boundaries())
}
