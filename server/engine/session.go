package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrAlreadyDecided  = errors.New("participant already decided this round")
	ErrDeadlinePassed  = errors.New("round deadline passed")
	ErrRoundPending    = errors.New("round still waiting for decisions")
	ErrPerPairSchedule = errors.New("parameters are drawn per pair")
	ErrOutOfOrder      = errors.New("round resolved before an earlier round")
)

type Config struct {
	Deltas        []float64
	Boards        BoardTable
	BoardIndex    int // -1 samples the board
	Mode          Mode
	NumMatches    int
	TruncateCap   int // 0 disables right-truncation
	MaxRounds     int // live-mode cap, 0 = none
	Pairing       PairingKind
	PairByArrival bool
	Scope         ParamScope
	Timeout       TimeoutPolicy
	RoundTimeout  time.Duration // 0 = no deadline
	Grace         time.Duration
}

func DefaultConfig() Config {
	return Config{
		Deltas:       append([]float64(nil), DefaultDeltas...),
		Boards:       DefaultBoards(),
		BoardIndex:   -1,
		Mode:         Precommitted,
		NumMatches:   1,
		MaxRounds:    100,
		Pairing:      PairRandom,
		Scope:        ScopeSession,
		Timeout:      TimeoutForfeit,
		RoundTimeout: 90 * time.Second,
	}
}

func (c Config) Validate() error {
	if len(c.Deltas) == 0 {
		return fmt.Errorf("%w: no delta candidates", ErrInvalidConfig)
	}
	for _, d := range c.Deltas {
		if d < 0 || d >= 1 {
			return fmt.Errorf("%w: delta %v not in [0,1)", ErrInvalidConfig, d)
		}
	}
	if err := c.Boards.Validate(); err != nil {
		return err
	}
	if c.BoardIndex >= 0 {
		if _, err := c.Boards.Board(c.BoardIndex); err != nil {
			return err
		}
	}
	if c.NumMatches < 1 {
		return fmt.Errorf("%w: need at least one match", ErrInvalidConfig)
	}
	switch c.Mode {
	case Precommitted, Live:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	switch c.Pairing {
	case PairRandom, PairFixed:
	default:
		return fmt.Errorf("%w: unknown pairing %q", ErrInvalidConfig, c.Pairing)
	}
	switch c.Scope {
	case ScopeSession:
	case ScopePair:
		if c.Pairing != PairFixed {
			return fmt.Errorf("%w: per-pair parameters need fixed pairing", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidConfig, c.Scope)
	}
	switch c.Timeout {
	case TimeoutForfeit, TimeoutDefaultDefect:
	default:
		return fmt.Errorf("%w: unknown timeout policy %q", ErrInvalidConfig, c.Timeout)
	}
	if c.RoundTimeout < 0 || c.Grace < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	return nil
}

// Row is one resolved round in flat export form.
type Row struct {
	Session      string        `json:"session"`
	Pair         string        `json:"pair"`
	Round        int           `json:"round"`
	Match        int           `json:"match"`
	RoundInMatch int           `json:"round_in_match"`
	ParticipantA string        `json:"participant_a"`
	ParticipantB string        `json:"participant_b"`
	DecisionA    Decision      `json:"decision_a"`
	DecisionB    Decision      `json:"decision_b"`
	PayoffA      int           `json:"payoff_a"`
	PayoffB      int           `json:"payoff_b"`
	DieRoll      int           `json:"die_roll"`
	Delta        float64       `json:"delta"`
	BoardIndex   int           `json:"board_index"`
	Board        Board         `json:"board"`
	State        MatchEndState `json:"state"`
}

// Session owns the parameters, schedule and pair timelines of one experiment
// session. Parameters are drawn in InitSession (or when a pair forms, for
// per-pair scope) and only read afterwards.
type Session struct {
	ID   string
	Seed int64

	cfg      Config
	log      *zap.Logger
	now      func() time.Time
	rolls    *DieRolls
	pairer   Pairer
	shared   *Timeline
	paramRNG *rand.Rand
	lenRNG   *rand.Rand

	mu    sync.Mutex
	pairs map[string]*pairState
	out   map[string]bool
	rows  []Row
}

type pairState struct {
	pair     Pair
	timeline *Timeline
	offset   int // global round = local round + offset

	mu     sync.Mutex
	rounds map[int]*roundState
	state  MatchEndState
	next   int // earliest unresolved global round
}

type roundState struct {
	decisions map[string]Decision
	deadline  time.Time
	ready     chan struct{}
	once      sync.Once
	result    *RoundResult
}

func (r *roundState) release() { r.once.Do(func() { close(r.ready) }) }

// InitSession validates cfg, draws the session parameters and match schedule,
// and returns the session. A zero seed is replaced by a crypto-random one.
func InitSession(id string, cfg Config, seed int64, log *zap.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if seed == 0 {
		s, err := NewSeed()
		if err != nil {
			return nil, err
		}
		seed = s
	}
	seeds := NewSeedStream(seed)
	s := &Session{
		ID:       id,
		Seed:     seed,
		cfg:      cfg,
		log:      log.With(zap.String("session", id)),
		now:      time.Now,
		paramRNG: seeds.Rand(),
		lenRNG:   seeds.Rand(),
		pairs:    make(map[string]*pairState),
		out:      make(map[string]bool),
	}
	pairRNG := seeds.Rand()
	s.rolls = NewDieRolls(seeds.Next())

	if cfg.Scope == ScopeSession {
		t, err := s.newTimeline("session")
		if err != nil {
			return nil, err
		}
		s.shared = t
		s.log.Info("session initialised",
			zap.Int64("seed", seed),
			zap.String("mode", string(cfg.Mode)),
			zap.Float64("delta", t.Params.Delta),
			zap.Int("board_index", t.Params.BoardIndex),
			zap.Int("total_rounds", t.Total()),
		)
	} else {
		s.log.Info("session initialised with per-pair parameters", zap.Int64("seed", seed))
	}

	switch cfg.Pairing {
	case PairFixed:
		s.pairer = NewFixedPairing()
	default:
		s.pairer = NewRandomPairing(s.shared, pairRNG, cfg.PairByArrival)
	}
	return s, nil
}

func (s *Session) newTimeline(scope string) (*Timeline, error) {
	params, err := SampleSessionParameters(s.paramRNG, s.cfg.Deltas, s.cfg.Boards, s.cfg.BoardIndex)
	if err != nil {
		return nil, err
	}
	if s.cfg.Mode == Live {
		return NewLiveTimeline(scope, params, s.cfg.NumMatches, s.cfg.MaxRounds, s.rolls), nil
	}
	lengths := MatchLengths(s.lenRNG, params.Delta, s.cfg.NumMatches, s.cfg.TruncateCap)
	return NewPrecommittedTimeline(scope, params, lengths), nil
}

func (s *Session) Config() Config { return s.cfg }

// Parameters returns the session-wide parameters. ok is false when
// parameters are drawn per pair.
func (s *Session) Parameters() (SessionParameters, bool) {
	if s.shared == nil {
		return SessionParameters{}, false
	}
	return s.shared.Params, true
}

// Schedule returns the ordered match boundaries of the session timeline.
func (s *Session) Schedule() []MatchBoundary {
	if s.shared == nil {
		return nil
	}
	return s.shared.Boundaries()
}

// TotalRounds is the number of scheduled rounds; 0 while a live match is open.
func (s *Session) TotalRounds() int {
	if s.shared == nil {
		return 0
	}
	return s.shared.Total()
}

func (s *Session) Locate(round int) (Position, error) {
	if s.shared == nil {
		return Position{}, ErrPerPairSchedule
	}
	return s.shared.Locate(round)
}

func (s *Session) StartsNewMatch(round int) bool {
	if s.shared == nil {
		return round == 1
	}
	return s.shared.StartsNewMatch(round)
}

// PairTimeline returns the timeline governing pairID.
func (s *Session) PairTimeline(pairID string) (*Timeline, error) {
	ps, err := s.lookup(pairID)
	if err != nil {
		return nil, err
	}
	return ps.timeline, nil
}

// Pair returns the pairs playing round. Forfeited participants are left out
// and pairs whose schedule is finished are not returned.
func (s *Session) Pair(round int, participants []string) ([]Pair, error) {
	if s.shared != nil {
		if _, err := s.shared.Locate(round); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	active := make([]string, 0, len(participants))
	for _, id := range participants {
		if !s.out[id] {
			active = append(active, id)
		}
	}
	s.mu.Unlock()

	pairs, err := s.pairer.Pair(round, active)
	if err != nil {
		return nil, err
	}

	states, err := s.pairStates(round, pairs)
	if err != nil {
		return nil, err
	}
	out := make([]Pair, 0, len(pairs))
	for i, p := range pairs {
		ps := states[i]
		pos, err := ps.timeline.Locate(round - ps.offset)
		if err != nil {
			continue
		}
		ps.mu.Lock()
		terminal := ps.state.Terminal()
		if !terminal {
			ps.pair.Match = pos.Match
		}
		ps.mu.Unlock()
		if terminal {
			continue
		}
		p.Match = pos.Match
		out = append(out, p)
	}
	return out, nil
}

// pairStates returns the state of each pair, registering pairs seen for the
// first time. Per-pair timelines start at the round the pair formed.
func (s *Session) pairStates(round int, pairs []Pair) ([]*pairState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*pairState, len(pairs))
	for i, p := range pairs {
		ps, ok := s.pairs[p.ID]
		if !ok {
			ps = &pairState{pair: p, timeline: s.shared, rounds: make(map[int]*roundState), state: StateActive, next: round}
			if ps.timeline == nil {
				t, err := s.newTimeline(p.ID)
				if err != nil {
					return nil, err
				}
				ps.timeline = t
				ps.offset = round - 1
				s.log.Info("pair parameters drawn",
					zap.String("pair", p.ID),
					zap.Float64("delta", t.Params.Delta),
					zap.Int("board_index", t.Params.BoardIndex),
				)
			}
			s.pairs[p.ID] = ps
		}
		out[i] = ps
	}
	return out, nil
}

func (s *Session) lookup(pairID string) (*pairState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.pairs[pairID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, pairID)
	}
	return ps, nil
}

// roundLocked returns the round state, opening it (and its deadline) on first use.
func (s *Session) roundLocked(ps *pairState, round int) *roundState {
	rs, ok := ps.rounds[round]
	if !ok {
		rs = &roundState{decisions: make(map[string]Decision, 2), ready: make(chan struct{})}
		if s.cfg.RoundTimeout > 0 {
			rs.deadline = s.now().Add(s.cfg.RoundTimeout + s.cfg.Grace)
		}
		ps.rounds[round] = rs
	}
	return rs
}

// RecordDecision stores a participant's decision for round. Missing is
// accepted as an explicit timeout.
func (s *Session) RecordDecision(pairID, participantID string, round int, d Decision) error {
	if d != Missing && !d.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDecision, string(d))
	}
	ps, err := s.lookup(pairID)
	if err != nil {
		return err
	}
	if !ps.pair.Has(participantID) {
		return fmt.Errorf("%w: %s not in %s", ErrNotInPair, participantID, pairID)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	rs := s.roundLocked(ps, round)
	if rs.result != nil {
		return fmt.Errorf("%w: %s round %d", ErrRoundResolved, pairID, round)
	}
	if !rs.deadline.IsZero() && s.now().After(rs.deadline) {
		return fmt.Errorf("%w: %s round %d", ErrDeadlinePassed, pairID, round)
	}
	if _, ok := rs.decisions[participantID]; ok {
		return fmt.Errorf("%w: %s round %d", ErrAlreadyDecided, participantID, round)
	}
	rs.decisions[participantID] = d
	if len(rs.decisions) == 2 {
		rs.release()
	}
	return nil
}

// AwaitRound blocks until both decisions for round are in or the round
// deadline passes. It only returns an error when ctx ends first.
func (s *Session) AwaitRound(ctx context.Context, pairID string, round int) error {
	ps, err := s.lookup(pairID)
	if err != nil {
		return err
	}
	ps.mu.Lock()
	rs := s.roundLocked(ps, round)
	deadline := rs.deadline
	ps.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(deadline.Sub(s.now()))
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-rs.ready:
		return nil
	case <-expired:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResolveRound computes payoffs and the match-end state for round. Calling
// it again for the same round returns the same result.
func (s *Session) ResolveRound(pairID string, round int) (RoundResult, error) {
	ps, err := s.lookup(pairID)
	if err != nil {
		return RoundResult{}, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	rs := s.roundLocked(ps, round)
	if rs.result != nil {
		return *rs.result, nil
	}
	noop := RoundResult{PairID: pairID, Round: round, DieRoll: -1, State: ps.state}
	if ps.state.Terminal() {
		return noop, nil
	}
	if s.cfg.Mode == Live && round > ps.next {
		return RoundResult{}, fmt.Errorf("%w: %s round %d, next is %d", ErrOutOfOrder, pairID, round, ps.next)
	}
	local := round - ps.offset
	pos, err := ps.timeline.Locate(local)
	if err != nil {
		if errors.Is(err, ErrScheduleExhausted) {
			ps.state = StateSessionDone
			noop.State = StateSessionDone
			return noop, nil
		}
		return RoundResult{}, err
	}
	if s.cfg.Pairing == PairRandom && pos.Match != ps.pair.Match {
		return RoundResult{}, fmt.Errorf("%w: %s plays match %d, round %d is in match %d",
			ErrUnknownPair, pairID, ps.pair.Match, round, pos.Match)
	}

	m := ps.pair.Members
	a, okA := rs.decisions[m[0]]
	b, okB := rs.decisions[m[1]]
	if (!okA || !okB) && !rs.deadline.IsZero() && !s.now().After(rs.deadline) {
		return RoundResult{}, fmt.Errorf("%w: %s round %d", ErrRoundPending, pairID, round)
	}

	params := ps.timeline.Params
	decisions, payoffs, forfeited := Settle(params.Board, a, b, s.cfg.Timeout)
	res := RoundResult{
		PairID:    pairID,
		Round:     round,
		Position:  pos,
		Decisions: decisions,
		Payoffs:   payoffs,
		DieRoll:   -1,
	}
	if forfeited {
		res.State = StateForfeited
		ps.state = StateForfeited
		s.mu.Lock()
		s.out[m[0]] = true
		s.out[m[1]] = true
		s.mu.Unlock()
		s.log.Warn("pair forfeited",
			zap.String("pair", pairID),
			zap.Int("round", round),
			zap.Bool("missing_a", !a.Valid()),
			zap.Bool("missing_b", !b.Valid()),
		)
	} else {
		state, roll, err := ps.timeline.EndOfRound(local)
		if err != nil && !errors.Is(err, ErrScheduleExhausted) {
			return RoundResult{}, err
		}
		res.State, res.DieRoll = state, roll
		if state == StateSessionDone {
			ps.state = StateSessionDone
		}
		if state == StateTerminated || state == StateSessionDone {
			s.log.Info("match ended",
				zap.String("pair", pairID),
				zap.Int("match", pos.Match),
				zap.Int("round", round),
				zap.Int("die_roll", roll),
				zap.String("state", string(state)),
			)
		}
	}
	rs.result = &res
	rs.release()
	if round >= ps.next {
		ps.next = round + 1
	}

	s.mu.Lock()
	s.rows = append(s.rows, Row{
		Session:      s.ID,
		Pair:         pairID,
		Round:        round,
		Match:        pos.Match,
		RoundInMatch: pos.RoundInMatch,
		ParticipantA: m[0],
		ParticipantB: m[1],
		DecisionA:    decisions[0],
		DecisionB:    decisions[1],
		PayoffA:      payoffs[0],
		PayoffB:      payoffs[1],
		DieRoll:      res.DieRoll,
		Delta:        params.Delta,
		BoardIndex:   params.BoardIndex,
		Board:        params.Board,
		State:        res.State,
	})
	s.mu.Unlock()
	return res, nil
}

// Members returns the participants of pairID in seat order.
func (s *Session) Members(pairID string) ([2]string, error) {
	ps, err := s.lookup(pairID)
	if err != nil {
		return [2]string{}, err
	}
	return ps.pair.Members, nil
}

// Rows returns every resolved round ordered by round, then pair.
func (s *Session) Rows() []Row {
	s.mu.Lock()
	out := append([]Row(nil), s.rows...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].Pair < out[j].Pair
	})
	return out
}

// Done reports whether no pair can play another round.
func (s *Session) Done() bool {
	if s.shared != nil && s.shared.Done() {
		return true
	}
	s.mu.Lock()
	states := make([]*pairState, 0, len(s.pairs))
	for _, ps := range s.pairs {
		states = append(states, ps)
	}
	s.mu.Unlock()
	if len(states) == 0 {
		return false
	}
	for _, ps := range states {
		ps.mu.Lock()
		st := ps.state
		ps.mu.Unlock()
		if !st.Terminal() {
			return false
		}
	}
	return true
}

// PairView returns where round falls in pairID's schedule and the
// parameters the pair plays under.
func (s *Session) PairView(pairID string, round int) (Position, SessionParameters, error) {
	ps, err := s.lookup(pairID)
	if err != nil {
		return Position{}, SessionParameters{}, err
	}
	pos, err := ps.timeline.Locate(round - ps.offset)
	return pos, ps.timeline.Params, err
}

// Row returns the export row of a resolved round.
func (s *Session) Row(pairID string, round int) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].Pair == pairID && s.rows[i].Round == round {
			return s.rows[i], true
		}
	}
	return Row{}, false
}

// PairIDs lists every pair formed so far, sorted.
func (s *Session) PairIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pairs))
	for id := range s.pairs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
