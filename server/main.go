package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	mrand "math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dilemma-lab/server/agent"
	"dilemma-lab/server/engine"
	"dilemma-lab/server/judge"
	"dilemma-lab/server/llm"
	"dilemma-lab/server/logging"
	"dilemma-lab/server/store"
)

//
// ===== pretty printing =====
//

var useColor bool

const (
	colReset  = "\033[0m"
	colBold   = "\033[1m"
	colDim    = "\033[2m"
	colGreen  = "\033[32m"
	colRed    = "\033[31m"
	colYellow = "\033[33m"
	colCyan   = "\033[36m"
)

func c(code, s string) string {
	if !useColor {
		return s
	}
	return code + s + colReset
}
func bold(s string) string { return c(colBold, s) }
func dim(s string) string  { return c(colDim, s) }
func good(s string) string { return c(colGreen, s) }
func warn(s string) string { return c(colYellow, s) }
func bad(s string) string  { return c(colRed, s) }
func cyan(s string) string { return c(colCyan, s) }
func section(title string) { fmt.Printf("\n%s %s %s\n", dim("──"), bold(title), dim("──")) }
func sub(title string)     { fmt.Printf("%s %s\n", dim("•"), bold(title)) }

func decisionTag(d engine.Decision) string {
	switch d {
	case engine.Cooperate:
		return good("C")
	case engine.Defect:
		return bad("D")
	}
	return warn("-")
}

func stateTag(s engine.MatchEndState) string {
	switch s {
	case engine.StateContinued:
		return dim(string(s))
	case engine.StateTerminated:
		return warn(string(s))
	case engine.StateForfeited:
		return bad(string(s))
	case engine.StateSessionDone:
		return good(string(s))
	}
	return string(s)
}

//
// ===== bootstrap =====
//

// Tries: env var file, ./secrets/openai_api_key.txt, ./server/openai_api_key.txt,
// ./openai_api_key.txt and /run/secrets/openai_api_key.
func loadAPIKeyFromSecret() {
	if os.Getenv("OPENAI_API_KEY") != "" || os.Getenv("OPENROUTER_API_KEY") != "" {
		return
	}
	var candidates []string
	if p := os.Getenv("OPENAI_API_KEY_FILE"); strings.TrimSpace(p) != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates,
		"./secrets/openai_api_key.txt",
		"./server/openai_api_key.txt",
		"./openai_api_key.txt",
		"/run/secrets/openai_api_key",
	)
	for _, path := range candidates {
		if b, err := os.ReadFile(path); err == nil {
			if key := strings.TrimSpace(string(b)); key != "" {
				os.Setenv("OPENAI_API_KEY", key)
				return
			}
		}
	}
}

func needsLLM(agents []string) bool {
	for _, a := range agents {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(a)), "llm:") {
			return true
		}
	}
	return false
}

var stopFlag atomic.Bool

func main() {
	_ = godotenv.Load()
	loadAPIKeyFromSecret()

	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	useColor = cfg.Color()
	log, err := logging.New(cfg.Debug, useColor)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	var migrate, session, matrix bool
	for _, a := range os.Args[1:] {
		switch a {
		case "--migrate":
			migrate = true
		case "--session":
			session = true
		case "--session-matrix":
			matrix = true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchSignals(cancel, cfg.StopImmediate || !(session || matrix))

	var deadline time.Time
	if cfg.MaxDuration > 0 {
		deadline = time.Now().Add(cfg.MaxDuration)
	}
	checkStop := func() bool {
		if stopFlag.Load() {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			stopFlag.Store(true)
			return true
		}
		if cfg.StopFile != "" {
			if _, err := os.Stat(cfg.StopFile); err == nil {
				stopFlag.Store(true)
				return true
			}
		}
		return false
	}

	if migrate {
		if cfg.DatabaseURL == "" {
			log.Fatal("DATABASE_URL is required for --migrate")
		}
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("open database", zap.Error(err))
		}
		defer db.Close(context.Background())
		if err := store.Migrate(ctx, db); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
		log.Info("migrated")
		return
	}

	ec, err := cfg.EngineConfig()
	if err != nil {
		log.Fatal("invalid session config", zap.Error(err))
	}

	if session || matrix {
		if needsLLM(cfg.Agents) && os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("OPENROUTER_API_KEY") == "" {
			log.Fatal("llm agents need OPENAI_API_KEY or OPENROUTER_API_KEY")
		}
		db := openOptionalDB(ctx, cfg, log)
		if db != nil {
			defer db.Close(context.Background())
		}
		r := &runner{cfg: cfg, ec: ec, db: db, log: log, checkStop: checkStop, ladder: NewLadder(cfg.EloStart, cfg.EloK)}
		fmt.Println(dim("Ctrl+C → graceful stop after the current round. Set STOP_IMMEDIATE=1 for hard stop."))
		if matrix {
			r.runMatrix(ctx)
		} else {
			r.runSingle(ctx)
		}
		return
	}

	db := openOptionalDB(ctx, cfg, log)
	if db != nil {
		defer db.Close(context.Background())
	}
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      Router(newRegistry(ec, db, log), db, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: ec.RoundTimeout + ec.Grace + 15*time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("listening", zap.String("addr", "http://localhost:"+cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server", zap.Error(err))
	}
}

// openOptionalDB returns nil when no database is configured or it cannot be
// reached; runs continue in memory.
func openOptionalDB(ctx context.Context, cfg Config, log *zap.Logger) *store.DB {
	if cfg.DatabaseURL == "" {
		return nil
	}
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Warn("DB disabled (open failed)", zap.Error(err))
		return nil
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			log.Warn("migrate failed, continuing without DB", zap.Error(err))
			db.Close(context.Background())
			return nil
		}
	}
	return db
}

func watchSignals(cancel context.CancelFunc, immediate bool) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	stopFlag.Store(true)
	if immediate {
		cancel()
		return
	}
	// a second signal stops at once
	<-ch
	cancel()
}

//
// ===== session runner =====
//

type runner struct {
	cfg       Config
	ec        engine.Config
	db        *store.DB
	log       *zap.Logger
	checkStop func() bool
	ladder    *Ladder
}

// sessionResult is what a finished (or stopped) session leaves behind.
type sessionResult struct {
	ID       string
	Labels   []string          // participant ids in seat order
	Agents   map[string]string // label -> strategy name
	AgentIDs map[string]int64
	Rows     []engine.Row
	Judge    map[string]store.JudgeAccuracy
	Stopped  bool
}

func participantLabel(i int, name string) string {
	if i < 26 {
		return fmt.Sprintf("%c-%s", 'A'+i, name)
	}
	return fmt.Sprintf("P%d-%s", i+1, name)
}

func (r *runner) runSingle(ctx context.Context) {
	section("SESSION")
	if len(r.cfg.Agents) < 2 {
		r.log.Error("need at least two agents in AGENTS")
		return
	}
	res, err := r.playSession(ctx, r.cfg.SessionSeed, r.cfg.Agents)
	if err != nil {
		r.log.Error("session failed", zap.Error(err))
		if res == nil {
			return
		}
	}
	r.summarize(res)
	if len(res.Labels) == 2 {
		r.rate(ctx, res)
	}
}

// runMatrix plays MATRIX_SESSIONS sessions for every pair of agents and
// prints an Elo leaderboard.
func (r *runner) runMatrix(ctx context.Context) {
	section("SESSION MATRIX")
	agents := r.cfg.Agents
	if len(agents) < 2 {
		r.log.Error("need at least two agents in AGENTS for --session-matrix")
		return
	}
	base := r.cfg.SessionSeed
	if base == 0 {
		seed, err := engine.NewSeed()
		if err != nil {
			r.log.Error("matrix seed", zap.Error(err))
			return
		}
		base = seed
	}
	sm := engine.NewSeedStream(base)
	r.log.Info("matrix", zap.Int64("seed_base", base), zap.Int("agents", len(agents)), zap.Int("sessions_per_pair", r.cfg.MatrixSessions))

	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			for k := 0; k < r.cfg.MatrixSessions; k++ {
				if r.checkStop() {
					r.log.Info("stop requested; ending matrix loop")
					r.leaderboard()
					return
				}
				sub(fmt.Sprintf("%s vs %s (%d/%d)", agents[i], agents[j], k+1, r.cfg.MatrixSessions))
				res, err := r.playSession(ctx, sm.Seed(), []string{agents[i], agents[j]})
				if err != nil {
					r.log.Error("session failed", zap.String("a", agents[i]), zap.String("b", agents[j]), zap.Error(err))
					if res == nil {
						continue
					}
				}
				r.summarize(res)
				r.rate(ctx, res)
			}
		}
	}
	r.leaderboard()
}

func (r *runner) playSession(ctx context.Context, seed int64, agents []string) (*sessionResult, error) {
	s, err := engine.InitSession(newSessionID(), r.ec, seed, r.log)
	if err != nil {
		return nil, err
	}
	log := logging.Session(r.log, s.ID)

	res := &sessionResult{
		ID:       s.ID,
		Agents:   map[string]string{},
		AgentIDs: map[string]int64{},
	}
	strategies := map[string]agent.Strategy{}
	for i, name := range agents {
		st, err := agent.Parse(name, mrand.New(mrand.NewSource(s.Seed+int64(i)+1)))
		if err != nil {
			return nil, err
		}
		label := participantLabel(i, st.Name())
		res.Labels = append(res.Labels, label)
		res.Agents[label] = st.Name()
		strategies[label] = st
	}

	p, shared := s.Parameters()
	if shared {
		fmt.Printf("%s seed=%d δ=%.2f board#%d %+v mode=%s\n", cyan(s.ID[:8]), s.Seed, p.Delta, p.BoardIndex, p.Board, r.ec.Mode)
	} else {
		fmt.Printf("%s seed=%d per-pair parameters mode=%s\n", cyan(s.ID[:8]), s.Seed, r.ec.Mode)
	}

	db := r.db
	if db != nil {
		if err := r.persistStart(ctx, s, res); err != nil {
			log.Warn("disabling DB for this session", zap.Error(err))
			db = nil
		}
	}

	for round := 1; ; round++ {
		if r.checkStop() {
			res.Stopped = true
			break
		}
		pairs, err := s.Pair(round, res.Labels)
		if errors.Is(err, engine.ErrScheduleExhausted) {
			break
		}
		if err != nil {
			res.Rows = s.Rows()
			return res, err
		}
		if len(pairs) == 0 {
			break
		}
		if s.StartsNewMatch(round) {
			pos, _ := s.Locate(round)
			fmt.Println(dim(fmt.Sprintf("match %d", pos.Match)))
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, pair := range pairs {
			g.Go(func() error {
				return r.playRound(gctx, s, db, pair, round, strategies, log)
			})
		}
		if err := g.Wait(); err != nil {
			res.Rows = s.Rows()
			return res, err
		}
	}

	res.Rows = s.Rows()
	if db != nil && r.cfg.JudgeAfter && len(res.Rows) > 0 {
		n, err := judge.EvaluateSession(ctx, db, s.ID)
		if err != nil {
			log.Warn("judge failed", zap.Error(err))
		} else {
			log.Info("judge complete", zap.Int("decisions", n))
			if acc, err := db.SessionJudgeAccuracy(ctx, s.ID, judge.Name); err != nil {
				log.Warn("session judge accuracy failed", zap.Error(err))
			} else {
				res.Judge = acc
			}
		}
	}
	if db != nil && res.Stopped {
		if err := db.CompleteSession(ctx, s.ID); err != nil {
			log.Warn("complete session failed", zap.Error(err))
		}
	}
	return res, nil
}

func (r *runner) persistStart(ctx context.Context, s *engine.Session, res *sessionResult) error {
	var params *engine.SessionParameters
	if p, ok := s.Parameters(); ok {
		params = &p
	}
	if err := r.db.CreateSession(ctx, s, params); err != nil {
		return err
	}
	effort := llm.EnvPingOptions().ReasoningEffort
	for _, label := range res.Labels {
		name := res.Agents[label]
		kind, _, _ := strings.Cut(name, ":")
		var re *string
		if kind == "llm" && effort != "" {
			re = &effort
		}
		id, err := r.db.UpsertAgent(ctx, name, kind, re)
		if err != nil {
			return err
		}
		res.AgentIDs[label] = id
	}
	return r.db.InsertParticipants(ctx, s.ID, res.Labels, res.AgentIDs)
}

// playRound collects both decisions concurrently, waits out the round and
// resolves it. A strategy error counts as a missing decision.
func (r *runner) playRound(ctx context.Context, s *engine.Session, db *store.DB, pair engine.Pair, round int, strategies map[string]agent.Strategy, log *zap.Logger) error {
	pos, params, err := s.PairView(pair.ID, round)
	if err != nil {
		return err
	}
	rows := s.Rows()

	var g errgroup.Group
	for _, member := range pair.Members {
		g.Go(func() error {
			obs := agent.BuildObservation(s.ID, pair, member, round, pos, params, rows)
			dctx, cancel := ctx, context.CancelFunc(func() {})
			if r.ec.RoundTimeout > 0 {
				dctx, cancel = context.WithTimeout(ctx, r.ec.RoundTimeout)
			}
			defer cancel()
			d, err := strategies[member].Decide(dctx, obs)
			if err != nil {
				log.Warn("decision failed", zap.String("participant", member), zap.Int("round", round), zap.Error(err))
				d = engine.Missing
			}
			err = s.RecordDecision(pair.ID, member, round, d)
			if err != nil && !errors.Is(err, engine.ErrDeadlinePassed) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := s.AwaitRound(ctx, pair.ID, round); err != nil {
		return err
	}
	res, err := s.ResolveRound(pair.ID, round)
	if err != nil {
		return err
	}
	roll := ""
	if res.DieRoll >= 0 {
		roll = dim(fmt.Sprintf(" d100=%d", res.DieRoll))
	}
	fmt.Printf("  r%-3d %s m%d.%d  %s %s vs %s %s  → %d/%d%s  %s\n",
		round, dim(pair.ID), res.Position.Match, res.Position.RoundInMatch,
		pair.Members[0], decisionTag(res.Decisions[0]),
		decisionTag(res.Decisions[1]), pair.Members[1],
		res.Payoffs[0], res.Payoffs[1], roll, stateTag(res.State))

	if db != nil {
		if err := persistRound(ctx, db, s, res); err != nil {
			log.Warn("persist round failed", zap.String("pair", pair.ID), zap.Int("round", round), zap.Error(err))
		}
	}
	return nil
}

func (r *runner) summarize(res *sessionResult) {
	section("SUMMARY " + res.ID[:8])
	tally := Tally(res.Rows)
	rng := mrand.New(mrand.NewSource(int64(len(res.Rows)) + 17))
	for _, label := range res.Labels {
		st, ok := tally[label]
		if !ok {
			fmt.Printf("%s  %s\n", bold(label), dim("did not play"))
			continue
		}
		lo, hi := WilsonCI95(st.Cooperate, 0, st.Cooperate+st.Defect)
		blo, bhi := BootstrapCI95(rng, st.RoundPayoff, 1000)
		fmt.Printf("%s  rounds=%d coop=%.0f%% [%.0f%%, %.0f%%] payoff=%d mean=%.2f [%.2f, %.2f] missing=%d\n",
			bold(label), st.Rounds, 100*st.CoopRate(), 100*lo, 100*hi,
			st.Payoff, st.MeanPayoff(), blo, bhi, st.Missing)
		if acc, ok := res.Judge[label]; ok && acc.Total > 0 {
			fmt.Printf("    best-response %d/%d (%.0f%%)\n", acc.Good, acc.Total, 100*acc.Ratio())
		}
	}

	lengths := MatchLengths(res.Rows)
	if len(lengths) == 0 {
		return
	}
	sum := 0
	for _, n := range lengths {
		sum += n
	}
	mean := float64(sum) / float64(len(lengths))
	first := res.Rows[0]
	expected := math.Inf(1)
	if first.Delta < 1 {
		expected = 1 / (1 - first.Delta)
	}
	fmt.Printf("matches=%d mean length=%.2f expected=%.2f (δ=%.2f)\n", len(lengths), mean, expected, first.Delta)
	if judge.CooperationSustainable(first.Board, first.Delta) {
		fmt.Println(good("cooperation is sustainable under grim trigger at this δ"))
	} else {
		fmt.Println(warn("defection dominates at this δ"))
	}
	if res.Stopped {
		fmt.Println(warn("stopped early"))
	}
}

// rate scores a two-participant session on the ladder and, with a DB, folds
// the result into the agents' career ratings.
func (r *runner) rate(ctx context.Context, res *sessionResult) {
	if len(res.Labels) != 2 || len(res.Rows) == 0 {
		return
	}
	la, lb := res.Labels[0], res.Labels[1]
	a, b := res.Agents[la], res.Agents[lb]
	if a == b {
		return
	}
	if r.db != nil {
		for _, label := range res.Labels {
			name := res.Agents[label]
			if _, ok := r.ladder.Ratings[name]; ok {
				continue
			}
			if id, ok := res.AgentIDs[label]; ok {
				elo, _, _, err := r.db.GetOrInitRating(ctx, id)
				if err != nil {
					r.log.Warn("GetOrInitRating failed", zap.String("agent", name), zap.Error(err))
					continue
				}
				r.ladder.Ratings[name] = elo
			}
		}
	}
	tally := Tally(res.Rows)
	ta, tb := tally[la], tally[lb]
	if ta == nil || tb == nil {
		return
	}
	score := PayoffScore(ta.Payoff, tb.Payoff, ta.Rounds, res.Rows[0].Board)
	dA, dB := r.ladder.Update(a, b, score, ta.Rounds)
	fmt.Printf("elo %s %+.1f → %.0f, %s %+.1f → %.0f\n", a, dA, r.ladder.Rating(a), b, dB, r.ladder.Rating(b))

	if r.db == nil {
		return
	}
	for _, label := range res.Labels {
		id, ok := res.AgentIDs[label]
		if !ok {
			continue
		}
		acc := res.Judge[label]
		if err := r.db.UpdateAgentRating(ctx, id, r.ladder.Rating(res.Agents[label]), 1, tally[label].Rounds, acc.Good, acc.Total); err != nil {
			r.log.Warn("UpdateAgentRating failed", zap.String("agent", res.Agents[label]), zap.Error(err))
		}
	}
}

func (r *runner) leaderboard() {
	section("LEADERBOARD")
	names := make([]string, 0, len(r.ladder.Ratings))
	for n := range r.ladder.Ratings {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		return r.ladder.Rating(names[i]) > r.ladder.Rating(names[j])
	})
	for i, n := range names {
		fmt.Printf("%2d. %-32s %7.1f  %s\n", i+1, n, r.ladder.Rating(n), dim(fmt.Sprintf("%d sessions", r.ladder.Games[n])))
	}
}
