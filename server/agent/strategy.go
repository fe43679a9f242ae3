package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"dilemma-lab/server/engine"
	"dilemma-lab/server/llm"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy picks a decision from an observation.
type Strategy interface {
	Name() string
	Decide(ctx context.Context, o Observation) (engine.Decision, error)
}

// Parse builds a strategy from "bot:<name>" or "llm:<model>".
func Parse(desc string, rng *rand.Rand) (Strategy, error) {
	kind, arg, ok := strings.Cut(strings.TrimSpace(desc), ":")
	if !ok || strings.TrimSpace(arg) == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, desc)
	}
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(kind) {
	case "bot":
		return NewBot(arg, rng)
	case "llm":
		return &LLMStrategy{Model: arg, Opts: llm.EnvPingOptions()}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, desc)
}

// NewBot returns one of the built-in strategies.
func NewBot(name string, rng *rand.Rand) (Strategy, error) {
	switch strings.ToLower(name) {
	case "always-cooperate", "allc":
		return fixed{name: "always-cooperate", d: engine.Cooperate}, nil
	case "always-defect", "alld":
		return fixed{name: "always-defect", d: engine.Defect}, nil
	case "tit-for-tat", "tft":
		return titForTat{}, nil
	case "grim-trigger", "grim":
		return grimTrigger{}, nil
	case "random":
		if rng == nil {
			return nil, fmt.Errorf("random bot needs an rng")
		}
		return &randomBot{rng: rng}, nil
	}
	return nil, fmt.Errorf("%w: bot %q", ErrUnknownStrategy, name)
}

type fixed struct {
	name string
	d    engine.Decision
}

func (f fixed) Name() string { return "bot:" + f.name }

func (f fixed) Decide(context.Context, Observation) (engine.Decision, error) { return f.d, nil }

// titForTat cooperates first, then copies the opponent's last move.
type titForTat struct{}

func (titForTat) Name() string { return "bot:tit-for-tat" }

func (titForTat) Decide(_ context.Context, o Observation) (engine.Decision, error) {
	if last, ok := o.LastOpponent(); ok && last == engine.Defect {
		return engine.Defect, nil
	}
	return engine.Cooperate, nil
}

// grimTrigger defects for the rest of the match once the opponent defects.
type grimTrigger struct{}

func (grimTrigger) Name() string { return "bot:grim-trigger" }

func (grimTrigger) Decide(_ context.Context, o Observation) (engine.Decision, error) {
	for _, e := range o.History {
		if e.Opponent == engine.Defect {
			return engine.Defect, nil
		}
	}
	return engine.Cooperate, nil
}

type randomBot struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (*randomBot) Name() string { return "bot:random" }

func (r *randomBot) Decide(context.Context, Observation) (engine.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng.Intn(2) == 0 {
		return engine.Cooperate, nil
	}
	return engine.Defect, nil
}

const systemPrompt = `You are playing a repeated Prisoner's Dilemma against another player.
Each round both players choose Cooperate or Defect at the same time.
Payoffs (you, them): both Cooperate -> (both_cooperate, both_cooperate);
you Cooperate and they Defect -> (betrayed, betray); you Defect and they Cooperate -> (betray, betrayed);
both Defect -> (both_defect, both_defect).
After each round the match continues with the given continuation probability, otherwise it ends.
Reply with JSON only: {"decision":"Cooperate"|"Defect","comment":"<=120 chars"}.`

// LLMStrategy asks a chat model for each decision.
type LLMStrategy struct {
	Model string
	Opts  llm.PingOptions

	// LastComment is the model's comment for the most recent decision.
	LastComment string
	mu          sync.Mutex
}

func (s *LLMStrategy) Name() string { return "llm:" + s.Model }

func (s *LLMStrategy) Decide(ctx context.Context, o Observation) (engine.Decision, error) {
	obs, err := json.Marshal(o)
	if err != nil {
		return engine.Missing, err
	}
	decision, comment, raw, err := llm.PingChooseDecision(ctx, s.Model, systemPrompt, string(obs), s.Opts)
	if err != nil {
		return engine.Missing, fmt.Errorf("llm %s: %w (raw %q)", s.Model, err, truncate(raw, 200))
	}
	d, err := Validate(o, DecisionOut{Decision: decision, Comment: comment})
	if err != nil {
		return engine.Missing, err
	}
	s.mu.Lock()
	s.LastComment = comment
	s.mu.Unlock()
	return d, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
