package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"dilemma-lab/server/engine"
)

// Config is read from the environment after .env has been loaded.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"AUTO_MIGRATE"`
	Debug       bool   `env:"DEBUG"`
	NoColor     string `env:"NO_COLOR"`
	UseColor    string `env:"USE_COLOR"`

	SessionSeed      int64         `env:"SESSION_SEED"`
	Mode             string        `env:"CONTINUATION_MODE" envDefault:"precommitted"`
	NumMatches       int           `env:"NUM_MATCHES" envDefault:"1"`
	TruncateQuantile float64       `env:"TRUNCATE_QUANTILE"` // 0 = off
	TruncateBaseP    float64       `env:"TRUNCATE_BASE_P" envDefault:"0.05"`
	MaxRounds        int           `env:"MAX_ROUNDS" envDefault:"100"`
	Pairing          string        `env:"PAIRING" envDefault:"random"`
	PairByArrival    bool          `env:"PAIR_BY_ARRIVAL"`
	ParamScope       string        `env:"PARAM_SCOPE" envDefault:"session"`
	TimeoutPolicy    string        `env:"TIMEOUT_POLICY" envDefault:"forfeit"`
	RoundTimeout     time.Duration `env:"ROUND_TIMEOUT" envDefault:"90s"`
	RoundGrace       time.Duration `env:"ROUND_GRACE" envDefault:"0s"`
	Deltas           []float64     `env:"DELTA_CANDIDATES" envSeparator:","`
	BoardIndex       int           `env:"BOARD_INDEX" envDefault:"-1"`

	Agents         []string `env:"AGENTS" envSeparator:"," envDefault:"bot:tit-for-tat,bot:always-defect"`
	MatrixSessions int      `env:"MATRIX_SESSIONS" envDefault:"3"`
	EloStart       float64  `env:"ELO_START" envDefault:"1500"`
	EloK           float64  `env:"ELO_K" envDefault:"24"`
	JudgeAfter     bool     `env:"JUDGE_AFTER_SESSION" envDefault:"true"`

	StopImmediate bool          `env:"STOP_IMMEDIATE"`
	MaxDuration   time.Duration `env:"MAX_DURATION"`
	StopFile      string        `env:"STOP_FILE"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Color() bool {
	return c.NoColor == "" && strings.TrimSpace(c.UseColor) != "0"
}

// EngineConfig converts the environment settings into a validated engine config.
func (c Config) EngineConfig() (engine.Config, error) {
	ec := engine.DefaultConfig()
	ec.Mode = engine.Mode(strings.ToLower(strings.TrimSpace(c.Mode)))
	ec.NumMatches = c.NumMatches
	ec.MaxRounds = c.MaxRounds
	ec.Pairing = engine.PairingKind(strings.ToLower(strings.TrimSpace(c.Pairing)))
	ec.PairByArrival = c.PairByArrival
	ec.Scope = engine.ParamScope(strings.ToLower(strings.TrimSpace(c.ParamScope)))
	ec.Timeout = engine.TimeoutPolicy(strings.ToLower(strings.TrimSpace(c.TimeoutPolicy)))
	ec.RoundTimeout = c.RoundTimeout
	ec.Grace = c.RoundGrace
	ec.BoardIndex = c.BoardIndex
	if len(c.Deltas) > 0 {
		ec.Deltas = append([]float64(nil), c.Deltas...)
	}
	if c.TruncateQuantile > 0 {
		if c.TruncateQuantile >= 1 {
			return engine.Config{}, fmt.Errorf("%w: TRUNCATE_QUANTILE %v not in (0,1)", engine.ErrInvalidConfig, c.TruncateQuantile)
		}
		ec.TruncateCap = engine.GeometricQuantile(c.TruncateBaseP, c.TruncateQuantile)
	}
	if err := ec.Validate(); err != nil {
		return engine.Config{}, err
	}
	return ec, nil
}
