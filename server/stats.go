package main

import (
	"math"
	"math/rand"
	"sort"

	"dilemma-lab/server/engine"
)

type ParticipantStats struct {
	Rounds      int
	Cooperate   int
	Defect      int
	Missing     int
	MutualCoop  int
	Suckered    int // cooperated into a defection
	Exploited   int // defected on a cooperator
	Payoff      int
	RoundPayoff []float64
}

func (s *ParticipantStats) CoopRate() float64 {
	n := s.Cooperate + s.Defect
	if n == 0 {
		return 0
	}
	return float64(s.Cooperate) / float64(n)
}

func (s *ParticipantStats) MeanPayoff() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return float64(s.Payoff) / float64(s.Rounds)
}

func (s *ParticipantStats) add(self, other engine.Decision, payoff int) {
	s.Rounds++
	s.Payoff += payoff
	s.RoundPayoff = append(s.RoundPayoff, float64(payoff))
	switch self {
	case engine.Cooperate:
		s.Cooperate++
		switch other {
		case engine.Cooperate:
			s.MutualCoop++
		case engine.Defect:
			s.Suckered++
		}
	case engine.Defect:
		s.Defect++
		if other == engine.Cooperate {
			s.Exploited++
		}
	default:
		s.Missing++
	}
}

// Tally aggregates resolved rounds per participant.
func Tally(rows []engine.Row) map[string]*ParticipantStats {
	out := map[string]*ParticipantStats{}
	get := func(id string) *ParticipantStats {
		s, ok := out[id]
		if !ok {
			s = &ParticipantStats{}
			out[id] = s
		}
		return s
	}
	for _, r := range rows {
		get(r.ParticipantA).add(r.DecisionA, r.DecisionB, r.PayoffA)
		get(r.ParticipantB).add(r.DecisionB, r.DecisionA, r.PayoffB)
	}
	return out
}

// MatchLengths returns the observed length of each (pair, match) run.
func MatchLengths(rows []engine.Row) []int {
	type key struct {
		pair  string
		match int
	}
	seen := map[key]int{}
	var order []key
	for _, r := range rows {
		k := key{r.Pair, r.Match}
		if _, ok := seen[k]; !ok {
			order = append(order, k)
		}
		if r.RoundInMatch > seen[k] {
			seen[k] = r.RoundInMatch
		}
	}
	out := make([]int, 0, len(order))
	for _, k := range order {
		out = append(out, seen[k])
	}
	return out
}

// --------- CI helpers ---------

// WilsonCI95 for a Bernoulli rate; ties count half.
func WilsonCI95(successes, ties, total int) (low, hi float64) {
	if total <= 0 {
		return 0, 1
	}
	z := 1.96
	n := float64(total)
	p := (float64(successes) + 0.5*float64(ties)) / n
	den := 1 + (z*z)/n
	center := p + (z*z)/(2*n)
	half := z * math.Sqrt((p*(1-p))/n+(z*z)/(4*n*n))
	return (center - half) / den, (center + half) / den
}

// BootstrapCI95 for the mean of values (e.g., per-round payoffs).
func BootstrapCI95(rng *rand.Rand, vals []float64, B int) (low, hi float64) {
	n := len(vals)
	if n == 0 || B <= 1 {
		return 0, 0
	}
	res := make([]float64, B)
	for b := 0; b < B; b++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += vals[rng.Intn(n)]
		}
		res[b] = sum / float64(n)
	}
	sort.Float64s(res)
	l := int(0.025 * float64(B-1))
	h := int(0.975 * float64(B-1))
	return res[l], res[h]
}
