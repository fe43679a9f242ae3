package engine

import (
	"math"
	"math/rand"
)

// GeometricLength draws a match length L >= 1 with
// P(L = k) = delta^(k-1) * (1-delta): each round continues with
// probability delta and stops with probability 1-delta.
func GeometricLength(rng *rand.Rand, delta float64) int {
	if delta <= 0 {
		return 1
	}
	if delta >= 1 {
		return math.MaxInt32
	}
	u := 1 - rng.Float64() // (0, 1]
	k := 1 + int(math.Floor(math.Log(u)/math.Log(delta)))
	if k < 1 {
		k = 1
	}
	return k
}

// GeometricQuantile returns the smallest k with P(L <= k) >= q for a
// geometric distribution with success probability p.
func GeometricQuantile(p, q float64) int {
	if p <= 0 || p >= 1 || q <= 0 {
		return 1
	}
	if q >= 1 {
		return math.MaxInt32
	}
	k := int(math.Ceil(math.Log(1-q)/math.Log(1-p) - 1e-9))
	if k < 1 {
		k = 1
	}
	return k
}

// MatchLengths draws n independent lengths. A positive cap right-truncates
// each draw.
func MatchLengths(rng *rand.Rand, delta float64, n, cap int) []int {
	out := make([]int, n)
	for i := range out {
		l := GeometricLength(rng, delta)
		if cap > 0 && l > cap {
			l = cap
		}
		out[i] = l
	}
	return out
}

// Boundaries turns lengths into cumulative match boundaries; the first match
// starts at round 1.
func Boundaries(lengths []int) []MatchBoundary {
	out := make([]MatchBoundary, 0, len(lengths))
	last := 0
	for i, l := range lengths {
		if l < 1 {
			l = 1
		}
		out = append(out, MatchBoundary{Match: i + 1, FirstRound: last + 1, LastRound: last + l})
		last += l
	}
	return out
}

// ContinuationThreshold is ⌊delta×100⌋; a live roll continues iff roll <= threshold.
func ContinuationThreshold(delta float64) int {
	// epsilon keeps 0.29*100 = 28.999... at 29
	return int(math.Floor(delta*100 + 1e-9))
}
