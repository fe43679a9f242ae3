package main

import (
	"math"

	"dilemma-lab/server/engine"
)

// Ladder keeps Elo ratings for every agent in a session matrix.
type Ladder struct {
	Start   float64
	K       float64
	Ratings map[string]float64
	Games   map[string]int
}

func NewLadder(start, k float64) *Ladder {
	return &Ladder{Start: start, K: k, Ratings: map[string]float64{}, Games: map[string]int{}}
}

func (l *Ladder) Rating(name string) float64 {
	if r, ok := l.Ratings[name]; ok {
		return r
	}
	return l.Start
}

func expect(ra, rb float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (rb-ra)/400.0))
}

// PayoffScore maps a session result to a soft score in [0,1] from the
// per-round payoff margin, scaled by the board's spread (T - S).
func PayoffScore(payA, payB, rounds int, b engine.Board) float64 {
	if rounds <= 0 {
		return 0.5
	}
	spread := float64(b.Betray - b.Betrayed)
	if spread <= 0 {
		spread = 1
	}
	margin := float64(payA-payB) / float64(rounds)
	return 0.5 + 0.5*math.Tanh(2*margin/spread)
}

// Update applies one session between a and b; sA is a's score in [0,1].
// It returns the applied deltas.
func (l *Ladder) Update(a, b string, sA float64, rounds int) (dA, dB float64) {
	ra, rb := l.Rating(a), l.Rating(b)
	ea := expect(ra, rb)
	k := l.K * lengthScale(rounds) * decay(min(l.Games[a], l.Games[b]))
	dA = k * (sA - ea)
	dB = k * ((1 - sA) - (1 - ea))
	l.Ratings[a] = ra + dA
	l.Ratings[b] = rb + dB
	l.Games[a]++
	l.Games[b]++
	return dA, dB
}

// ---- helpers ----

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// longer sessions carry more evidence
func lengthScale(rounds int) float64 {
	if rounds <= 0 {
		return 1.0
	}
	return clamp(math.Sqrt(float64(rounds)/5.0), 0.5, 2.0)
}

func decay(games int) float64 {
	return 1.0 / (1.0 + 0.01*float64(games))
}
