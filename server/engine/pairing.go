package engine

import (
	"fmt"
	"math/rand"
	"sync"
)

// Pairer groups participants into pairs for a round.
type Pairer interface {
	Pair(round int, participants []string) ([]Pair, error)
}

// MatchLocator maps rounds to matches; *Timeline implements it.
type MatchLocator interface {
	Locate(round int) (Position, error)
}

// RandomPairing re-pairs at every match start and keeps pairs for the rest of
// the match.
type RandomPairing struct {
	sched     MatchLocator
	byArrival bool

	mu      sync.Mutex
	rng     *rand.Rand
	match   int
	current []Pair
}

func NewRandomPairing(sched MatchLocator, rng *rand.Rand, byArrival bool) *RandomPairing {
	return &RandomPairing{sched: sched, rng: rng, byArrival: byArrival}
}

func (p *RandomPairing) Pair(round int, participants []string) ([]Pair, error) {
	pos, err := p.sched.Locate(round)
	if err != nil {
		return nil, err
	}
	if err := checkUnique(participants); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.match == pos.Match {
		return append([]Pair(nil), p.current...), nil
	}
	order := append([]string(nil), participants...)
	if !p.byArrival {
		p.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	p.match = pos.Match
	p.current = groupPairs(order, func(k int) string { return fmt.Sprintf("m%d-p%d", pos.Match, k) }, pos.Match)
	return append([]Pair(nil), p.current...), nil
}

// FixedPairing forms pairs by arrival order once and reuses them for every
// match. Participants arriving later are paired among themselves.
type FixedPairing struct {
	mu      sync.Mutex
	pairs   []Pair
	paired  map[string]bool
	waiting []string
}

func NewFixedPairing() *FixedPairing {
	return &FixedPairing{paired: make(map[string]bool)}
}

func (p *FixedPairing) Pair(round int, participants []string) ([]Pair, error) {
	if err := checkUnique(participants); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range participants {
		if p.paired[id] || contains(p.waiting, id) {
			continue
		}
		p.waiting = append(p.waiting, id)
	}
	for len(p.waiting) >= 2 {
		k := len(p.pairs) + 1
		pair := Pair{ID: fmt.Sprintf("fixed-%d", k), Members: [2]string{p.waiting[0], p.waiting[1]}}
		p.paired[pair.Members[0]] = true
		p.paired[pair.Members[1]] = true
		p.pairs = append(p.pairs, pair)
		p.waiting = p.waiting[2:]
	}
	active := make(map[string]bool, len(participants))
	for _, id := range participants {
		active[id] = true
	}
	out := make([]Pair, 0, len(p.pairs))
	for _, pair := range p.pairs {
		if active[pair.Members[0]] && active[pair.Members[1]] {
			out = append(out, pair)
		}
	}
	return out, nil
}

func groupPairs(order []string, id func(int) string, match int) []Pair {
	out := make([]Pair, 0, len(order)/2)
	for i := 0; i+1 < len(order); i += 2 {
		out = append(out, Pair{ID: id(len(out) + 1), Members: [2]string{order[i], order[i+1]}, Match: match})
	}
	return out
}

func checkUnique(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateParticipant, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
