package engine

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"

	"golang.org/x/sync/singleflight"
)

// RollKey identifies one continuation check: the scope (session or pair id),
// the match and the round that just ended.
type RollKey struct {
	Scope string
	Match int
	Round int
}

func (k RollKey) String() string { return fmt.Sprintf("%s/%d/%d", k.Scope, k.Match, k.Round) }

// DieRolls memoizes d100 rolls. Every read of a key after the first returns
// the cached value, so concurrent evaluations never reroll.
type DieRolls struct {
	seed  int64
	mu    sync.RWMutex
	rolls map[RollKey]int
	group singleflight.Group
}

func NewDieRolls(seed int64) *DieRolls {
	return &DieRolls{seed: seed, rolls: make(map[RollKey]int)}
}

// Roll returns the roll for key in [1,100], computing it at most once.
func (d *DieRolls) Roll(key RollKey) int {
	if v, ok := d.Peek(key); ok {
		return v
	}
	v, _, _ := d.group.Do(key.String(), func() (any, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if v, ok := d.rolls[key]; ok {
			return v, nil
		}
		rng := rand.New(rand.NewSource(d.keySeed(key)))
		v := rng.Intn(100) + 1
		d.rolls[key] = v
		return v, nil
	})
	return v.(int)
}

// Peek returns a cached roll without rolling.
func (d *DieRolls) Peek(key RollKey) (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.rolls[key]
	return v, ok
}

func (d *DieRolls) keySeed(key RollKey) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.String()))
	return int64(mix64(uint64(d.seed) ^ h.Sum64()))
}
