package engine

import (
	"math"
	"sync"
	"testing"
)

func TestDieRollMemoized(t *testing.T) {
	d := NewDieRolls(42)
	key := RollKey{Scope: "session", Match: 1, Round: 3}
	first := d.Roll(key)
	if first < 1 || first > 100 {
		t.Fatalf("roll %d outside [1,100]", first)
	}
	for i := 0; i < 10; i++ {
		if got := d.Roll(key); got != first {
			t.Fatalf("reroll gave %d, want %d", got, first)
		}
	}
	if v, ok := d.Peek(key); !ok || v != first {
		t.Fatalf("Peek = %d, %v", v, ok)
	}
	if _, ok := d.Peek(RollKey{Scope: "session", Match: 1, Round: 4}); ok {
		t.Fatal("Peek found an unrolled key")
	}
}

func TestDieRollConcurrent(t *testing.T) {
	d := NewDieRolls(7)
	key := RollKey{Scope: "pair-1", Match: 2, Round: 9}
	var wg sync.WaitGroup
	got := make([]int, 64)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = d.Roll(key)
		}(i)
	}
	wg.Wait()
	for i := range got {
		if got[i] != got[0] {
			t.Fatalf("goroutine %d saw %d, goroutine 0 saw %d", i, got[i], got[0])
		}
	}
}

func TestDieRollSameSeedSameRolls(t *testing.T) {
	a, b := NewDieRolls(99), NewDieRolls(99)
	for r := 1; r <= 20; r++ {
		k := RollKey{Scope: "session", Match: 1, Round: r}
		if a.Roll(k) != b.Roll(k) {
			t.Fatalf("round %d differs across identical seeds", r)
		}
	}
}

func TestDieRollDistribution(t *testing.T) {
	d := NewDieRolls(2024)
	const n = 10000
	sum, cont := 0, 0
	for r := 1; r <= n; r++ {
		v := d.Roll(RollKey{Scope: "session", Match: 1, Round: r})
		if v < 1 || v > 100 {
			t.Fatalf("roll %d outside [1,100]", v)
		}
		sum += v
		if v <= 70 {
			cont++
		}
	}
	if mean := float64(sum) / n; math.Abs(mean-50.5) > 1.5 {
		t.Fatalf("mean roll %.2f, want ~50.5", mean)
	}
	if frac := float64(cont) / n; math.Abs(frac-0.70) > 0.02 {
		t.Fatalf("P(roll <= 70) = %.3f, want ~0.70", frac)
	}
}
