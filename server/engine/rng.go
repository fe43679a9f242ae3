package engine

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
)

// NewSeed generates a session seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// SeedStream is a splitmix64 generator used to derive independent sub-seeds
// from one base seed.
type SeedStream struct{ state uint64 }

func NewSeedStream(base int64) SeedStream { return SeedStream{state: uint64(base)} }

func (s *SeedStream) Next() int64 {
	s.state += 0x9E3779B97F4A7C15
	return int64(mix64(s.state))
}

// Seed returns a positive session seed.
func (s *SeedStream) Seed() int64 {
	if v := int64(uint64(s.Next()) >> 1); v != 0 {
		return v
	}
	return 1
}

func (s *SeedStream) Rand() *rand.Rand { return rand.New(rand.NewSource(s.Next())) }

func mix64(z uint64) uint64 {
	z ^= z >> 30
	z *= 0xBF58476D1CE4E5B9
	z ^= z >> 27
	z *= 0x94D049BB133111EB
	z ^= z >> 31
	return z
}
