package engine

import (
	"fmt"
	"math/rand"
)

// DefaultDeltas is the continuation-probability candidate set.
var DefaultDeltas = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}

// BoardTable holds four parallel payoff lists; one shared index selects a board.
type BoardTable struct {
	BothCooperate []int
	Betrayed      []int
	Betray        []int
	BothDefect    []int
}

// DefaultBoards returns the ten standard boards.
func DefaultBoards() BoardTable {
	return BoardTable{
		BothCooperate: []int{28, 30, 32, 34, 36, 38, 40, 42, 44, 46},
		Betrayed:      []int{8, 10, 12, 14, 16, 18, 20, 22, 24, 26},
		Betray:        []int{40, 42, 44, 46, 48, 50, 52, 54, 56, 58},
		BothDefect:    []int{18, 20, 22, 24, 26, 28, 30, 32, 34, 36},
	}
}

func (t BoardTable) Len() int { return len(t.BothCooperate) }

func (t BoardTable) Validate() error {
	n := len(t.BothCooperate)
	if n == 0 {
		return fmt.Errorf("%w: board table is empty", ErrInvalidConfig)
	}
	if len(t.Betrayed) != n || len(t.Betray) != n || len(t.BothDefect) != n {
		return fmt.Errorf("%w: payoff lists differ in length", ErrInvalidConfig)
	}
	return nil
}

// Board reads the board at index from the four lists.
func (t BoardTable) Board(index int) (Board, error) {
	if index < 0 || index >= t.Len() {
		return Board{}, fmt.Errorf("%w: %d not in [0,%d]", ErrInvalidBoardIndex, index, t.Len()-1)
	}
	return Board{
		BothCooperate: t.BothCooperate[index],
		Betrayed:      t.Betrayed[index],
		Betray:        t.Betray[index],
		BothDefect:    t.BothDefect[index],
	}, nil
}

// SampleSessionParameters picks δ uniformly from candidates and a board index
// uniformly from the table. A non-negative pin fixes the board index instead.
func SampleSessionParameters(rng *rand.Rand, candidates []float64, table BoardTable, pin int) (SessionParameters, error) {
	if len(candidates) == 0 {
		return SessionParameters{}, fmt.Errorf("%w: no delta candidates", ErrInvalidConfig)
	}
	if err := table.Validate(); err != nil {
		return SessionParameters{}, err
	}
	delta := candidates[rng.Intn(len(candidates))]
	index := rng.Intn(table.Len())
	if pin >= 0 {
		index = pin
	}
	board, err := table.Board(index)
	if err != nil {
		return SessionParameters{}, err
	}
	return SessionParameters{Delta: delta, BoardIndex: index, Board: board}, nil
}
