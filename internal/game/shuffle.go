// apps/go-server/internal/game/shuffle.go
//
// Deck construction and the unbiased Fisher–Yates shuffle.

package game

import "math/rand/v2"

// Rand is the randomness the engine needs: a uniform int in [0, n).
// *rand.Rand from math/rand/v2 satisfies it; tests inject fixed sequences.
type Rand interface {
	IntN(n int) int
}

// globalRand draws from the goroutine-safe top-level math/rand/v2 source.
type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand returns the process-wide random source.
func DefaultRand() Rand { return globalRand{} }

// NewSeededRand returns a deterministic source for the given seed pair.
// Equal seeds deal equal decks (used by the daily deal).
func NewSeededRand(seed1, seed2 uint64) Rand {
	return rand.New(rand.NewPCG(seed1, seed2))
}

// Shuffle permutes deck in place and returns it.
//
// For i from the last index down to 1, draw j uniformly in [0, i] and swap
// deck[i] with deck[j]. Every permutation is equally likely given a uniform rng.
func Shuffle[T any](deck []T, rng Rand) []T {
	for i := len(deck) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		deck[i], deck[j] = deck[j], deck[i]
	}
	return deck
}

// BuildDeck duplicates each palette symbol exactly once, so every symbol
// appears twice, in palette order. Callers shuffle afterwards.
func BuildDeck(palette []string) []string {
	deck := make([]string, 0, 2*len(palette))
	for _, s := range palette {
		deck = append(deck, s, s)
	}
	return deck
}
