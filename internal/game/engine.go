// apps/go-server/internal/game/engine.go
//
// Board engine for a single memory-match game.
// Responsibilities:
//   - Deal a shuffled deck where every palette symbol appears exactly twice.
//   - Apply flip requests through the two-card selection buffer.
//   - Detect matches, lock input while a mismatch is shown, detect the win.
//   - Restart in place, invalidating any mismatch resolution still in flight.
//
// Notes:
//   - Invalid flips (locked board, card not hidden, re-clicking the held card,
//     index out of range) are silent no-ops: RequestFlip returns nil.
//   - The flip-back delay is not the engine's concern. A mismatch returns a
//     generation token; the caller waits however long it likes and then calls
//     ResolveMismatch with that token. Stale tokens are ignored.
//   - Engine is not safe for concurrent use; see the session package.
package game

import (
	"errors"
	"fmt"
)

// MinPairs is the smallest palette that produces a playable board.
const MinPairs = 2

// ErrInvalidPalette is returned by New and Restart for palettes that cannot
// produce a well-formed board.
var ErrInvalidPalette = errors.New("invalid palette")

const none = -1

// Engine owns the deck, the selection buffer, the counters and the input lock.
type Engine struct {
	rng     Rand
	palette []string
	cards   []Card

	first, second int // selection buffer; none when empty
	pairsFound    int
	moves         int
	locked        bool
	won           bool

	// generation identifies the pending mismatch. It advances on every
	// mismatch and on every restart and is never reset.
	generation uint64
}

// New validates the palette and deals a fresh game.
// A nil rng uses DefaultRand.
func New(palette []string, rng Rand) (*Engine, error) {
	if rng == nil {
		rng = DefaultRand()
	}
	e := &Engine{rng: rng}
	if err := e.deal(palette); err != nil {
		return nil, err
	}
	return e, nil
}

// Restart discards the current board and deals a new one, returning the
// reset counters. A nil palette reuses the palette of the current game.
func (e *Engine) Restart(palette []string) ([]Effect, error) {
	if palette == nil {
		palette = e.palette
	}
	if err := e.deal(palette); err != nil {
		return nil, err
	}
	e.generation++
	return []Effect{e.counters()}, nil
}

// deal is initialize: build, shuffle, assign, reset.
func (e *Engine) deal(palette []string) error {
	if err := ValidatePalette(palette); err != nil {
		return err
	}
	deck := Shuffle(BuildDeck(palette), e.rng)

	cards := make([]Card, len(deck))
	for i, s := range deck {
		cards[i] = Card{Index: i, Symbol: s, State: Hidden}
	}

	e.palette = append([]string(nil), palette...)
	e.cards = cards
	e.first, e.second = none, none
	e.pairsFound, e.moves = 0, 0
	e.locked, e.won = false, false
	return nil
}

// ValidatePalette rejects palettes with fewer than MinPairs symbols,
// empty symbols or repeated symbols.
func ValidatePalette(palette []string) error {
	if len(palette) < MinPairs {
		return fmt.Errorf("%w: need at least %d symbols, got %d", ErrInvalidPalette, MinPairs, len(palette))
	}
	seen := make(map[string]struct{}, len(palette))
	for i, s := range palette {
		if s == "" {
			return fmt.Errorf("%w: empty symbol at position %d", ErrInvalidPalette, i)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: symbol %q repeated", ErrInvalidPalette, s)
		}
		seen[s] = struct{}{}
	}
	return nil
}

// RequestFlip applies a flip request and returns the resulting effects,
// always ending with a counters effect. It returns nil when the request is
// invalid; the state is then untouched.
func (e *Engine) RequestFlip(index int) []Effect {
	if e.locked {
		return nil
	}
	if index < 0 || index >= len(e.cards) {
		return nil
	}
	if e.cards[index].State != Hidden {
		return nil
	}
	if index == e.first {
		return nil
	}

	card := &e.cards[index]
	card.State = Revealed
	effects := []Effect{{Kind: EffectCardRevealed, Indices: []int{index}, Symbol: card.Symbol}}

	if e.first == none {
		e.first = index
		return append(effects, e.counters())
	}

	e.second = index
	e.moves++
	a, b := &e.cards[e.first], &e.cards[e.second]
	pair := []int{e.first, e.second}

	if a.Symbol == b.Symbol {
		a.State, b.State = Matched, Matched
		e.pairsFound++
		e.first, e.second = none, none
		effects = append(effects, e.stamp(Effect{Kind: EffectPairMatched, Indices: pair}))
		if e.pairsFound == len(e.palette) {
			e.won = true
			effects = append(effects, e.stamp(Effect{Kind: EffectGameWon}))
		}
		return append(effects, e.counters())
	}

	e.locked = true
	e.generation++
	effects = append(effects, e.stamp(Effect{Kind: EffectMismatchPending, Indices: pair, Generation: e.generation}))
	return append(effects, e.counters())
}

// ResolveMismatch flips the two mismatched cards back and releases the lock.
// It is a no-op unless a mismatch is pending and generation matches it.
func (e *Engine) ResolveMismatch(generation uint64) []Effect {
	if !e.locked || generation != e.generation {
		return nil
	}
	pair := []int{e.first, e.second}
	e.cards[e.first].State = Hidden
	e.cards[e.second].State = Hidden
	e.first, e.second = none, none
	e.locked = false
	return []Effect{
		e.stamp(Effect{Kind: EffectMismatchResolved, Indices: pair}),
		e.counters(),
	}
}

func (e *Engine) counters() Effect { return e.stamp(Effect{Kind: EffectCounters}) }

// stamp fills in the counters every effect carries.
func (e *Engine) stamp(ef Effect) Effect {
	ef.PairsFound = e.pairsFound
	ef.Moves = e.moves
	return ef
}

// Phase reports the engine-level state machine position.
func (e *Engine) Phase() Phase {
	switch {
	case e.won:
		return PhaseWon
	case e.locked:
		return PhaseMismatchPending
	case e.first != none:
		return PhaseAwaitingSecond
	default:
		return PhaseIdle
	}
}

func (e *Engine) Pairs() int         { return len(e.palette) }
func (e *Engine) PairsFound() int    { return e.pairsFound }
func (e *Engine) Moves() int         { return e.moves }
func (e *Engine) Locked() bool       { return e.locked }
func (e *Engine) Won() bool          { return e.won }
func (e *Engine) Generation() uint64 { return e.generation }

// Palette returns a copy of the palette the current board was dealt from.
func (e *Engine) Palette() []string { return append([]string(nil), e.palette...) }

// Cards returns a copy of the board, symbols included.
func (e *Engine) Cards() []Card { return append([]Card(nil), e.cards...) }

// Snapshot builds the client-facing view of the game.
// Hidden cards do not expose their symbol.
func (e *Engine) Snapshot() State {
	views := make([]CardView, len(e.cards))
	for i, c := range e.cards {
		cv := CardView{Index: c.Index, State: c.State.String()}
		if c.State == Revealed || c.State == Matched {
			cv.Symbol = c.Symbol
		}
		views[i] = cv
	}
	return State{
		Cards:      views,
		Pairs:      len(e.palette),
		PairsFound: e.pairsFound,
		Moves:      e.moves,
		Phase:      e.Phase(),
		Locked:     e.locked,
		Won:        e.won,
		Generation: e.generation,
	}
}
