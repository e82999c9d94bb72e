// apps/go-server/internal/game/types.go
//
// Core type definitions for the memory-match board engine.
// Defines:
//   - CardState: hidden / revealed / matched.
//   - Card: one board position and the symbol dealt to it.
//   - Effect: a notification the engine hands back to the presentation layer.
//   - CardView / State: client-facing snapshots (hidden symbols are never exposed).

package game

// CardState is the lifecycle of a single card:
// hidden → revealed → matched (terminal) | hidden (after a mismatch resolves).
type CardState int

const (
	Hidden CardState = iota
	Revealed
	Matched
)

// String returns the wire name of a CardState.
func (cs CardState) String() string {
	switch cs {
	case Hidden:
		return "hidden"
	case Revealed:
		return "revealed"
	case Matched:
		return "matched"
	default:
		return "unknown"
	}
}

// Card is a single position on the board.
type Card struct {
	Index  int
	Symbol string
	State  CardState
}

// Phase is the coarse state of the engine as a whole.
type Phase string

const (
	PhaseIdle            Phase = "idle"             // buffer empty
	PhaseAwaitingSecond  Phase = "awaiting_second"  // one card held
	PhaseMismatchPending Phase = "mismatch_pending" // input locked until ResolveMismatch
	PhaseWon             Phase = "won"
)

// EffectKind names an engine → presentation notification.
type EffectKind string

const (
	EffectCardRevealed     EffectKind = "card_revealed"
	EffectPairMatched      EffectKind = "pair_matched"
	EffectMismatchPending  EffectKind = "mismatch_pending"
	EffectMismatchResolved EffectKind = "mismatch_resolved"
	EffectGameWon          EffectKind = "game_won"
	EffectCounters         EffectKind = "counters"
)

// Effect is one notification produced by a state-changing operation.
// Only the fields relevant to Kind are populated.
type Effect struct {
	Kind       EffectKind `json:"kind"`
	Indices    []int      `json:"indices,omitempty"`    // revealed/matched/mismatched card indices
	Symbol     string     `json:"symbol,omitempty"`     // card_revealed only
	Generation uint64     `json:"generation,omitempty"` // mismatch_pending only; echo it to ResolveMismatch
	PairsFound int        `json:"pairsFound"`
	Moves      int        `json:"moves"`
}

// CardView is the client-facing representation of a card.
// Symbol is only included when the card is revealed or matched.
type CardView struct {
	Index  int    `json:"index"`
	State  string `json:"state"`
	Symbol string `json:"symbol,omitempty"`
}

// State is a full snapshot of a game, safe to send to a client.
type State struct {
	Cards      []CardView `json:"cards"`
	Pairs      int        `json:"pairs"` // palette size P
	PairsFound int        `json:"pairsFound"`
	Moves      int        `json:"moves"`
	Phase      Phase      `json:"phase"`
	Locked     bool       `json:"locked"`
	Won        bool       `json:"won"`
	Generation uint64     `json:"generation"`
}
