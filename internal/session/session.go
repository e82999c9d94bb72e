// apps/go-server/internal/session/session.go
//
// A Session is one live game served to any number of clients: the board
// engine plus everything needed to drive it from concurrent request handlers.
//
// Responsibilities:
//   - Serialize engine access (handlers and timer callbacks run on different goroutines).
//   - Optionally flip mismatches back on the server after a fixed delay.
//   - Publish every change, whoever caused it, to subscribers in order.
//   - Report the win once to an OnFinish hook (history/leaderboards).
//   - Track last activity for idle expiry.
//
// Only one mismatch timer is ever in flight: the engine locks input while a
// mismatch is pending. Restart and Close stop the timer, and a callback that
// fires anyway carries an outdated generation, so the engine ignores it.
//
// Lock order is mu then pushMu. Subscribers run with pushMu held and must not
// call back into the session.

package session

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory-match/apps/go-server/internal/game"
)

var (
	// ErrNoRestart is returned by Restart for sessions dealt from a fixed seed.
	ErrNoRestart = errors.New("session: this game cannot be restarted")
	// ErrClosed is returned by Restart once the session has been closed.
	ErrClosed = errors.New("session: closed")
)

// Owner identifies who plays a session: a signed-in user or an anonymous cookie.
type Owner struct {
	UserID string
	AnonID string
}

// Key returns the identifier used for per-player bookkeeping.
func (o Owner) Key() string {
	if o.UserID != "" {
		return o.UserID
	}
	return o.AnonID
}

// Result describes a finished (won) game.
type Result struct {
	SessionID string
	Owner     Owner
	DailyDate string
	Pairs     int
	Moves     int
	Elapsed   time.Duration
}

// Update is one change published to subscribers.
type Update struct {
	Effects []game.Effect
	State   game.State // board after the change
	Reset   bool       // State replaces the board: first update and restarts
}

// Options configure a new Session.
type Options struct {
	Owner     Owner
	DailyDate string    // non-empty for daily deals; such sessions cannot restart
	Rand      game.Rand // nil uses game.DefaultRand

	// MismatchDelay > 0 makes the session resolve mismatches by itself.
	MismatchDelay time.Duration

	// KeepUntil keeps the session from expiring before this instant.
	KeepUntil time.Time

	OnFinish func(Result)
	// OnRestart runs after a successful Restart, outside the session lock.
	OnRestart func(*Session)

	now func() time.Time
}

// Session wraps a game.Engine for concurrent use.
type Session struct {
	ID        string
	Owner     Owner
	DailyDate string

	mu        sync.Mutex
	pushMu    sync.Mutex // serializes delivery so subscribers see updates in order
	engine    *game.Engine
	opts      Options
	startedAt time.Time
	lastSeen  time.Time
	timer     *time.Timer
	finished  bool
	closed    bool
	subs      map[int]func(Update)
	nextSub   int
}

// New deals a game from palette.
func New(id string, palette []string, opts Options) (*Session, error) {
	if opts.now == nil {
		opts.now = time.Now
	}
	eng, err := game.New(palette, opts.Rand)
	if err != nil {
		return nil, err
	}
	now := opts.now()
	return &Session{
		ID:        id,
		Owner:     opts.Owner,
		DailyDate: opts.DailyDate,
		engine:    eng,
		opts:      opts,
		startedAt: now,
		lastSeen:  now,
		subs:      make(map[int]func(Update)),
	}, nil
}

// Flip forwards a flip request to the engine. Invalid requests return nil.
func (s *Session) Flip(index int) []game.Effect {
	s.mu.Lock()
	s.lastSeen = s.opts.now()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	effects := s.engine.RequestFlip(index)
	if effects == nil {
		s.mu.Unlock()
		return nil
	}
	s.scheduleLocked(effects)
	res, won := s.finishLocked(effects)
	s.publishAndUnlock(Update{Effects: effects, State: s.engine.Snapshot()})

	if won && s.opts.OnFinish != nil {
		s.opts.OnFinish(res)
	}
	return effects
}

// Resolve flips a pending mismatch back. Stale generations return nil.
func (s *Session) Resolve(generation uint64) []game.Effect {
	s.mu.Lock()
	s.lastSeen = s.opts.now()
	return s.resolveAndUnlock(generation)
}

// Restart deals a new board on the same session and drops any pending timer.
func (s *Session) Restart() (game.State, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		st := s.engine.Snapshot()
		s.mu.Unlock()
		return st, ErrClosed
	case s.DailyDate != "":
		st := s.engine.Snapshot()
		s.mu.Unlock()
		return st, ErrNoRestart
	}
	s.stopTimerLocked()
	effects, err := s.engine.Restart(nil)
	if err != nil {
		st := s.engine.Snapshot()
		s.mu.Unlock()
		return st, err
	}
	now := s.opts.now()
	s.startedAt, s.lastSeen = now, now
	s.finished = false
	st := s.engine.Snapshot()
	s.publishAndUnlock(Update{Effects: effects, State: st, Reset: true})

	if s.opts.OnRestart != nil {
		s.opts.OnRestart(s)
	}
	return st, nil
}

// Snapshot returns the client-facing state of the board.
func (s *Session) Snapshot() game.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Snapshot()
}

// Pairs is the palette size of the current board.
func (s *Session) Pairs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Pairs()
}

// StartedAt is when the current board was dealt.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Subscribe registers fn for every later change to the board. fn first
// receives a Reset update with the current board. It must not block.
// The returned func removes the subscription.
func (s *Session) Subscribe(fn func(Update)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	st := s.engine.Snapshot()
	s.pushMu.Lock()
	s.mu.Unlock()
	fn(Update{State: st, Reset: true})
	s.pushMu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Touch marks the session as active.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = s.opts.now()
	s.mu.Unlock()
}

// Expired reports whether the session has been idle longer than ttl.
// A session with live subscribers, or still inside KeepUntil, never expires.
func (s *Session) Expired(ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) > 0 {
		return false
	}
	now := s.opts.now()
	if now.Before(s.opts.KeepUntil) {
		return false
	}
	return now.Sub(s.lastSeen) > ttl
}

// Close stops the timer and drops subscribers. Further input is ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.closed = true
	s.subs = make(map[int]func(Update))
}

func (s *Session) scheduleLocked(effects []game.Effect) {
	if s.opts.MismatchDelay <= 0 {
		return
	}
	for _, ef := range effects {
		if ef.Kind != game.EffectMismatchPending {
			continue
		}
		gen := ef.Generation
		s.stopTimerLocked()
		s.timer = time.AfterFunc(s.opts.MismatchDelay, func() { s.fire(gen) })
	}
}

// fire is the timer callback.
func (s *Session) fire(generation uint64) {
	s.mu.Lock()
	if s.resolveAndUnlock(generation) == nil {
		log.Debug().Str("session", s.ID).Uint64("generation", generation).Msg("stale mismatch timer")
	}
}

// resolveAndUnlock runs ResolveMismatch with mu held and releases it.
func (s *Session) resolveAndUnlock(generation uint64) []game.Effect {
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	effects := s.engine.ResolveMismatch(generation)
	if effects == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	s.publishAndUnlock(Update{Effects: effects, State: s.engine.Snapshot()})
	return effects
}

// publishAndUnlock hands u to every subscriber and releases mu. Delivery
// happens outside mu but under pushMu, so updates keep the engine's order.
func (s *Session) publishAndUnlock(u Update) {
	subs := make([]func(Update), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.pushMu.Lock()
	s.mu.Unlock()
	defer s.pushMu.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) finishLocked(effects []game.Effect) (Result, bool) {
	if s.finished {
		return Result{}, false
	}
	for _, ef := range effects {
		if ef.Kind == game.EffectGameWon {
			s.finished = true
			return Result{
				SessionID: s.ID,
				Owner:     s.Owner,
				DailyDate: s.DailyDate,
				Pairs:     s.engine.Pairs(),
				Moves:     ef.Moves,
				Elapsed:   s.opts.now().Sub(s.startedAt),
			}, true
		}
	}
	return Result{}, false
}
