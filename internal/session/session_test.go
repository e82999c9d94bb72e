package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robalobadob/memory-match/apps/go-server/internal/game"
)

// keepOrder never swaps, so palette [A,B] is dealt A A B B.
type keepOrder struct{}

func (keepOrder) IntN(n int) int { return n - 1 }

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	opts.Rand = keepOrder{}
	s, err := New("s1", []string{"A", "B"}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func pendingGeneration(t *testing.T, effects []game.Effect) uint64 {
	t.Helper()
	for _, ef := range effects {
		if ef.Kind == game.EffectMismatchPending {
			return ef.Generation
		}
	}
	t.Fatalf("no mismatch_pending in %v", effects)
	return 0
}

// collector gathers published updates.
type collector struct {
	mu  sync.Mutex
	got []Update
	ch  chan struct{}
}

func newCollector() *collector { return &collector{ch: make(chan struct{}, 64)} }

func (c *collector) push(u Update) {
	c.mu.Lock()
	c.got = append(c.got, u)
	c.mu.Unlock()
	select {
	case c.ch <- struct{}{}:
	default:
	}
}

func (c *collector) updates() []Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Update(nil), c.got...)
}

// count returns how many updates carried an effect of kind.
func (c *collector) count(kind game.EffectKind) int {
	n := 0
	for _, u := range c.updates() {
		for _, ef := range u.Effects {
			if ef.Kind == kind {
				n++
				break
			}
		}
	}
	return n
}

func (c *collector) resets() int {
	n := 0
	for _, u := range c.updates() {
		if u.Reset {
			n++
		}
	}
	return n
}

func TestTimerResolvesMismatch(t *testing.T) {
	s := newTestSession(t, Options{MismatchDelay: 10 * time.Millisecond})
	c := newCollector()
	s.Subscribe(c.push)

	s.Flip(0)
	pendingGeneration(t, s.Flip(2)) // A vs B

	deadline := time.After(2 * time.Second)
	for c.count(game.EffectMismatchResolved) == 0 {
		select {
		case <-c.ch:
		case <-deadline:
			t.Fatal("timer never resolved the mismatch")
		}
	}
	last := c.updates()[len(c.updates())-1]
	if last.Effects[0].Kind != game.EffectMismatchResolved || last.State.Locked {
		t.Errorf("last update = %+v, want unlocked mismatch_resolved", last)
	}
	st := s.Snapshot()
	if st.Locked || st.Cards[0].State != "hidden" || st.Cards[2].State != "hidden" {
		t.Errorf("board not reset after timer: %+v", st)
	}
}

func TestExplicitResolveBeatsTimer(t *testing.T) {
	s := newTestSession(t, Options{MismatchDelay: 30 * time.Millisecond})
	c := newCollector()
	s.Subscribe(c.push)

	s.Flip(0)
	gen := pendingGeneration(t, s.Flip(2))
	if eff := s.Resolve(gen); eff == nil {
		t.Fatal("explicit resolve ignored")
	}
	time.Sleep(80 * time.Millisecond)
	if n := c.count(game.EffectMismatchResolved); n != 1 {
		t.Errorf("mismatch resolved %d times, want 1", n)
	}
	if eff := s.Resolve(gen); eff != nil {
		t.Error("second resolve not ignored")
	}
}

func TestRestartDropsPendingTimer(t *testing.T) {
	s := newTestSession(t, Options{MismatchDelay: 20 * time.Millisecond})
	c := newCollector()
	s.Subscribe(c.push)

	s.Flip(0)
	gen := pendingGeneration(t, s.Flip(2))
	st, err := s.Restart()
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if st.Moves != 0 || st.Locked || st.Phase != game.PhaseIdle {
		t.Fatalf("restart state = %+v", st)
	}

	// Simulate a timer that escaped Stop.
	s.fire(gen)
	time.Sleep(60 * time.Millisecond)
	if n := c.count(game.EffectMismatchResolved); n != 0 {
		t.Errorf("stale timer resolved %d times", n)
	}
	if n := c.resets(); n != 2 {
		t.Errorf("got %d reset updates, want 2 (subscribe + restart)", n)
	}

	eff := s.Flip(0)
	if len(eff) == 0 || eff[0].Kind != game.EffectCardRevealed {
		t.Errorf("first flip after restart = %v", eff)
	}
	if s.Snapshot().Phase != game.PhaseAwaitingSecond {
		t.Error("fresh flip did not move to awaiting_second")
	}
}

func TestSubscribersSeeEveryChange(t *testing.T) {
	s := newTestSession(t, Options{})
	a, b := newCollector(), newCollector()
	s.Subscribe(a.push)
	cancelB := s.Subscribe(b.push)

	first := a.updates()
	if len(first) != 1 || !first[0].Reset || len(first[0].State.Cards) != 4 {
		t.Fatalf("first update = %+v, want the current board", first)
	}

	s.Flip(0)
	s.Flip(0) // re-click: no change, nothing published
	gen := pendingGeneration(t, s.Flip(2))
	s.Resolve(gen)

	for name, c := range map[string]*collector{"a": a, "b": b} {
		got := c.updates()
		if len(got) != 4 {
			t.Fatalf("%s got %d updates, want 4", name, len(got))
		}
		if got[1].Effects[0].Kind != game.EffectCardRevealed || got[1].State.Cards[0].State != "revealed" {
			t.Errorf("%s flip update = %+v", name, got[1])
		}
		if !got[2].State.Locked || got[3].State.Locked {
			t.Errorf("%s lock not followed: %v then %v", name, got[2].State.Locked, got[3].State.Locked)
		}
	}

	cancelB()
	if _, err := s.Restart(); err != nil {
		t.Fatal(err)
	}
	if len(b.updates()) != 4 {
		t.Error("cancelled subscriber still receives updates")
	}
	last := a.updates()[len(a.updates())-1]
	if !last.Reset || last.Effects[0].Kind != game.EffectCounters || last.State.Moves != 0 {
		t.Errorf("restart update = %+v", last)
	}
}

func TestClosedSessionIgnoresInput(t *testing.T) {
	s := newTestSession(t, Options{MismatchDelay: 10 * time.Millisecond})
	s.Flip(0)
	gen := pendingGeneration(t, s.Flip(2))
	s.Close()

	if eff := s.Resolve(gen); eff != nil {
		t.Errorf("Resolve on closed session = %v", eff)
	}
	if _, err := s.Restart(); !errors.Is(err, ErrClosed) {
		t.Errorf("Restart error = %v, want ErrClosed", err)
	}
	time.Sleep(30 * time.Millisecond)
	if !s.Snapshot().Locked {
		t.Error("closed session changed after Close")
	}
}

func TestKeepUntilPreventsExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestSession(t, Options{
		KeepUntil: now.Add(time.Hour),
		now:       func() time.Time { return now },
	})
	now = now.Add(30 * time.Minute)
	if s.Expired(time.Minute) {
		t.Error("session expired before KeepUntil")
	}
	now = now.Add(time.Hour)
	if !s.Expired(time.Minute) {
		t.Error("idle session not expired after KeepUntil")
	}
}

func TestNoTimerWhenDelayDisabled(t *testing.T) {
	s := newTestSession(t, Options{})
	s.Flip(0)
	s.Flip(2)
	time.Sleep(20 * time.Millisecond)
	if !s.Snapshot().Locked {
		t.Error("mismatch resolved without a delay configured")
	}
}

func TestOnFinishOnce(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var results []Result
	var restarts int
	s := newTestSession(t, Options{
		Owner:     Owner{AnonID: "anon"},
		OnFinish:  func(r Result) { results = append(results, r) },
		OnRestart: func(*Session) { restarts++ },
		now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
	})

	s.Flip(0)
	s.Flip(1)
	s.Flip(2)
	s.Flip(3)
	s.Flip(3) // no-op after the win

	if len(results) != 1 {
		t.Fatalf("OnFinish called %d times, want 1", len(results))
	}
	r := results[0]
	if r.Moves != 2 || r.Pairs != 2 || r.Owner.Key() != "anon" || r.Elapsed <= 0 {
		t.Errorf("result = %+v", r)
	}

	if _, err := s.Restart(); err != nil {
		t.Fatal(err)
	}
	if restarts != 1 {
		t.Errorf("OnRestart called %d times", restarts)
	}
	s.Flip(0)
	s.Flip(1)
	s.Flip(2)
	s.Flip(3)
	if len(results) != 2 {
		t.Errorf("second game did not report: %d results", len(results))
	}
}

func TestDailySessionCannotRestart(t *testing.T) {
	s := newTestSession(t, Options{DailyDate: "2026-10-19"})
	if _, err := s.Restart(); !errors.Is(err, ErrNoRestart) {
		t.Errorf("Restart error = %v, want ErrNoRestart", err)
	}
}

func TestExpiredAndClose(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestSession(t, Options{now: func() time.Time { return now }})
	if s.Expired(time.Minute) {
		t.Error("fresh session expired")
	}
	now = now.Add(2 * time.Minute)
	if !s.Expired(time.Minute) {
		t.Error("idle session not expired")
	}
	s.Touch()
	if s.Expired(time.Minute) {
		t.Error("touched session expired")
	}

	cancel := s.Subscribe(func(Update) {})
	now = now.Add(time.Hour)
	if s.Expired(time.Minute) {
		t.Error("session with a subscriber expired")
	}
	cancel()
	if !s.Expired(time.Minute) {
		t.Error("session still alive after unsubscribe")
	}
	s.Close()
	if eff := s.Flip(0); eff != nil {
		t.Error("flip on closed session not ignored")
	}
}

func TestOwnerKey(t *testing.T) {
	if k := (Owner{UserID: "u", AnonID: "a"}).Key(); k != "u" {
		t.Errorf("Key = %s, want u", k)
	}
	if k := (Owner{AnonID: "a"}).Key(); k != "a" {
		t.Errorf("Key = %s, want a", k)
	}
}
