package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/robalobadob/memory-match/apps/go-server/internal/config"
	"github.com/robalobadob/memory-match/apps/go-server/internal/db"
	"github.com/robalobadob/memory-match/apps/go-server/internal/game"
	"github.com/robalobadob/memory-match/apps/go-server/internal/palette"
	"github.com/robalobadob/memory-match/apps/go-server/internal/session"
	"github.com/robalobadob/memory-match/apps/go-server/internal/store"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	os.Exit(m.Run())
}

func testConfig() config.Config {
	return config.Config{
		PaletteSize:    2,
		SessionTTL:     time.Minute,
		DailySalt:      "salt",
		JWTSecret:      "secret",
		JWTExpiresDays: 1,
		CookieName:     "memory_token",
		ClientOrigin:   "http://localhost:5173",
		AppEnv:         "test",
	}
}

// newTestServer builds a Server over a temp sqlite DB and a three-symbol palette.
func newTestServer(t *testing.T, cfg config.Config) (*Server, *httptest.Server) {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	pal, err := palette.New([]string{"A", "B", "C"})
	if err != nil {
		t.Fatal(err)
	}
	s := New(cfg, store.NewMemoryStore(), pal, conn)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

// keepOrder never swaps, so palette [A,B] is dealt A A B B.
type keepOrder struct{}

func (keepOrder) IntN(n int) int { return n - 1 }

// seedGame stores a game with the fixed layout A A B B.
func seedGame(t *testing.T, s *Server) *session.Session {
	t.Helper()
	sess, err := s.newSession([]string{"A", "B"}, session.Options{Owner: session.Owner{AnonID: "seed"}, Rand: keepOrder{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.store.Save(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	s.recordStart(sess)
	return sess
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newClient(t *testing.T, ts *httptest.Server) *client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &client{t: t, base: ts.URL, http: &http.Client{Jar: jar}}
}

func (c *client) do(method, path string, body, out any) int {
	c.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		c.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (c *client) post(path string, body, out any) int { return c.do(http.MethodPost, path, body, out) }
func (c *client) get(path string, out any) int        { return c.do(http.MethodGet, path, nil, out) }

func (c *client) flip(id string, index int) effectsRes {
	c.t.Helper()
	var res effectsRes
	if code := c.post("/game/flip", map[string]any{"gameId": id, "index": index}, &res); code != http.StatusOK {
		c.t.Fatalf("flip %d: status %d", index, code)
	}
	return res
}

func findEffect(effects []game.Effect, kind game.EffectKind) (game.Effect, bool) {
	for _, ef := range effects {
		if ef.Kind == kind {
			return ef, true
		}
	}
	return game.Effect{}, false
}

// solve plays the game to the end by trying every pair, resolving mismatches
// explicitly. It returns the effects of the winning flip.
func (c *client) solve(id string) []game.Effect {
	c.t.Helper()
	var st gameRes
	c.get("/game/"+id, &st)
	n := len(st.State.Cards)
	cards := st.State.Cards
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if cards[i].State == "matched" {
				break
			}
			if cards[j].State == "matched" {
				continue
			}
			c.flip(id, i)
			res := c.flip(id, j)
			cards = res.State.Cards
			if won, ok := findEffect(res.Effects, game.EffectGameWon); ok {
				return []game.Effect{won}
			}
			if p, ok := findEffect(res.Effects, game.EffectMismatchPending); ok {
				var rr effectsRes
				c.post("/game/resolve", map[string]any{"gameId": id, "generation": p.Generation}, &rr)
				cards = rr.State.Cards
			}
		}
	}
	c.t.Fatal("game never won")
	return nil
}

func TestHealthAndRoot(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	c := newClient(t, ts)

	var health map[string]bool
	if code := c.get("/health", &health); code != http.StatusOK || !health["ok"] {
		t.Errorf("/health = %d %v", code, health)
	}
	var root map[string]any
	if code := c.get("/", &root); code != http.StatusOK || root["service"] != "memory-match-go" {
		t.Errorf("/ = %d %v", code, root)
	}
	if code := c.get("/nope", nil); code != http.StatusNotFound {
		t.Errorf("/nope = %d, want 404", code)
	}
}

func TestNewGame(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	c := newClient(t, ts)

	var res gameRes
	if code := c.post("/game/new", nil, &res); code != http.StatusOK {
		t.Fatalf("new game status %d", code)
	}
	if res.GameID == "" || len(res.State.Cards) != 4 || res.State.Pairs != 2 {
		t.Fatalf("new game = %+v", res)
	}
	for _, cv := range res.State.Cards {
		if cv.State != "hidden" || cv.Symbol != "" {
			t.Errorf("card %d leaks state %q symbol %q", cv.Index, cv.State, cv.Symbol)
		}
	}

	var three gameRes
	if code := c.post("/game/new", map[string]int{"pairs": 3}, &three); code != http.StatusOK || len(three.State.Cards) != 6 {
		t.Errorf("pairs=3: status %d cards %d", code, len(three.State.Cards))
	}

	for _, pairs := range []int{1, 4} {
		if code := c.post("/game/new", map[string]int{"pairs": pairs}, nil); code != http.StatusBadRequest {
			t.Errorf("pairs=%d: status %d, want 400", pairs, code)
		}
	}

	var again gameRes
	if code := c.get("/game/"+res.GameID, &again); code != http.StatusOK || again.GameID != res.GameID {
		t.Errorf("get game: %d %+v", code, again)
	}
}

func TestFlipErrorsAndNoOps(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	c := newClient(t, ts)
	sess := seedGame(t, s)

	if code := c.post("/game/flip", map[string]any{"gameId": "missing", "index": 0}, nil); code != http.StatusNotFound {
		t.Errorf("unknown game: status %d, want 404", code)
	}
	if code := c.post("/game/flip", map[string]any{"gameId": sess.ID}, nil); code != http.StatusBadRequest {
		t.Errorf("missing index: status %d, want 400", code)
	}

	res := c.flip(sess.ID, 99)
	if res.Effects == nil || len(res.Effects) != 0 {
		t.Errorf("out-of-range flip effects = %v, want []", res.Effects)
	}

	c.flip(sess.ID, 0)
	if res := c.flip(sess.ID, 0); len(res.Effects) != 0 {
		t.Errorf("re-click produced %v", res.Effects)
	}
}

func TestMismatchResolveAndRestart(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	c := newClient(t, ts)
	sess := seedGame(t, s)

	c.flip(sess.ID, 0)
	res := c.flip(sess.ID, 2) // A vs B
	pending, ok := findEffect(res.Effects, game.EffectMismatchPending)
	if !ok {
		t.Fatalf("expected mismatch, got %v", res.Effects)
	}
	if !res.State.Locked || res.State.Moves != 1 {
		t.Errorf("state after mismatch = %+v", res.State)
	}
	if locked := c.flip(sess.ID, 1); len(locked.Effects) != 0 {
		t.Errorf("flip while locked produced %v", locked.Effects)
	}

	var restarted gameRes
	if code := c.post("/game/restart", map[string]string{"gameId": sess.ID}, &restarted); code != http.StatusOK {
		t.Fatalf("restart status %d", code)
	}
	if restarted.State.Moves != 0 || restarted.State.Locked || restarted.State.Phase != game.PhaseIdle {
		t.Errorf("restart state = %+v", restarted.State)
	}

	var stale effectsRes
	c.post("/game/resolve", map[string]any{"gameId": sess.ID, "generation": pending.Generation}, &stale)
	if len(stale.Effects) != 0 {
		t.Errorf("stale resolve after restart produced %v", stale.Effects)
	}

	first := c.flip(sess.ID, 0)
	if len(first.Effects) == 0 || first.Effects[0].Kind != game.EffectCardRevealed || first.State.Phase != game.PhaseAwaitingSecond {
		t.Errorf("fresh flip after restart = %+v", first)
	}

	if code := c.post("/game/restart", map[string]string{"gameId": "missing"}, nil); code != http.StatusNotFound {
		t.Errorf("restart unknown: status %d", code)
	}
}

func TestGuestWinIsRecorded(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	c := newClient(t, ts)

	var res gameRes
	c.post("/game/new", nil, &res)
	won := c.solve(res.GameID)
	if won[0].Moves < 2 {
		t.Errorf("won with %d moves", won[0].Moves)
	}

	var status string
	var moves int
	err := s.db.QueryRow(`SELECT status, moves FROM games WHERE id=?`, res.GameID).Scan(&status, &moves)
	if err != nil {
		t.Fatal(err)
	}
	if status != "won" || moves != won[0].Moves {
		t.Errorf("games row = %s/%d, want won/%d", status, moves, won[0].Moves)
	}
}

func TestAccountFlow(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	c := newClient(t, ts)

	// A guest game, claimed at signup.
	var guest gameRes
	c.post("/game/new", nil, &guest)

	if code := c.get("/auth/me", nil); code != http.StatusUnauthorized {
		t.Errorf("/auth/me as guest = %d, want 401", code)
	}
	creds := map[string]string{"username": "alice_1", "password": "correct horse"}
	if code := c.post("/auth/signup", creds, nil); code != http.StatusOK {
		t.Fatalf("signup status %d", code)
	}
	if code := c.post("/auth/signup", creds, nil); code != http.StatusConflict {
		t.Errorf("duplicate signup = %d, want 409", code)
	}
	if code := c.post("/auth/signup", map[string]string{"username": "x", "password": "short"}, nil); code != http.StatusBadRequest {
		t.Errorf("invalid signup = %d, want 400", code)
	}

	var me authUser
	if code := c.get("/auth/me", &me); code != http.StatusOK || me.Username != "alice_1" {
		t.Fatalf("/auth/me = %d %+v", code, me)
	}

	var game1 gameRes
	c.post("/game/new", nil, &game1)
	won := c.solve(game1.GameID)

	var stats struct {
		GamesPlayed int  `json:"gamesPlayed"`
		Wins        int  `json:"wins"`
		BestMoves   *int `json:"bestMoves"`
	}
	if code := c.get("/stats/me", &stats); code != http.StatusOK {
		t.Fatalf("/stats/me status %d", code)
	}
	// The unfinished guest game counts as played once claimed.
	if stats.GamesPlayed != 2 || stats.Wins != 1 || stats.BestMoves == nil || *stats.BestMoves != won[0].Moves {
		t.Errorf("stats = %+v (best %v), want 2 played, 1 win, best %d", stats, stats.BestMoves, won[0].Moves)
	}

	var mine []map[string]any
	if code := c.get("/games/mine", &mine); code != http.StatusOK {
		t.Fatalf("/games/mine status %d", code)
	}
	if len(mine) != 2 {
		t.Errorf("/games/mine has %d games, want 2 (claimed guest game + won game)", len(mine))
	}

	c.post("/auth/logout", nil, nil)
	if code := c.get("/auth/me", nil); code != http.StatusUnauthorized {
		t.Errorf("/auth/me after logout = %d, want 401", code)
	}
	if code := c.post("/auth/login", map[string]string{"username": "alice_1", "password": "wrong password"}, nil); code != http.StatusUnauthorized {
		t.Errorf("bad login = %d, want 401", code)
	}
	if code := c.post("/auth/login", creds, nil); code != http.StatusOK {
		t.Errorf("login = %d", code)
	}
}

func TestSignupClaimsGuestResults(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	s.daily.now = time.Now
	c := newClient(t, ts)

	var guest gameRes
	c.post("/game/new", nil, &guest)
	won := c.solve(guest.GameID)

	var dn dailyNewRes
	c.post("/daily/new", nil, &dn)
	dailyWon := c.solve(dn.GameID)

	var me authUser
	if code := c.post("/auth/signup", map[string]string{"username": "guest_turned", "password": "long enough"}, &me); code != http.StatusOK {
		t.Fatalf("signup status %d", code)
	}

	var stats struct {
		GamesPlayed int  `json:"gamesPlayed"`
		Wins        int  `json:"wins"`
		BestMoves   *int `json:"bestMoves"`
	}
	c.get("/stats/me", &stats)
	best := min(won[0].Moves, dailyWon[0].Moves)
	if stats.GamesPlayed != 2 || stats.Wins != 2 || stats.BestMoves == nil || *stats.BestMoves != best {
		t.Errorf("stats = %+v (best %v), want 2 played, 2 wins, best %d", stats, stats.BestMoves, best)
	}

	var lb lbRes
	c.get("/daily/leaderboard", &lb)
	if len(lb.Top) != 1 || lb.Top[0].UserID != me.ID {
		t.Errorf("leaderboard = %+v, want the daily result under %s", lb.Top, me.ID)
	}

	var again dailyNewRes
	c.post("/daily/new", nil, &again)
	if !again.Played {
		t.Errorf("account can replay the claimed daily: %+v", again)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
