// apps/go-server/internal/httpserver/routes_daily.go
//
// HTTP routes for the "Daily Deal" mode.
// Exposes two endpoints under /daily:
//   - POST /daily/new         → start today's deal (creates or reuses a session)
//   - GET  /daily/leaderboard → fewest-moves results for today (or a given date)
//
// Everyone gets the same board on the same day: the shuffle is seeded from
// HMAC(salt, date). Flips go through the regular /game/flip endpoint; a win
// records the day's result. Each player gets one attempt per day: the games
// row written when the deal starts marks it as used.

package httpserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory-match/apps/go-server/internal/daily"
	"github.com/robalobadob/memory-match/apps/go-server/internal/game"
	"github.com/robalobadob/memory-match/apps/go-server/internal/session"
)

// dailyServer wraps dependencies for /daily endpoints.
type dailyServer struct {
	srv   *Server
	store *daily.Store
	salt  string
	now   func() time.Time
	mu    sync.Mutex // serializes session creation
}

// mountDaily registers all /daily routes.
func (s *Server) mountDaily(r chi.Router) {
	s.daily = &dailyServer{
		srv:   s,
		store: daily.NewStore(s.db),
		salt:  s.cfg.DailySalt,
		now:   time.Now,
	}
	r.Route("/daily", func(r chi.Router) {
		r.Post("/new", s.daily.handleNew)
		r.Get("/leaderboard", s.daily.handleLeaderboard)
	})
}

// dailyNewRes is returned by /daily/new.
type dailyNewRes struct {
	GameID string      `json:"gameId"`
	Date   string      `json:"date"`
	Played bool        `json:"played"`
	State  *game.State `json:"state,omitempty"`
}

// handleNew creates or resumes today's daily session.
//   - A recorded result for today → Played=true.
//   - A deal started today that is still live → resume it.
//   - A deal started today whose board is gone → Played=true; the attempt is spent.
//   - Otherwise deal the seeded board. It stays live until the date rolls over.
func (d *dailyServer) handleNew(w http.ResponseWriter, r *http.Request) {
	owner := d.srv.owner(w, r)
	now := d.now()
	date := daily.DateKey(now)

	if played, err := d.store.AlreadyPlayed(r.Context(), owner.Key(), date); err != nil {
		log.Warn().Err(err).Msg("daily already played")
	} else if played {
		_ = json.NewEncoder(w).Encode(dailyNewRes{Date: date, Played: true})
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id, err := d.srv.dailyGameID(r.Context(), owner, date)
	if err != nil {
		log.Error().Err(err).Msg("daily lookup")
		http.Error(w, `{"error":"daily_failed"}`, http.StatusInternalServerError)
		return
	}
	if id != "" {
		sess, err := d.srv.store.Get(r.Context(), id)
		if err != nil {
			_ = json.NewEncoder(w).Encode(dailyNewRes{Date: date, Played: true})
			return
		}
		sess.Touch()
		st := sess.Snapshot()
		_ = json.NewEncoder(w).Encode(dailyNewRes{GameID: sess.ID, Date: date, State: &st})
		return
	}

	symbols, err := d.srv.palette.Take(d.srv.cfg.PaletteSize)
	if err != nil {
		log.Error().Err(err).Msg("daily palette")
		http.Error(w, `{"error":"daily_failed"}`, http.StatusInternalServerError)
		return
	}
	sess, err := d.srv.newSession(symbols, session.Options{
		Owner:     owner,
		DailyDate: date,
		Rand:      game.NewSeededRand(daily.Seed(now, d.salt)),
		KeepUntil: daily.NextReset(now),
	})
	if err != nil {
		log.Error().Err(err).Msg("daily session")
		http.Error(w, `{"error":"daily_failed"}`, http.StatusInternalServerError)
		return
	}
	if err := d.srv.store.Save(r.Context(), sess); err != nil {
		http.Error(w, `{"error":"save_failed"}`, http.StatusInternalServerError)
		return
	}
	d.srv.recordStart(sess)

	st := sess.Snapshot()
	_ = json.NewEncoder(w).Encode(dailyNewRes{GameID: sess.ID, Date: date, State: &st})
}

// lbRes is returned by /daily/leaderboard.
type lbRes struct {
	Date string        `json:"date"`
	Top  []daily.LBRow `json:"top"`
}

// handleLeaderboard returns the leaderboard for the given date (default today).
func (d *dailyServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = daily.DateKey(d.now())
	}
	rows, err := d.store.Leaderboard(r.Context(), date, 20)
	if err != nil {
		http.Error(w, `{"error":"server_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(lbRes{Date: date, Top: rows})
}
