// apps/go-server/internal/httpserver/server.go
//
// HTTP server wiring for the Memory Match backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs, access log).
//   - Public endpoints: "/", "/health".
//   - Game endpoints (optional auth): new, get, flip, resolve, restart.
//   - Daily deal endpoints (optional auth): mounted under /daily.
//   - WebSocket play: /ws (no handler timeout).
//   - Auth + profile/stat endpoints (require auth): /auth/*, /stats/me, /games/mine.
//
// Notes:
//   - An invalid flip is not an error: /game/flip answers 200 with no effects.
//   - Live boards stay in the session store; only history goes to the DB.

package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory-match/apps/go-server/internal/config"
	"github.com/robalobadob/memory-match/apps/go-server/internal/game"
	"github.com/robalobadob/memory-match/apps/go-server/internal/palette"
	"github.com/robalobadob/memory-match/apps/go-server/internal/session"
	"github.com/robalobadob/memory-match/apps/go-server/internal/store"
)

// Server bundles router, session store, palette, config and DB handle.
type Server struct {
	r       *chi.Mux
	cfg     config.Config
	store   store.Store
	palette *palette.Palette
	db      *sql.DB
	daily   *dailyServer
}

// New constructs a Server, installs middleware, and registers routes.
func New(cfg config.Config, st store.Store, pal *palette.Palette, db *sql.DB) *Server {
	s := &Server{r: chi.NewRouter(), cfg: cfg, store: st, palette: pal, db: db}

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(accessLog)       // zerolog access log
	s.r.Use(chimw.Recoverer) // recover from panics
	s.r.Use(s.cors)          // credentials-friendly CORS

	// WebSocket play lives outside the handler timeout.
	s.r.With(s.withOptionalAuth()).Get("/ws", s.handleWS)

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
		r.Use(jsonContentType)                 // default JSON responses

		// --- diagnostics ---
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"service":"memory-match-go","endpoints":["/health","POST /game/new","POST /game/flip","POST /game/resolve","POST /game/restart","GET /ws","/daily/*","/auth/*"]}`))
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"ok":true}`))
		})

		// Game endpoints — OPTIONAL AUTH (guests can play)
		r.Group(func(r chi.Router) {
			r.Use(s.withOptionalAuth())
			r.Post("/game/new", s.handleNewGame)
			r.Get("/game/{id}", s.handleGetGame)
			r.Post("/game/flip", s.handleFlip)
			r.Post("/game/resolve", s.handleResolve)
			r.Post("/game/restart", s.handleRestart)

			// Daily deal — OPTIONAL AUTH (guests can play; results recorded on win)
			s.mountDaily(r)
		})

		// Auth + profile/stats (require auth)
		s.mountAuthRoutes(r)

		// JSON 404 for easier debugging
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"not_found","path":"`+r.URL.Path+`"}`, http.StatusNotFound)
		})
	})

	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for the configured client origin.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.cfg.ClientOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog writes one zerolog line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("requestId", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// ------------------------------ GAME ---------------------------------------

// newGameReq is the payload for POST /game/new.
type newGameReq struct {
	Pairs int `json:"pairs"` // 0 = configured default
}

// gameRes carries a full board snapshot.
type gameRes struct {
	GameID string     `json:"gameId"`
	State  game.State `json:"state"`
}

// newSession deals a session from symbols and wires its persistence hooks.
// opts carries the per-game fields (owner, daily date, rand, keep-until).
func (s *Server) newSession(symbols []string, opts session.Options) (*session.Session, error) {
	opts.MismatchDelay = s.cfg.MismatchDelay
	opts.OnFinish = s.recordFinish
	opts.OnRestart = s.recordRestart
	return session.New(uuid.NewString(), symbols, opts)
}

// startGame creates, stores and records a new regular game.
func (s *Server) startGame(ctx context.Context, owner session.Owner, pairs int) (*session.Session, error) {
	if pairs == 0 {
		pairs = s.cfg.PaletteSize
	}
	symbols, err := s.palette.Take(pairs)
	if err != nil {
		return nil, err
	}
	sess, err := s.newSession(symbols, session.Options{Owner: owner})
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	s.recordStart(sess)
	return sess, nil
}

// handleNewGame deals a new board for the caller.
func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	var req newGameReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess, err := s.startGame(r.Context(), s.owner(w, r), req.Pairs)
	if err != nil {
		if errors.Is(err, palette.ErrPaletteSize) {
			http.Error(w, `{"error":"invalid_pairs"}`, http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("new game")
		http.Error(w, `{"error":"new_game_failed"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(gameRes{GameID: sess.ID, State: sess.Snapshot()})
}

// lookup resolves a session or writes a 404.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, id string) (*session.Session, bool) {
	sess, err := s.store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return nil, false
	}
	sess.Touch()
	return sess, true
}

// handleGetGame returns the current board.
func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	_ = json.NewEncoder(w).Encode(gameRes{GameID: sess.ID, State: sess.Snapshot()})
}

// flipReq/resolveReq/effectsRes payloads for flip and resolve.
type flipReq struct {
	GameID string `json:"gameId"`
	Index  *int   `json:"index"`
}
type resolveReq struct {
	GameID     string `json:"gameId"`
	Generation uint64 `json:"generation"`
}
type effectsRes struct {
	Effects []game.Effect `json:"effects"` // empty when the request was a no-op
	State   game.State    `json:"state"`
}

func newEffectsRes(effects []game.Effect, st game.State) effectsRes {
	if effects == nil {
		effects = []game.Effect{}
	}
	return effectsRes{Effects: effects, State: st}
}

// handleFlip applies a flip request. Invalid flips return no effects.
func (s *Server) handleFlip(w http.ResponseWriter, r *http.Request) {
	var req flipReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess, ok := s.lookup(w, r, req.GameID)
	if !ok {
		return
	}
	effects := sess.Flip(*req.Index)
	_ = json.NewEncoder(w).Encode(newEffectsRes(effects, sess.Snapshot()))
}

// handleResolve flips a pending mismatch back when the client's delay elapses.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess, ok := s.lookup(w, r, req.GameID)
	if !ok {
		return
	}
	effects := sess.Resolve(req.Generation)
	_ = json.NewEncoder(w).Encode(newEffectsRes(effects, sess.Snapshot()))
}

// restartReq is the payload for POST /game/restart.
type restartReq struct {
	GameID string `json:"gameId"`
}

// handleRestart deals a new board on the same game id.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req restartReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess, ok := s.lookup(w, r, req.GameID)
	if !ok {
		return
	}
	st, err := sess.Restart()
	if err != nil {
		if errors.Is(err, session.ErrNoRestart) {
			http.Error(w, `{"error":"restart_not_allowed"}`, http.StatusConflict)
			return
		}
		if errors.Is(err, session.ErrClosed) {
			http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("gameId", sess.ID).Msg("restart")
		http.Error(w, `{"error":"restart_failed"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(gameRes{GameID: sess.ID, State: st})
}
