// apps/go-server/internal/httpserver/history.go
//
// Game history persistence, driven by session hooks.
// Every write here is best effort: failures are logged and never reach the
// player, whose board lives in memory regardless.

package httpserver

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory-match/apps/go-server/internal/daily"
	"github.com/robalobadob/memory-match/apps/go-server/internal/session"
)

const dbTimeout = 5 * time.Second

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// recordStart inserts the games row for a freshly dealt session.
func (s *Server) recordStart(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO games (id, user_id, anonymous_id, pairs, daily_date, started_at, status, moves)
	                     VALUES (?,?,?,?,?,?,'playing',0)`,
		sess.ID, nullable(sess.Owner.UserID), nullable(sess.Owner.AnonID), sess.Pairs(),
		nullable(sess.DailyDate), sess.StartedAt().UTC().Format(time.RFC3339))
	if err != nil {
		log.Warn().Err(err).Str("gameId", sess.ID).Msg("insert game row")
		return
	}
	if sess.Owner.UserID != "" {
		if _, err := s.db.ExecContext(ctx, `UPDATE users SET games_played = games_played + 1 WHERE id=?`, sess.Owner.UserID); err != nil {
			log.Warn().Err(err).Str("user", sess.Owner.UserID).Msg("bump games played")
		}
	}
}

// recordRestart resets the games row: the previous board is discarded.
func (s *Server) recordRestart(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `UPDATE games SET status='playing', moves=0, finished_at=NULL, started_at=? WHERE id=?`,
		sess.StartedAt().UTC().Format(time.RFC3339), sess.ID)
	if err != nil {
		log.Warn().Err(err).Str("gameId", sess.ID).Msg("reset game row")
		return
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET games_played = games_played + 1
	                                WHERE id = (SELECT user_id FROM games WHERE id=?)`, sess.ID)
	if err != nil {
		log.Warn().Err(err).Str("gameId", sess.ID).Msg("bump games played")
	}
}

// recordFinish marks the game won, updates the player's stats and, for
// daily deals, records the leaderboard result. Stats go to whoever owns the
// games row now, so a guest game claimed mid-play still counts.
func (s *Server) recordFinish(res session.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	log.Info().Str("gameId", res.SessionID).Int("moves", res.Moves).Int("pairs", res.Pairs).
		Dur("elapsed", res.Elapsed).Msg("game won")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Warn().Err(err).Msg("begin finish tx")
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE games SET status='won', moves=?, finished_at=? WHERE id=?`,
		res.Moves, time.Now().UTC().Format(time.RFC3339), res.SessionID); err != nil {
		log.Warn().Err(err).Msg("finish game")
	}
	if err := bumpStats(ctx, tx, res.SessionID, res.Moves); err != nil {
		log.Warn().Err(err).Str("gameId", res.SessionID).Msg("bump stats")
	}
	if err := tx.Commit(); err != nil {
		log.Warn().Err(err).Msg("commit finish tx")
	}

	if res.DailyDate != "" && s.daily != nil {
		err := s.daily.store.InsertResult(ctx, daily.Result{
			UserID:    s.resultOwner(ctx, res),
			Date:      res.DailyDate,
			Moves:     res.Moves,
			ElapsedMs: int(res.Elapsed.Milliseconds()),
		})
		if err != nil {
			log.Warn().Err(err).Str("date", res.DailyDate).Msg("insert daily result")
		}
	}
}

// bumpStats counts a win for the owner of gameID and keeps the lowest move
// count (within tx). Guest games have no owner and update nothing.
func bumpStats(ctx context.Context, tx *sql.Tx, gameID string, moves int) error {
	_, err := tx.ExecContext(ctx, `UPDATE users
	                   SET wins = wins + 1,
	                       best_moves = CASE WHEN best_moves IS NULL OR best_moves > ? THEN ? ELSE best_moves END
	                   WHERE id = (SELECT user_id FROM games WHERE id=?)`, moves, moves, gameID)
	return err
}

// resultOwner is the leaderboard id for a finished game: the account that
// owns the games row, else the session owner.
func (s *Server) resultOwner(ctx context.Context, res session.Result) string {
	var uid sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM games WHERE id=?`, res.SessionID).Scan(&uid)
	if err == nil && uid.Valid {
		return uid.String
	}
	return res.Owner.Key()
}

// dailyGameID returns the id of the daily deal owner started on date, or "".
func (s *Server) dailyGameID(ctx context.Context, owner session.Owner, date string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM games
	                                  WHERE daily_date=? AND (user_id=? OR anonymous_id=?)
	                                  ORDER BY started_at LIMIT 1`,
		date, nullable(owner.UserID), nullable(owner.AnonID)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// claimAnonGames moves a guest's history to userID after signup or login:
// games rows, daily results, and the stats those games earned.
func (s *Server) claimAnonGames(anonID, userID string) {
	if anonID == "" || userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Warn().Err(err).Msg("begin claim tx")
		return
	}
	defer func() { _ = tx.Rollback() }()

	var played, wins int
	var best sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*),
	                                      COALESCE(SUM(status='won'), 0),
	                                      MIN(CASE WHEN status='won' THEN moves END)
	                               FROM games WHERE anonymous_id=?`, anonID).Scan(&played, &wins, &best)
	if err != nil {
		log.Warn().Err(err).Msg("count anon games")
		return
	}
	if played == 0 {
		return
	}

	stmts := []struct {
		query string
		args  []any
	}{
		{`UPDATE games SET user_id=?, anonymous_id=NULL WHERE anonymous_id=?`, []any{userID, anonID}},
		// A result the account already has for that date wins.
		{`UPDATE OR IGNORE daily_results SET user_id=? WHERE user_id=?`, []any{userID, anonID}},
		{`DELETE FROM daily_results WHERE user_id=?`, []any{anonID}},
		{`UPDATE users
		  SET games_played = games_played + ?,
		      wins = wins + ?,
		      best_moves = CASE WHEN ? IS NULL THEN best_moves
		                        WHEN best_moves IS NULL OR best_moves > ? THEN ?
		                        ELSE best_moves END
		  WHERE id=?`, []any{played, wins, best, best, best, userID}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			log.Warn().Err(err).Msg("claim anon games")
			return
		}
	}
	if err := tx.Commit(); err != nil {
		log.Warn().Err(err).Msg("commit claim tx")
		return
	}
	log.Info().Str("user", userID).Int("games", played).Int("wins", wins).Msg("claimed guest games")
}
