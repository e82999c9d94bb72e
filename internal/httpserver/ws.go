// apps/go-server/internal/httpserver/ws.go
//
// WebSocket play. Connections attach to a game session:
//   client → server: flip{index}, resolve{generation}, restart{}
//   server → client: state{gameId,state}, effects{effects,state}, error{message}
//
// GET /ws?gameId=<id> attaches to an existing game; without gameId a new one
// is dealt (optional ?pairs=n). Changes made by other connections, the HTTP
// endpoints or the server's mismatch timer are pushed as they happen.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory-match/apps/go-server/internal/session"
)

// MessageType tags a WebSocket envelope.
type MessageType string

const (
	MsgTypeFlip    MessageType = "flip"    // client flips a card
	MsgTypeResolve MessageType = "resolve" // client resolves a mismatch after its delay
	MsgTypeRestart MessageType = "restart" // client restarts the game
	MsgTypeState   MessageType = "state"   // server sends the full board
	MsgTypeEffects MessageType = "effects" // server sends engine effects
	MsgTypeError   MessageType = "error"   // server rejects a malformed message
)

// WsMessage is the envelope for every WebSocket frame.
type WsMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewWsMessage creates a WsMessage with a marshaled payload.
func NewWsMessage(msgType MessageType, payload any) (WsMessage, error) {
	if payload == nil {
		return WsMessage{Type: msgType}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return WsMessage{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return WsMessage{Type: msgType, Payload: b}, nil
}

// FlipMessage is the payload for MsgTypeFlip.
type FlipMessage struct {
	Index int `json:"index"`
}

// ResolveMessage is the payload for MsgTypeResolve.
type ResolveMessage struct {
	Generation uint64 `json:"generation"`
}

// ErrorMessage is the payload for MsgTypeError.
type ErrorMessage struct {
	Message string `json:"message"`
}

const (
	wsWriteTimeout = 5 * time.Second
	wsQueueSize    = 64
)

// handleWS upgrades the connection and runs the read loop. Every board
// change, whoever made it, reaches the client through the session
// subscription; a single writer goroutine drains the outgoing queue.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.wsSession(w, r)
	if !ok {
		return
	}

	opts := &websocket.AcceptOptions{}
	if u, err := url.Parse(s.cfg.ClientOrigin); err == nil && u.Host != "" {
		opts.OriginPatterns = []string{u.Host}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan WsMessage, wsQueueSize)
	enqueue := func(t MessageType, payload any) {
		msg, err := NewWsMessage(t, payload)
		if err != nil {
			log.Error().Err(err).Str("gameId", sess.ID).Msg("encode websocket message")
			return
		}
		select {
		case out <- msg:
		default:
			log.Warn().Str("gameId", sess.ID).Msg("websocket client too slow, dropping connection")
			cancel()
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-out:
				wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
				err := wsjson.Write(wctx, conn, msg)
				wcancel()
				if err != nil {
					log.Debug().Err(err).Str("gameId", sess.ID).Msg("websocket write")
					cancel()
					return
				}
			}
		}
	}()

	unsubscribe := sess.Subscribe(func(u session.Update) {
		if u.Reset {
			enqueue(MsgTypeState, gameRes{GameID: sess.ID, State: u.State})
			return
		}
		enqueue(MsgTypeEffects, newEffectsRes(u.Effects, u.State))
	})
	defer unsubscribe()

	for {
		var msg WsMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					log.Debug().Err(err).Str("gameId", sess.ID).Msg("websocket read")
				}
			}
			return
		}
		s.wsDispatch(sess, msg, enqueue)
	}
}

// wsSession finds or creates the session for a connection before the upgrade,
// so failures can still be reported as plain HTTP errors.
func (s *Server) wsSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if id := r.URL.Query().Get("gameId"); id != "" {
		sess, err := s.store.Get(r.Context(), id)
		if err != nil {
			http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
			return nil, false
		}
		return sess, true
	}
	pairs := 0
	if v := r.URL.Query().Get("pairs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, `{"error":"invalid_pairs"}`, http.StatusBadRequest)
			return nil, false
		}
		pairs = n
	}
	sess, err := s.startGame(r.Context(), s.owner(w, r), pairs)
	if err != nil {
		http.Error(w, `{"error":"invalid_pairs"}`, http.StatusBadRequest)
		return nil, false
	}
	return sess, true
}

// wsDispatch applies one client message. Results arrive through the
// subscription; only rejections are answered directly.
func (s *Server) wsDispatch(sess *session.Session, msg WsMessage, reply func(MessageType, any)) {
	switch msg.Type {
	case MsgTypeFlip:
		var p FlipMessage
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			reply(MsgTypeError, ErrorMessage{Message: "bad flip payload"})
			return
		}
		sess.Flip(p.Index)

	case MsgTypeResolve:
		var p ResolveMessage
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			reply(MsgTypeError, ErrorMessage{Message: "bad resolve payload"})
			return
		}
		sess.Resolve(p.Generation)

	case MsgTypeRestart:
		if _, err := sess.Restart(); err != nil {
			reply(MsgTypeError, ErrorMessage{Message: err.Error()})
		}

	default:
		reply(MsgTypeError, ErrorMessage{Message: "unknown message type: " + string(msg.Type)})
	}
}
