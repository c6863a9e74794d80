// internal/handlers/arena_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tamata3m3na-oss/game-sub000/internal/auth"
	"github.com/tamata3m3na-oss/game-sub000/internal/game"
	"github.com/tamata3m3na-oss/game-sub000/internal/matchmaking"
	"github.com/tamata3m3na-oss/game-sub000/internal/middleware"
	"github.com/tamata3m3na-oss/game-sub000/internal/session"
)

// Subprotocol clients must negotiate on /arena/ws.
const Subprotocol = "arena"

const (
	writeTimeout      = 5 * time.Second
	pingInterval      = 30 * time.Second
	pingTimeout       = 15 * time.Second
	disconnectTimeout = 10 * time.Second
)

// inboundMessage is the envelope of every client message.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type readyPayload struct {
	MatchID uuid.UUID `json:"matchId"`
}

// ArenaWSHandler upgrades an authenticated player to the arena event channel.
func (s *ArenaServer) ArenaWSHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.AuthenticateRequest(r)
	if err != nil {
		s.Logger.Infof("arena ws: rejected unauthenticated connection from %s: %v", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the arena subprotocol")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn := session.NewConnection(userID, cancel)
	s.Sessions.Register(conn)
	middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path)

	go s.writePump(ctx, c, conn)
	readErr := s.readPump(ctx, c, conn)

	if s.Sessions.Release(conn) {
		dctx, dcancel := context.WithTimeout(context.Background(), disconnectTimeout)
		if err := s.Matches.HandleDisconnect(dctx, userID); err != nil {
			s.Logger.Warnf("arena ws: disconnect handling failed for %s: %v", userID, err)
		}
		dcancel()
	} else {
		c.Close(SessionReplacedError, "replaced by a newer connection")
	}
	middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, readErr)
}

// readPump dispatches client messages until the socket closes. It returns
// the read error, or nil on a normal close.
func (s *ArenaServer) readPump(ctx context.Context, c *websocket.Conn, conn *session.Connection) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			s.Logger.Debugf("arena ws: ignoring binary message from %s", conn.UserID)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Sessions.SendError(conn.UserID, "invalid JSON format")
			continue
		}
		s.handleMessage(ctx, conn.UserID, msg)
	}
}

func (s *ArenaServer) handleMessage(ctx context.Context, playerID uuid.UUID, msg inboundMessage) {
	log := s.Logger.WithFields(logrus.Fields{"player": playerID, "type": msg.Type})

	switch msg.Type {
	case "queue:join":
		status, err := s.Matches.JoinQueue(ctx, playerID)
		if errors.Is(err, matchmaking.ErrAlreadyInMatch) {
			s.Sessions.SendError(playerID, "already in a match")
			return
		}
		if err != nil {
			log.Warnf("join failed: %v", err)
			s.Sessions.SendError(playerID, "could not join queue")
			return
		}
		s.Sessions.Send(playerID, "queue:status", status)

	case "queue:leave":
		status, err := s.Matches.LeaveQueue(ctx, playerID)
		if err != nil {
			log.Warnf("leave failed: %v", err)
			s.Sessions.SendError(playerID, "could not leave queue")
			return
		}
		s.Sessions.Send(playerID, "queue:status", status)

	case "match:ready":
		var p readyPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.MatchID == uuid.Nil {
			log.Debug("dropping malformed ready")
			return
		}
		err := s.Matches.MarkPlayerReady(ctx, playerID, p.MatchID)
		switch {
		case err == nil:
		case errors.Is(err, matchmaking.ErrMatchNotFound),
			errors.Is(err, matchmaking.ErrNotParticipant),
			errors.Is(err, matchmaking.ErrInvalidTransition):
			log.Debugf("ignoring ready: %v", err)
		default:
			log.Warnf("ready failed: %v", err)
		}

	case "game:input":
		var in game.PlayerInput
		if err := json.Unmarshal(msg.Payload, &in); err != nil {
			return
		}
		s.Inputs.SubmitInput(playerID, in)

	case "ping":
		s.Sessions.Send(playerID, "pong", map[string]int64{"timestamp": time.Now().UnixMilli()})

	default:
		s.Sessions.SendError(playerID, "unknown message type: "+msg.Type)
	}
}

// writePump drains the player's outbox onto the socket.
func (s *ArenaServer) writePump(ctx context.Context, c *websocket.Conn, conn *session.Connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-conn.OutChan:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.Logger.Warnf("arena ws: write to %s failed: %v", conn.UserID, err)
				conn.Cancel()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				s.Logger.Warnf("arena ws: ping to %s failed: %v", conn.UserID, err)
				conn.Cancel()
				return
			}
		}
	}
}
