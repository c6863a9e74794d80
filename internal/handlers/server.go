// internal/handlers/server.go
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tamata3m3na-oss/game-sub000/internal/game"
	"github.com/tamata3m3na-oss/game-sub000/internal/matchmaking"
	"github.com/tamata3m3na-oss/game-sub000/internal/middleware"
	"github.com/tamata3m3na-oss/game-sub000/internal/models"
	"github.com/tamata3m3na-oss/game-sub000/internal/session"
)

// Matchmaker is the queue and handshake surface driven by client events.
type Matchmaker interface {
	JoinQueue(ctx context.Context, playerID uuid.UUID) (matchmaking.QueueStatus, error)
	LeaveQueue(ctx context.Context, playerID uuid.UUID) (matchmaking.QueueStatus, error)
	MarkPlayerReady(ctx context.Context, playerID, matchID uuid.UUID) error
	HandleDisconnect(ctx context.Context, playerID uuid.UUID) error
}

// InputSink accepts per-tick player input.
type InputSink interface {
	SubmitInput(playerID uuid.UUID, in game.PlayerInput) bool
}

// UserStore is the account storage behind the user endpoints.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	AuthenticateUser(ctx context.Context, email, password string) (string, *models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ArenaServer holds the collaborators every handler needs.
type ArenaServer struct {
	Logger   *logrus.Logger
	Sessions *session.Registry
	Matches  Matchmaker
	Inputs   InputSink
	Users    UserStore

	// CookieMaxAge is applied to the auth cookie set on login; 0 leaves it a
	// session cookie.
	CookieMaxAge int
}

// Routes builds the HTTP mux.
func (s *ArenaServer) Routes() http.Handler {
	logged := middleware.LogMiddleware(s.Logger)

	mux := http.NewServeMux()
	mux.Handle("/user/create", logged(http.HandlerFunc(s.CreateUserHandler)))
	mux.Handle("/user/login", logged(http.HandlerFunc(s.LoginHandler)))
	mux.Handle("/user/me", logged(http.HandlerFunc(s.MeHandler)))
	mux.HandleFunc("/arena/ws", s.ArenaWSHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
