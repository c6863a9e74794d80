package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tamata3m3na-oss/game-sub000/internal/auth"
	"github.com/tamata3m3na-oss/game-sub000/internal/models"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// userView is a user as returned to clients.
type userView struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

func viewOf(u *models.User) userView {
	return userView{
		ID:       u.ID.String(),
		Email:    u.Email,
		Username: u.Username,
		Rating:   u.Rating,
		Wins:     u.Wins,
		Losses:   u.Losses,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// CreateUserHandler registers an account with the default rating.
func (s *ArenaServer) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" || req.Username == "" {
		http.Error(w, "email, password and username are required", http.StatusBadRequest)
		return
	}

	user := models.User{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		Rating:   models.DefaultRating,
	}
	if err := s.Users.CreateUser(r.Context(), &user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			http.Error(w, "email already exists", http.StatusConflict)
			return
		}
		s.Logger.Warnf("failed to create user: %v", err)
		http.Error(w, "error creating user", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(&user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
}

// LoginHandler exchanges credentials for a token, returned in the body and in
// the auth cookie.
//
// Request payload:
//
//	{
//	  "email": "someone@example.com",
//	  "password": "password"
//	}
func (s *ArenaServer) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	token, user, err := s.Users.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		s.Logger.Infof("failed to authenticate user: %v", err)
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		MaxAge:   s.CookieMaxAge,
		Expires:  cookieExpiry(s.CookieMaxAge),
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: viewOf(user)})
}

func cookieExpiry(maxAge int) time.Time {
	if maxAge <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(maxAge) * time.Second)
}

// MeHandler returns the caller's profile, including rating and record.
func (s *ArenaServer) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.AuthenticateRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	user, err := s.Users.GetUserByID(r.Context(), userID)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Logger.Warnf("failed to load user %s: %v", userID, err)
		http.Error(w, "error loading user", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(user))
}
