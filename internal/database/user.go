package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tamata3m3na-oss/game-sub000/internal/auth"
	"github.com/tamata3m3na-oss/game-sub000/internal/models"
)

const userColumns = `id, COALESCE(email, ''), password, username, rating, wins, losses`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Username, &u.Rating, &u.Wins, &u.Losses)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser hashes the password and inserts the user with the default rating.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.ID = id
	}
	if user.Rating == 0 {
		user.Rating = models.DefaultRating
	}

	hash, err := auth.CreateHash(user.Password, auth.Params)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = hash

	var email *string
	if user.Email != "" {
		email = &user.Email
	}

	q := `INSERT INTO users (id, email, password, username, rating) VALUES ($1, $2, $3, $4, $5)`
	err = pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q, user.ID, email, user.Password, user.Username, user.Rating)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.pool.QueryRow(ctx, q, id))
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return scanUser(r.pool.QueryRow(ctx, q, email))
}

// UpdateUserStats writes rating and win/loss counters for one user.
func (r *Repository) UpdateUserStats(ctx context.Context, u *models.User) error {
	q := `UPDATE users SET rating=$1, wins=$2, losses=$3 WHERE id=$4`
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, u.Rating, u.Wins, u.Losses, u.ID)
		return err
	})
}

// AuthenticateUser checks credentials and issues a session token.
func (r *Repository) AuthenticateUser(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("user not found or db error: %w", err)
	}

	match, err := auth.ComparePasswordAndHash(password, user.Password)
	if err != nil || !match {
		return "", nil, fmt.Errorf("invalid credentials")
	}

	token, err := auth.CreateJWT(user.ID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create jwt: %w", err)
	}
	return token, user, nil
}
