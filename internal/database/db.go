package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool on connStr and pings it.
func Connect(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return pool, nil
}

// Repository is the Postgres-backed store for users and match records.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id        UUID PRIMARY KEY,
	email     TEXT UNIQUE,
	password  TEXT NOT NULL DEFAULT '',
	username  TEXT NOT NULL,
	rating    INTEGER NOT NULL DEFAULT 1000,
	wins      INTEGER NOT NULL DEFAULT 0,
	losses    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS matches (
	id                    UUID PRIMARY KEY,
	player1_id            UUID NOT NULL REFERENCES users(id),
	player2_id            UUID NOT NULL REFERENCES users(id),
	status                TEXT NOT NULL,
	winner_id             UUID REFERENCES users(id),
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at            TIMESTAMPTZ,
	ended_at              TIMESTAMPTZ,
	duration_seconds      INTEGER NOT NULL DEFAULT 0,
	player1_final_health  INTEGER NOT NULL DEFAULT 0,
	player2_final_health  INTEGER NOT NULL DEFAULT 0,
	player1_damage_dealt  INTEGER NOT NULL DEFAULT 0,
	player2_damage_dealt  INTEGER NOT NULL DEFAULT 0,
	end_reason            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ratings (
	user_id     UUID NOT NULL REFERENCES users(id),
	match_id    UUID NOT NULL REFERENCES matches(id),
	old_rating  INTEGER NOT NULL,
	new_rating  INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, match_id)
);
`

// EnsureSchema creates the tables used by the arena if they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
