package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tamata3m3na-oss/game-sub000/internal/models"
)

const matchColumns = `id, player1_id, player2_id, status, winner_id, created_at, started_at, ended_at,
	duration_seconds, player1_final_health, player2_final_health,
	player1_damage_dealt, player2_damage_dealt, end_reason`

// CreateMatch inserts a new match record in the pending state.
func (r *Repository) CreateMatch(ctx context.Context, m *models.Match) error {
	if m.Status == "" {
		m.Status = models.MatchPending
	}
	q := `INSERT INTO matches (id, player1_id, player2_id, status) VALUES ($1, $2, $3, $4) RETURNING created_at`
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, m.ID, m.Player1ID, m.Player2ID, m.Status).Scan(&m.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	return nil
}

func (r *Repository) GetMatchByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	var m models.Match
	q := `SELECT ` + matchColumns + ` FROM matches WHERE id=$1`
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&m.ID, &m.Player1ID, &m.Player2ID, &m.Status, &m.WinnerID,
		&m.CreatedAt, &m.StartedAt, &m.EndedAt,
		&m.DurationSeconds, &m.Player1FinalHealth, &m.Player2FinalHealth,
		&m.Player1DamageDealt, &m.Player2DamageDealt, &m.EndReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const updateMatchQuery = `
	UPDATE matches
	SET status=$1, winner_id=$2, started_at=$3, ended_at=$4, duration_seconds=$5,
	    player1_final_health=$6, player2_final_health=$7,
	    player1_damage_dealt=$8, player2_damage_dealt=$9, end_reason=$10
	WHERE id=$11
`

func execUpdateMatch(ctx context.Context, tx pgx.Tx, m *models.Match) error {
	tag, err := tx.Exec(ctx, updateMatchQuery,
		m.Status, m.WinnerID, m.StartedAt, m.EndedAt, m.DurationSeconds,
		m.Player1FinalHealth, m.Player2FinalHealth,
		m.Player1DamageDealt, m.Player2DamageDealt, m.EndReason,
		m.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateMatch overwrites the mutable columns of a match record by id.
func (r *Repository) UpdateMatch(ctx context.Context, m *models.Match) error {
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return execUpdateMatch(ctx, tx, m)
	})
	if err != nil {
		return fmt.Errorf("failed to update match %s: %w", m.ID, err)
	}
	return nil
}

// CommitMatchResult writes the final match record, both users' rating and
// win/loss counters, and the rating history rows in a single transaction.
func (r *Repository) CommitMatchResult(ctx context.Context, m *models.Match, changes []models.RatingChange) error {
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := execUpdateMatch(ctx, tx, m); err != nil {
			return err
		}
		for _, c := range changes {
			u := c.User
			if _, err := tx.Exec(ctx, `UPDATE users SET rating=$1, wins=$2, losses=$3 WHERE id=$4`,
				u.Rating, u.Wins, u.Losses, u.ID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO ratings (user_id, match_id, old_rating, new_rating)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (user_id, match_id) DO NOTHING
			`, u.ID, m.ID, c.OldRating, u.Rating); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit match result %s: %w", m.ID, err)
	}
	return nil
}
