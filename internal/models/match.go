// internal/models/match.go
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// MatchStatus is the lifecycle state of a persisted match record.
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
)

// EndReason explains why a match was finalized.
type EndReason string

const (
	EndDefeat     EndReason = "defeat"
	EndTimeout    EndReason = "timeout"
	EndDisconnect EndReason = "disconnect"
	EndCancelled  EndReason = "cancelled"
)

// Match is the authoritative historical record of a duel.
type Match struct {
	ID        uuid.UUID   `json:"id"`
	Player1ID uuid.UUID   `json:"player1Id"`
	Player2ID uuid.UUID   `json:"player2Id"`
	Status    MatchStatus `json:"status"`
	WinnerID  *uuid.UUID  `json:"winnerId,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	DurationSeconds    int       `json:"durationSeconds"`
	Player1FinalHealth int       `json:"player1FinalHealth"`
	Player2FinalHealth int       `json:"player2FinalHealth"`
	Player1DamageDealt int       `json:"player1DamageDealt"`
	Player2DamageDealt int       `json:"player2DamageDealt"`
	EndReason          EndReason `json:"endReason,omitempty"`
}

// HasPlayer reports whether id is one of the two participants.
func (m *Match) HasPlayer(id uuid.UUID) bool {
	return m.Player1ID == id || m.Player2ID == id
}

// Opponent returns the other participant, or uuid.Nil if id is not in the match.
func (m *Match) Opponent(id uuid.UUID) uuid.UUID {
	switch id {
	case m.Player1ID:
		return m.Player2ID
	case m.Player2ID:
		return m.Player1ID
	}
	return uuid.Nil
}

// RatingChange is one user's rating movement produced by a finished match.
type RatingChange struct {
	User      User `json:"user"`
	OldRating int  `json:"oldRating"`
}
