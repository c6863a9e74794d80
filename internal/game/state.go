package game

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Status of a running simulation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// PlayerState is one combatant inside a GameState.
type PlayerState struct {
	ID       uuid.UUID `json:"id"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Rotation float64   `json:"rotation"`
	Health   int       `json:"health"`

	ShieldHealth  int   `json:"shieldHealth"`
	ShieldActive  bool  `json:"shieldActive"`
	ShieldEndTick int64 `json:"shieldEndTick"`

	FireReady     bool  `json:"fireReady"`
	FireReadyTick int64 `json:"fireReadyTick"`

	AbilityReady bool `json:"abilityReady"`
	// LastAbilityActivationTime is wall-clock unix milliseconds.
	LastAbilityActivationTime int64 `json:"lastAbilityActivationTime"`

	DamageDealt int `json:"damageDealt"`
}

// GameState is the authoritative snapshot of a match, persisted after every
// tick and pushed to both players.
type GameState struct {
	MatchID   uuid.UUID   `json:"matchId"`
	Player1   PlayerState `json:"player1"`
	Player2   PlayerState `json:"player2"`
	Tick      int64       `json:"tick"`
	Timestamp int64       `json:"timestamp"`
	Status    Status      `json:"status"`
	Winner    *uuid.UUID  `json:"winner"`
}

// PlayerInput is one input frame sent by a client.
type PlayerInput struct {
	MoveX   float64 `json:"moveX"`
	MoveY   float64 `json:"moveY"`
	Fire    bool    `json:"fire"`
	Ability bool    `json:"ability"`
	// Timestamp is client wall-clock unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

func encodeState(s *GameState) ([]byte, error) {
	return json.Marshal(s)
}

func decodeState(data []byte) (*GameState, error) {
	var s GameState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
