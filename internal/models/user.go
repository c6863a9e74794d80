package models

import "github.com/google/uuid"

// DefaultRating is assigned to newly created users.
const DefaultRating = 1000

type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	Rating int `json:"rating"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}
