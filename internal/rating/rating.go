package rating

import "github.com/tamata3m3na-oss/game-sub000/internal/models"

// Delta is the fixed number of points moved from loser to winner.
const Delta = 25

// ApplyResult returns updated copies of winner and loser after a decided match.
// The adjustment is flat, not proportional to the rating gap; the loser never
// drops below zero.
func ApplyResult(winner, loser models.User) (models.User, models.User) {
	winner.Rating += Delta
	winner.Wins++

	loser.Rating -= Delta
	if loser.Rating < 0 {
		loser.Rating = 0
	}
	loser.Losses++

	return winner, loser
}

// Bracket returns the coarse rating band a rating falls into.
func Bracket(r int) int {
	if r < 0 {
		return 0
	}
	return (r / BracketWidth) * BracketWidth
}

// BracketWidth is the size of one matchmaking rating band.
const BracketWidth = 200
