package cache

import (
	"strconv"

	"github.com/google/uuid"
)

// Shared-store key layout. Everything lives under one prefix so several
// server processes can share a Redis database with other tenants.
const prefix = "arena:"

// ActiveBracketsKey is the set of bracket values that currently hold waiters.
const ActiveBracketsKey = prefix + "queue:brackets"

// PairingLockKey serializes pairing cycles across processes.
const PairingLockKey = prefix + "queue:pairing"

func BracketKey(bracket int) string {
	return prefix + "queue:bracket:" + strconv.Itoa(bracket)
}

func WaitingEntryKey(playerID uuid.UUID) string {
	return prefix + "queue:entry:" + playerID.String()
}

func PendingMatchKey(matchID uuid.UUID) string {
	return prefix + "match:pending:" + matchID.String()
}

func PlayerMatchKey(playerID uuid.UUID) string {
	return prefix + "player:match:" + playerID.String()
}

func RecentOpponentKey(playerID uuid.UUID) string {
	return prefix + "player:recent:" + playerID.String()
}

func GameStateKey(matchID uuid.UUID) string {
	return prefix + "game:state:" + matchID.String()
}

func StartLockKey(matchID uuid.UUID) string {
	return prefix + "match:start:" + matchID.String()
}

func FinalizeKey(matchID uuid.UUID) string {
	return prefix + "match:finalized:" + matchID.String()
}
