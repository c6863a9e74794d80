package matchmaking

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tamata3m3na-oss/game-sub000/internal/cache"
	"github.com/tamata3m3na-oss/game-sub000/internal/rating"
)

// WaitingEntry is a player's presence in the queue.
type WaitingEntry struct {
	PlayerID uuid.UUID `json:"playerId"`
	Username string    `json:"username"`
	Rating   int       `json:"rating"`
	// JoinedAt is unix milliseconds.
	JoinedAt int64 `json:"joinedAt"`
	Bracket  int   `json:"bracket"`
}

// QueueStatus is what a waiting player is told about their place in line.
type QueueStatus struct {
	Position             int `json:"position"`
	EstimatedWaitSeconds int `json:"estimatedWaitSeconds"`
}

// estimatedWait assumes a pair leaves the front of the bracket every 3 seconds.
func estimatedWait(position int) int {
	return (position + 1) / 2 * 3
}

func statusAt(position int) QueueStatus {
	return QueueStatus{Position: position, EstimatedWaitSeconds: estimatedWait(position)}
}

// deactivateScript removes a bracket from the active set only once its queue
// is empty.
var deactivateScript = redis.NewScript(`
	if redis.call("ZCARD", KEYS[1]) == 0 then
		return redis.call("SREM", KEYS[2], ARGV[1])
	end
	return 0
`)

func (e *Engine) deactivateIfEmpty(ctx context.Context, bracket int) error {
	return deactivateScript.Run(ctx, e.rdb,
		[]string{cache.BracketKey(bracket), cache.ActiveBracketsKey}, bracket).Err()
}

func (e *Engine) loadEntry(ctx context.Context, playerID uuid.UUID) (*WaitingEntry, error) {
	data, err := e.rdb.Get(ctx, cache.WaitingEntryKey(playerID)).Bytes()
	if err != nil {
		return nil, err
	}
	var entry WaitingEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt waiting entry for %s: %w", playerID, err)
	}
	return &entry, nil
}

// JoinQueue enqueues playerID in its rating bracket. Joining while already
// waiting returns the current status.
func (e *Engine) JoinQueue(ctx context.Context, playerID uuid.UUID) (QueueStatus, error) {
	if _, err := e.loadEntry(ctx, playerID); err == nil {
		return e.Status(ctx, playerID)
	} else if !errors.Is(err, redis.Nil) {
		return QueueStatus{}, err
	}

	n, err := e.rdb.Exists(ctx, cache.PlayerMatchKey(playerID)).Result()
	if err != nil {
		return QueueStatus{}, err
	}
	if n > 0 {
		return QueueStatus{}, ErrAlreadyInMatch
	}

	user, err := e.repo.GetUserByID(ctx, playerID)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("load player %s: %w", playerID, err)
	}

	entry := WaitingEntry{
		PlayerID: playerID,
		Username: user.Username,
		Rating:   user.Rating,
		JoinedAt: e.Now().UnixMilli(),
		Bracket:  rating.Bracket(user.Rating),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return QueueStatus{}, err
	}

	// NX on both writes keeps a racing duplicate join from moving the player.
	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, cache.WaitingEntryKey(playerID), data, waitingEntryTTL)
		pipe.ZAddNX(ctx, cache.BracketKey(entry.Bracket), redis.Z{
			Score:  float64(entry.JoinedAt),
			Member: playerID.String(),
		})
		pipe.SAdd(ctx, cache.ActiveBracketsKey, entry.Bracket)
		return nil
	})
	if err != nil {
		return QueueStatus{}, fmt.Errorf("enqueue %s: %w", playerID, err)
	}

	e.logger.Debugf("matchmaking: %s joined bracket %d (rating %d)", playerID, entry.Bracket, entry.Rating)
	return e.Status(ctx, playerID)
}

// Status reports the player's 1-based position within its bracket, or zeros
// if the player is not waiting.
func (e *Engine) Status(ctx context.Context, playerID uuid.UUID) (QueueStatus, error) {
	entry, err := e.loadEntry(ctx, playerID)
	if errors.Is(err, redis.Nil) {
		return QueueStatus{}, nil
	}
	if err != nil {
		return QueueStatus{}, err
	}

	rank, err := e.rdb.ZRank(ctx, cache.BracketKey(entry.Bracket), playerID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return QueueStatus{}, nil
	}
	if err != nil {
		return QueueStatus{}, err
	}
	return statusAt(int(rank) + 1), nil
}

// LeaveQueue removes playerID from the queue and tells the players still
// waiting in that bracket their new positions.
func (e *Engine) LeaveQueue(ctx context.Context, playerID uuid.UUID) (QueueStatus, error) {
	entry, err := e.loadEntry(ctx, playerID)
	if errors.Is(err, redis.Nil) {
		return QueueStatus{}, nil
	}
	if err != nil {
		// unreadable entry: drop the key and move on
		e.logger.Warnf("matchmaking: %v", err)
		return QueueStatus{}, e.rdb.Del(ctx, cache.WaitingEntryKey(playerID)).Err()
	}

	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cache.WaitingEntryKey(playerID))
		pipe.ZRem(ctx, cache.BracketKey(entry.Bracket), playerID.String())
		return nil
	})
	if err != nil {
		return QueueStatus{}, fmt.Errorf("dequeue %s: %w", playerID, err)
	}
	if err := e.deactivateIfEmpty(ctx, entry.Bracket); err != nil {
		e.logger.Warnf("matchmaking: failed to deactivate bracket %d: %v", entry.Bracket, err)
	}

	e.logger.Debugf("matchmaking: %s left bracket %d", playerID, entry.Bracket)
	e.broadcastPositions(ctx, entry.Bracket)
	return QueueStatus{}, nil
}

func (e *Engine) broadcastPositions(ctx context.Context, bracket int) {
	members, err := e.rdb.ZRange(ctx, cache.BracketKey(bracket), 0, -1).Result()
	if err != nil {
		e.logger.Warnf("matchmaking: failed to list bracket %d: %v", bracket, err)
		return
	}
	for i, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		e.notifier.Send(id, "queue:status", statusAt(i+1))
	}
}
