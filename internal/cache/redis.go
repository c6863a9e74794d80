// internal/cache/redis.go
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultResultsQueue is the Redis list finalized match results are pushed onto.
var DefaultResultsQueue = "arena_match_results"

// MatchResultRecord is the minimal outcome consumed by downstream services
// (leaderboards, history) from the results list.
type MatchResultRecord struct {
	MatchID   uuid.UUID  `json:"match_id"`
	Player1ID uuid.UUID  `json:"player1_id"`
	Player2ID uuid.UUID  `json:"player2_id"`
	WinnerID  *uuid.UUID `json:"winner_id,omitempty"`
	EndReason string     `json:"end_reason"`
	Duration  int        `json:"duration_seconds"`
	Timestamp int64      `json:"timestamp"`
}

// Connect creates a Redis client for addr/db and verifies it with a PING.
func Connect(addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// PublishMatchResult serializes the record to JSON and RPUSHes it onto queueName.
func PublishMatchResult(ctx context.Context, rdb redis.Cmdable, queueName string, record MatchResultRecord) error {
	if queueName == "" {
		queueName = DefaultResultsQueue
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal MatchResultRecord: %w", err)
	}
	if err := rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queueName, err)
	}
	return nil
}
