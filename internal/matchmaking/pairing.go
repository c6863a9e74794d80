package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tamata3m3na-oss/game-sub000/internal/cache"
	"github.com/tamata3m3na-oss/game-sub000/internal/models"
)

// errPairAborted means a pair lost a race with a concurrent queue change.
// errPartnerGone means the second candidate is no longer waiting, and
// errCandidateGone means the first one is not.
var (
	errPairAborted   = errors.New("pair aborted: queue changed concurrently")
	errPartnerGone   = errors.New("pair aborted: partner no longer waiting")
	errCandidateGone = errors.New("pair aborted: candidate no longer waiting")
)

// Opponent describes the other player in match events.
type Opponent struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Rating   int       `json:"rating"`
}

type candidate struct {
	entry    WaitingEntry
	brackets []int
}

// RunPairingCycle performs one scheduler pass and returns the number of pairs
// created. A pass that overlaps another, locally or in another process, is
// skipped.
func (e *Engine) RunPairingCycle(ctx context.Context) (int, error) {
	if !e.pairing.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer e.pairing.Store(false)

	lock, err := e.locks.AcquireLock(ctx, cache.PairingLockKey, uuid.NewString(), pairingLockTTL)
	if errors.Is(err, cache.ErrLockNotAcquired) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("acquire pairing lock: %w", err)
	}
	defer func() {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, cache.ErrLockNotHeld) {
			e.logger.Warnf("matchmaking: failed to release pairing lock: %v", err)
		}
	}()

	pool, err := e.snapshotPool(ctx)
	if err != nil {
		return 0, err
	}
	if len(pool) < 2 {
		return 0, nil
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].entry.JoinedAt < pool[j].entry.JoinedAt
	})

	threshold := standardWait
	if len(pool) <= expeditedPoolSize {
		threshold = expeditedWait
	}
	now := e.Now().UnixMilli()
	waited := func(c *candidate) bool {
		return now-c.entry.JoinedAt >= threshold.Milliseconds()
	}

	recent, err := e.recentOpponents(ctx, pool)
	if err != nil {
		return 0, err
	}

	matched := make(map[uuid.UUID]bool, len(pool))
	pairs := 0
	for i := range pool {
		a := &pool[i]
		if matched[a.entry.PlayerID] || !waited(a) {
			continue
		}
		for j := i + 1; j < len(pool); j++ {
			b := &pool[j]
			if matched[b.entry.PlayerID] || !waited(b) {
				continue
			}
			if abs(a.entry.Rating-b.entry.Rating) > e.tolerance {
				continue
			}
			if recent[a.entry.PlayerID] == b.entry.PlayerID || recent[b.entry.PlayerID] == a.entry.PlayerID {
				continue
			}

			err := e.createPair(ctx, a.entry, b.entry)
			if errors.Is(err, errPartnerGone) {
				e.logger.Debugf("matchmaking: %s left before pairing", b.entry.PlayerID)
				matched[b.entry.PlayerID] = true
				continue
			}
			if errors.Is(err, errPairAborted) {
				e.logger.Debugf("matchmaking: pairing %s with %s raced a queue change", a.entry.PlayerID, b.entry.PlayerID)
				continue
			}
			if errors.Is(err, errCandidateGone) {
				e.logger.Debugf("matchmaking: %s left before pairing", a.entry.PlayerID)
				break
			}
			if err != nil {
				e.logger.Warnf("matchmaking: failed to pair %s with %s: %v", a.entry.PlayerID, b.entry.PlayerID, err)
				break
			}
			matched[a.entry.PlayerID] = true
			matched[b.entry.PlayerID] = true
			pairs++
			break
		}
	}
	return pairs, nil
}

// snapshotPool loads every waiting candidate across active brackets, purging
// members whose entry is gone or unreadable.
func (e *Engine) snapshotPool(ctx context.Context) ([]candidate, error) {
	brackets, err := e.rdb.SMembers(ctx, cache.ActiveBracketsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active brackets: %w", err)
	}

	var order []uuid.UUID
	membership := make(map[uuid.UUID][]int)
	for _, bs := range brackets {
		b, err := strconv.Atoi(bs)
		if err != nil {
			if err := e.rdb.SRem(ctx, cache.ActiveBracketsKey, bs).Err(); err != nil {
				e.logger.Warnf("matchmaking: failed to drop malformed bracket %q: %v", bs, err)
			}
			continue
		}
		members, err := e.rdb.ZRange(ctx, cache.BracketKey(b), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list bracket %d: %w", b, err)
		}
		if len(members) == 0 {
			if err := e.deactivateIfEmpty(ctx, b); err != nil {
				e.logger.Warnf("matchmaking: failed to deactivate bracket %d: %v", b, err)
			}
			continue
		}
		for _, m := range members {
			id, err := uuid.Parse(m)
			if err != nil {
				if err := e.rdb.ZRem(ctx, cache.BracketKey(b), m).Err(); err != nil {
					e.logger.Warnf("matchmaking: failed to drop malformed member %q from bracket %d: %v", m, b, err)
				}
				continue
			}
			if _, seen := membership[id]; !seen {
				order = append(order, id)
			}
			membership[id] = append(membership[id], b)
		}
	}
	if len(order) == 0 {
		return nil, nil
	}

	keys := make([]string, len(order))
	for i, id := range order {
		keys[i] = cache.WaitingEntryKey(id)
	}
	values, err := e.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load waiting entries: %w", err)
	}

	pool := make([]candidate, 0, len(order))
	for i, id := range order {
		var entry WaitingEntry
		raw, ok := values[i].(string)
		if !ok || json.Unmarshal([]byte(raw), &entry) != nil || entry.PlayerID != id {
			e.purge(ctx, id, membership[id])
			continue
		}
		pool = append(pool, candidate{entry: entry, brackets: membership[id]})
	}
	return pool, nil
}

// purge removes a stale member from every bracket it was seen in.
func (e *Engine) purge(ctx context.Context, id uuid.UUID, brackets []int) {
	e.logger.Debugf("matchmaking: purging stale queue member %s", id)
	_, err := e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, b := range brackets {
			pipe.ZRem(ctx, cache.BracketKey(b), id.String())
		}
		pipe.Del(ctx, cache.WaitingEntryKey(id))
		return nil
	})
	if err != nil {
		e.logger.Warnf("matchmaking: failed to purge %s: %v", id, err)
		return
	}
	for _, b := range brackets {
		if err := e.deactivateIfEmpty(ctx, b); err != nil {
			e.logger.Warnf("matchmaking: failed to deactivate bracket %d: %v", b, err)
		}
	}
}

func (e *Engine) recentOpponents(ctx context.Context, pool []candidate) (map[uuid.UUID]uuid.UUID, error) {
	keys := make([]string, len(pool))
	for i, c := range pool {
		keys[i] = cache.RecentOpponentKey(c.entry.PlayerID)
	}
	values, err := e.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load recent opponents: %w", err)
	}

	recent := make(map[uuid.UUID]uuid.UUID)
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if id, err := uuid.Parse(s); err == nil {
			recent[pool[i].entry.PlayerID] = id
		}
	}
	return recent, nil
}

// createPair turns two waiting entries into a pending match. The older entry
// becomes player1.
func (e *Engine) createPair(ctx context.Context, a, b WaitingEntry) error {
	record := &models.Match{
		ID:        uuid.New(),
		Player1ID: a.PlayerID,
		Player2ID: b.PlayerID,
		Status:    models.MatchPending,
	}
	if err := e.repo.CreateMatch(ctx, record); err != nil {
		return fmt.Errorf("create match record: %w", err)
	}

	pending := newPendingMatch(record.ID, a.PlayerID, b.PlayerID)
	keyA, keyB := cache.WaitingEntryKey(a.PlayerID), cache.WaitingEntryKey(b.PlayerID)

	err := e.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, keyA).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return errCandidateGone
		}
		if n, err = tx.Exists(ctx, keyB).Result(); err != nil {
			return err
		}
		if n == 0 {
			return errPartnerGone
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, cache.BracketKey(a.Bracket), a.PlayerID.String())
			pipe.ZRem(ctx, cache.BracketKey(b.Bracket), b.PlayerID.String())
			pipe.Del(ctx, keyA, keyB)

			pendingKey := cache.PendingMatchKey(record.ID)
			pipe.HSet(ctx, pendingKey, pending.fields())
			pipe.Expire(ctx, pendingKey, pendingMatchTTL)

			pipe.Set(ctx, cache.PlayerMatchKey(a.PlayerID), record.ID.String(), pendingMatchTTL)
			pipe.Set(ctx, cache.PlayerMatchKey(b.PlayerID), record.ID.String(), pendingMatchTTL)
			pipe.Set(ctx, cache.RecentOpponentKey(a.PlayerID), b.PlayerID.String(), recentOpponentTTL)
			pipe.Set(ctx, cache.RecentOpponentKey(b.PlayerID), a.PlayerID.String(), recentOpponentTTL)
			return nil
		})
		return err
	}, keyA, keyB)
	if err != nil {
		e.cancelRecord(ctx, record)
		if errors.Is(err, redis.TxFailedErr) {
			return errPairAborted
		}
		return err
	}

	for _, bracket := range []int{a.Bracket, b.Bracket} {
		if err := e.deactivateIfEmpty(ctx, bracket); err != nil {
			e.logger.Warnf("matchmaking: failed to deactivate bracket %d: %v", bracket, err)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"match":   record.ID,
		"player1": a.PlayerID,
		"player2": b.PlayerID,
	}).Info("matchmaking: players paired")

	e.notifier.Send(a.PlayerID, "match:found", map[string]interface{}{
		"matchId":  record.ID,
		"opponent": Opponent{ID: b.PlayerID, Username: b.Username, Rating: b.Rating},
	})
	e.notifier.Send(b.PlayerID, "match:found", map[string]interface{}{
		"matchId":  record.ID,
		"opponent": Opponent{ID: a.PlayerID, Username: a.Username, Rating: a.Rating},
	})
	return nil
}

// cancelRecord closes a match record that never got under way.
func (e *Engine) cancelRecord(ctx context.Context, record *models.Match) {
	now := e.Now()
	record.Status = models.MatchCompleted
	record.EndReason = models.EndCancelled
	record.EndedAt = &now
	if err := e.repo.UpdateMatch(ctx, record); err != nil {
		e.logger.Warnf("matchmaking: failed to cancel match record %s: %v", record.ID, err)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
