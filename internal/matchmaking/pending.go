package matchmaking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tamata3m3na-oss/game-sub000/internal/cache"
	"github.com/tamata3m3na-oss/game-sub000/internal/models"
)

// PendingState is the handshake phase of a paired match.
type PendingState string

const (
	PendingAwaiting  PendingState = "awaiting"
	PendingStarted   PendingState = "started"
	PendingCompleted PendingState = "completed"
)

var pendingTransitions = map[PendingState][]PendingState{
	PendingAwaiting: {PendingStarted, PendingCompleted},
	PendingStarted:  {PendingCompleted},
}

// CanTransition reports whether from may move to to.
func (from PendingState) CanTransition(to PendingState) bool {
	for _, s := range pendingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Side labels handed to the two players at start.
const (
	SideLeft  = "left"
	SideRight = "right"
)

// PendingMatch is a paired match going through the ready handshake.
type PendingMatch struct {
	ID           uuid.UUID
	Player1ID    uuid.UUID
	Player2ID    uuid.UUID
	Player1Ready bool
	Player2Ready bool
	State        PendingState
}

func newPendingMatch(id, p1, p2 uuid.UUID) *PendingMatch {
	return &PendingMatch{ID: id, Player1ID: p1, Player2ID: p2, State: PendingAwaiting}
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (p *PendingMatch) fields() map[string]interface{} {
	return map[string]interface{}{
		"id":           p.ID.String(),
		"player1":      p.Player1ID.String(),
		"player2":      p.Player2ID.String(),
		"player1Ready": flag(p.Player1Ready),
		"player2Ready": flag(p.Player2Ready),
		"state":        string(p.State),
	}
}

func parsePendingMatch(h map[string]string) (*PendingMatch, error) {
	id, err := uuid.Parse(h["id"])
	if err != nil {
		return nil, err
	}
	p1, err := uuid.Parse(h["player1"])
	if err != nil {
		return nil, err
	}
	p2, err := uuid.Parse(h["player2"])
	if err != nil {
		return nil, err
	}
	return &PendingMatch{
		ID:           id,
		Player1ID:    p1,
		Player2ID:    p2,
		Player1Ready: h["player1Ready"] == "1",
		Player2Ready: h["player2Ready"] == "1",
		State:        PendingState(h["state"]),
	}, nil
}

func (p *PendingMatch) HasPlayer(id uuid.UUID) bool {
	return p.Player1ID == id || p.Player2ID == id
}

func (p *PendingMatch) Opponent(id uuid.UUID) uuid.UUID {
	if id == p.Player1ID {
		return p.Player2ID
	}
	return p.Player1ID
}

func (p *PendingMatch) readyField(id uuid.UUID) string {
	if id == p.Player1ID {
		return "player1Ready"
	}
	return "player2Ready"
}

// LoadPendingMatch reads a pending match from the shared store.
func (e *Engine) LoadPendingMatch(ctx context.Context, matchID uuid.UUID) (*PendingMatch, error) {
	h, err := e.rdb.HGetAll(ctx, cache.PendingMatchKey(matchID)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrMatchNotFound
	}
	pm, err := parsePendingMatch(h)
	if err != nil {
		return nil, fmt.Errorf("corrupt pending match %s: %w", matchID, err)
	}
	return pm, nil
}

func (e *Engine) setPendingState(ctx context.Context, pm *PendingMatch, to PendingState) error {
	if !pm.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, pm.State, to)
	}
	if err := e.rdb.HSet(ctx, cache.PendingMatchKey(pm.ID), "state", string(to)).Err(); err != nil {
		return err
	}
	pm.State = to
	return nil
}

// readyScript sets a ready flag only while the hash still exists and is
// awaiting, then returns {state, player1Ready, player2Ready}.
var readyScript = redis.NewScript(`
	local state = redis.call("HGET", KEYS[1], "state")
	if not state then
		return false
	end
	if state == ARGV[2] then
		redis.call("HSET", KEYS[1], ARGV[1], "1")
	end
	local flags = redis.call("HMGET", KEYS[1], "player1Ready", "player2Ready")
	return {state, flags[1] or "", flags[2] or ""}
`)

// markReady flags playerID as ready and reports whether both players are.
func (e *Engine) markReady(ctx context.Context, pm *PendingMatch, playerID uuid.UUID) (bool, error) {
	keys := []string{cache.PendingMatchKey(pm.ID)}
	res, err := readyScript.Run(ctx, e.rdb, keys, pm.readyField(playerID), string(PendingAwaiting)).StringSlice()
	if errors.Is(err, redis.Nil) {
		return false, ErrMatchNotFound
	}
	if err != nil {
		return false, fmt.Errorf("mark ready: %w", err)
	}
	if len(res) != 3 {
		return false, fmt.Errorf("mark ready: unexpected reply %v", res)
	}
	if state := PendingState(res[0]); state != PendingAwaiting {
		return false, fmt.Errorf("%w: match %s is %s", ErrInvalidTransition, pm.ID, state)
	}
	return res[1] == "1" && res[2] == "1", nil
}

// MarkPlayerReady records playerID's readiness. When both players are ready,
// exactly one caller wins the start lock and launches the match.
func (e *Engine) MarkPlayerReady(ctx context.Context, playerID, matchID uuid.UUID) error {
	pm, err := e.LoadPendingMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if !pm.HasPlayer(playerID) {
		return ErrNotParticipant
	}
	if !pm.State.CanTransition(PendingStarted) {
		return fmt.Errorf("%w: match %s is %s", ErrInvalidTransition, matchID, pm.State)
	}

	bothReady, err := e.markReady(ctx, pm, playerID)
	if err != nil {
		return err
	}
	if !bothReady {
		e.logger.Debugf("matchmaking: %s ready for match %s", playerID, matchID)
		return nil
	}

	lock, err := e.locks.AcquireLock(ctx, cache.StartLockKey(matchID), playerID.String(), startLockTTL)
	if errors.Is(err, cache.ErrLockNotAcquired) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire start lock: %w", err)
	}

	if err := e.startMatch(ctx, matchID); err != nil {
		if relErr := lock.Release(ctx); relErr != nil {
			e.logger.Warnf("matchmaking: failed to release start lock for %s: %v", matchID, relErr)
		}
		return err
	}
	return nil
}

// startMatch runs under the start lock.
func (e *Engine) startMatch(ctx context.Context, matchID uuid.UUID) error {
	pm, err := e.LoadPendingMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if !pm.State.CanTransition(PendingStarted) {
		return nil
	}

	record, err := e.repo.GetMatchByID(ctx, matchID)
	if err != nil {
		return fmt.Errorf("load match record: %w", err)
	}
	now := e.Now()
	record.Status = models.MatchActive
	record.StartedAt = &now
	if err := e.repo.UpdateMatch(ctx, record); err != nil {
		return fmt.Errorf("activate match record: %w", err)
	}

	// Nothing visible to the players changes until the simulation is running.
	if err := e.sim.StartMatch(ctx, matchID, pm.Player1ID, pm.Player2ID); err != nil {
		e.rollbackStart(ctx, record, false)
		return fmt.Errorf("start simulation: %w", err)
	}
	if err := e.setPendingState(ctx, pm, PendingStarted); err != nil {
		e.rollbackStart(ctx, record, true)
		return err
	}

	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, cache.PendingMatchKey(matchID), startedMatchTTL)
		pipe.Expire(ctx, cache.PlayerMatchKey(pm.Player1ID), startedMatchTTL)
		pipe.Expire(ctx, cache.PlayerMatchKey(pm.Player2ID), startedMatchTTL)
		return nil
	})
	if err != nil {
		e.logger.Warnf("matchmaking: failed to extend TTLs for %s: %v", matchID, err)
	}

	o1, o2 := e.opponentInfo(ctx, pm.Player1ID), e.opponentInfo(ctx, pm.Player2ID)
	e.notifier.Send(pm.Player1ID, "match:start", map[string]interface{}{
		"matchId":      matchID,
		"opponent":     o2,
		"assignedSide": SideLeft,
	})
	e.notifier.Send(pm.Player2ID, "match:start", map[string]interface{}{
		"matchId":      matchID,
		"opponent":     o1,
		"assignedSide": SideRight,
	})

	e.logger.Infof("matchmaking: match %s started", matchID)
	return nil
}

// rollbackStart returns a match whose start failed to the awaiting
// handshake, so the next ready can try again.
func (e *Engine) rollbackStart(ctx context.Context, record *models.Match, simRunning bool) {
	if simRunning {
		e.sim.StopMatch(record.ID)
	}
	record.Status = models.MatchPending
	record.StartedAt = nil
	if err := e.repo.UpdateMatch(ctx, record); err != nil {
		e.logger.Warnf("matchmaking: failed to roll back match record %s: %v", record.ID, err)
	}
}

func (e *Engine) opponentInfo(ctx context.Context, id uuid.UUID) Opponent {
	o := Opponent{ID: id}
	user, err := e.repo.GetUserByID(ctx, id)
	if err != nil {
		e.logger.Warnf("matchmaking: failed to load player %s: %v", id, err)
		return o
	}
	o.Username = user.Username
	o.Rating = user.Rating
	return o
}

// releaseScript drops the pending hash and each player's pointer, leaving a
// pointer alone if it already names a newer match.
var releaseScript = redis.NewScript(`
	redis.call("DEL", KEYS[1])
	for i = 2, #KEYS do
		if redis.call("GET", KEYS[i]) == ARGV[1] then
			redis.call("DEL", KEYS[i])
		end
	end
	return 1
`)

// ReleaseMatch clears the handshake state of a finished match so both
// players can queue again.
func (e *Engine) ReleaseMatch(ctx context.Context, matchID, player1ID, player2ID uuid.UUID) error {
	keys := []string{
		cache.PendingMatchKey(matchID),
		cache.PlayerMatchKey(player1ID),
		cache.PlayerMatchKey(player2ID),
	}
	if err := releaseScript.Run(ctx, e.rdb, keys, matchID.String()).Err(); err != nil {
		return fmt.Errorf("release match %s: %w", matchID, err)
	}
	return nil
}

// HandleDisconnect cleans up after a player whose connection went away.
func (e *Engine) HandleDisconnect(ctx context.Context, playerID uuid.UUID) error {
	if _, err := e.LeaveQueue(ctx, playerID); err != nil {
		e.logger.Warnf("matchmaking: leave queue on disconnect failed for %s: %v", playerID, err)
	}

	raw, err := e.rdb.Get(ctx, cache.PlayerMatchKey(playerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	matchID, err := uuid.Parse(raw)
	if err != nil {
		return e.rdb.Del(ctx, cache.PlayerMatchKey(playerID)).Err()
	}

	pm, err := e.LoadPendingMatch(ctx, matchID)
	if errors.Is(err, ErrMatchNotFound) {
		return e.ReleaseMatch(ctx, matchID, playerID, playerID)
	}
	if err != nil {
		return err
	}
	opponent := pm.Opponent(playerID)

	switch pm.State {
	case PendingStarted:
		e.logger.Infof("matchmaking: %s left match %s, awarding %s", playerID, matchID, opponent)
		return e.sim.Forfeit(ctx, matchID, opponent)
	case PendingAwaiting:
		return e.cancelPending(ctx, pm, playerID, opponent)
	default:
		return e.ReleaseMatch(ctx, matchID, pm.Player1ID, pm.Player2ID)
	}
}

// cancelPending abandons a match that never started and puts the remaining
// player back in the queue.
func (e *Engine) cancelPending(ctx context.Context, pm *PendingMatch, leaver, opponent uuid.UUID) error {
	if err := e.setPendingState(ctx, pm, PendingCompleted); err != nil {
		return err
	}

	var recordErr error
	record, err := e.repo.GetMatchByID(ctx, pm.ID)
	if err == nil {
		e.cancelRecord(ctx, record)
	} else {
		recordErr = fmt.Errorf("load match record %s: %w", pm.ID, err)
		e.logger.Warnf("matchmaking: %v", recordErr)
	}

	if err := e.ReleaseMatch(ctx, pm.ID, pm.Player1ID, pm.Player2ID); err != nil {
		return err
	}
	e.logger.Infof("matchmaking: match %s cancelled, %s left before start", pm.ID, leaver)

	if !e.notifier.IsConnected(opponent) {
		return recordErr
	}
	status, err := e.JoinQueue(ctx, opponent)
	if err != nil {
		e.logger.Warnf("matchmaking: failed to re-enqueue %s after cancelled match %s: %v", opponent, pm.ID, err)
		return recordErr
	}
	e.notifier.Send(opponent, "queue:status", status)
	return recordErr
}
