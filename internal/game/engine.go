package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tamata3m3na-oss/game-sub000/internal/cache"
	"github.com/tamata3m3na-oss/game-sub000/internal/models"
	"github.com/tamata3m3na-oss/game-sub000/internal/rating"
)

var (
	ErrMatchNotRunning = errors.New("match is not running")
	ErrNotParticipant  = errors.New("player is not in this match")
)

const (
	stateTTL    = 61 * time.Minute
	finalizeTTL = time.Hour
)

// Repository is the persistence the engine needs for match records and ratings.
type Repository interface {
	GetMatchByID(ctx context.Context, id uuid.UUID) (*models.Match, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	CommitMatchResult(ctx context.Context, m *models.Match, changes []models.RatingChange) error
}

// Notifier pushes an event to a connected player.
type Notifier interface {
	Send(playerID uuid.UUID, eventType string, payload interface{}) bool
}

// MatchEndFunc runs after a match has been finalized and its runner stopped.
type MatchEndFunc func(ctx context.Context, matchID, player1ID, player2ID uuid.UUID) error

// Options tunes an Engine.
type Options struct {
	// TickInterval overrides the ticker period. Speeds and durations are
	// expressed per tick at TicksPerSecond, so anything but the default
	// changes the pace of play. Tests use a long interval and Advance.
	TickInterval time.Duration
	TimeLimit    time.Duration
	ResultsQueue string
}

// Engine runs one tick loop per active match.
type Engine struct {
	rdb      redis.Cmdable
	repo     Repository
	notifier Notifier
	locks    *cache.LockManager
	logger   *logrus.Logger

	tickInterval time.Duration
	timeLimit    time.Duration
	resultsQueue string

	// Now is the wall clock. Tests replace it.
	Now func() time.Time

	store *runnerStore

	hookMu     sync.RWMutex
	onMatchEnd MatchEndFunc
}

func NewEngine(rdb redis.Cmdable, repo Repository, notifier Notifier, logger *logrus.Logger, opts Options) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = TickInterval
	}
	if opts.TimeLimit <= 0 {
		opts.TimeLimit = TimeLimit
	}
	return &Engine{
		rdb:          rdb,
		repo:         repo,
		notifier:     notifier,
		locks:        cache.NewLockManager(rdb),
		logger:       logger,
		tickInterval: opts.TickInterval,
		timeLimit:    opts.TimeLimit,
		resultsQueue: opts.ResultsQueue,
		Now:          time.Now,
		store:        newRunnerStore(),
	}
}

// SetOnMatchEnd installs the post-finalize hook.
func (e *Engine) SetOnMatchEnd(fn MatchEndFunc) {
	e.hookMu.Lock()
	e.onMatchEnd = fn
	e.hookMu.Unlock()
}

// matchRunner owns the tick goroutine and input buffers of one match.
type matchRunner struct {
	matchID   uuid.UUID
	player1ID uuid.UUID
	player2ID uuid.UUID
	inputs    map[uuid.UUID]inputQueue

	// mu serializes ticks with the forfeit path.
	mu       sync.Mutex
	quit     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
}

func newMatchRunner(matchID, p1, p2 uuid.UUID) *matchRunner {
	return &matchRunner{
		matchID:   matchID,
		player1ID: p1,
		player2ID: p2,
		inputs: map[uuid.UUID]inputQueue{
			p1: newInputQueue(),
			p2: newInputQueue(),
		},
		quit: make(chan struct{}),
	}
}

func (r *matchRunner) stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.quit)
	})
}

// StartMatch writes the initial state and launches the tick loop. Starting an
// already running match is a no-op.
func (e *Engine) StartMatch(ctx context.Context, matchID, player1ID, player2ID uuid.UUID) error {
	r, added := e.store.add(newMatchRunner(matchID, player1ID, player2ID))
	if !added {
		e.logger.Debugf("game: match %s already running", matchID)
		return nil
	}

	state := NewGameState(matchID, player1ID, player2ID, e.Now())
	if err := e.saveState(ctx, state); err != nil {
		e.store.remove(matchID)
		r.stop()
		return fmt.Errorf("failed to write initial state for match %s: %w", matchID, err)
	}

	e.logger.Infof("game: match %s started (%s vs %s)", matchID, player1ID, player2ID)
	go e.run(r)
	return nil
}

func (e *Engine) run(r *matchRunner) {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			if err := e.tick(context.Background(), r); err != nil {
				e.logger.Warnf("game: tick failed for match %s: %v", r.matchID, err)
			}
		}
	}
}

// SubmitInput buffers a validated input for the player's running match.
// Invalid frames and players without a running match are dropped.
func (e *Engine) SubmitInput(playerID uuid.UUID, in PlayerInput) bool {
	if !ValidateInput(in, e.Now()) {
		return false
	}
	r, ok := e.store.getByPlayer(playerID)
	if !ok || r.stopped.Load() {
		return false
	}
	q, ok := r.inputs[playerID]
	if !ok {
		return false
	}
	q.push(in)
	return true
}

// Advance runs one tick of matchID synchronously.
func (e *Engine) Advance(ctx context.Context, matchID uuid.UUID) error {
	r, ok := e.store.get(matchID)
	if !ok {
		return ErrMatchNotRunning
	}
	return e.tick(ctx, r)
}

// IsRunning reports whether a tick loop exists for matchID.
func (e *Engine) IsRunning(matchID uuid.UUID) bool {
	_, ok := e.store.get(matchID)
	return ok
}

// ActiveMatches returns the number of running matches.
func (e *Engine) ActiveMatches() int {
	return e.store.count()
}

// StopMatch halts the tick loop. Safe to call any number of times.
func (e *Engine) StopMatch(matchID uuid.UUID) {
	r, ok := e.store.remove(matchID)
	if !ok {
		return
	}
	r.stop()
	e.logger.Debugf("game: match %s stopped", matchID)
}

// StopAll halts every running match; used at shutdown.
func (e *Engine) StopAll() {
	e.store.mu.Lock()
	ids := make([]uuid.UUID, 0, len(e.store.runners))
	for id := range e.store.runners {
		ids = append(ids, id)
	}
	e.store.mu.Unlock()

	for _, id := range ids {
		e.StopMatch(id)
	}
}

func (e *Engine) tick(ctx context.Context, r *matchRunner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped.Load() {
		return nil
	}

	state, err := e.LoadState(ctx, r.matchID)
	if errors.Is(err, redis.Nil) {
		e.StopMatch(r.matchID)
		return nil
	}
	if err != nil {
		return err
	}
	if state.Status != StatusActive {
		e.StopMatch(r.matchID)
		return nil
	}

	record, err := e.repo.GetMatchByID(ctx, r.matchID)
	if errors.Is(err, models.ErrNotFound) {
		e.StopMatch(r.matchID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load match record: %w", err)
	}

	in1 := r.inputs[r.player1ID].pop()
	in2 := r.inputs[r.player2ID].pop()

	now := e.Now()
	Step(state, in1, in2, now)

	if out := e.checkEnd(state, record, now); out.Ended {
		state.Status = StatusCompleted
		state.Winner = out.Winner
		return e.finalize(ctx, state, record, out)
	}

	if err := e.saveState(ctx, state); err != nil {
		return err
	}
	e.notifier.Send(r.player1ID, "game:snapshot", state)
	e.notifier.Send(r.player2ID, "game:snapshot", state)
	return nil
}

func (e *Engine) checkEnd(state *GameState, record *models.Match, now time.Time) Outcome {
	return CheckEnd(state, now.Sub(startTime(record)), e.timeLimit)
}

// startTime is when the clock of a match began.
func startTime(record *models.Match) time.Time {
	if record.StartedAt != nil {
		return *record.StartedAt
	}
	return record.CreatedAt
}

// Forfeit ends matchID in favour of winnerID, used when the other player
// disconnects mid-match.
func (e *Engine) Forfeit(ctx context.Context, matchID, winnerID uuid.UUID) error {
	if r, ok := e.store.get(matchID); ok {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	record, err := e.repo.GetMatchByID(ctx, matchID)
	if err != nil {
		return fmt.Errorf("load match record: %w", err)
	}
	if !record.HasPlayer(winnerID) {
		return ErrNotParticipant
	}
	if record.Status == models.MatchCompleted {
		e.StopMatch(matchID)
		return nil
	}

	state, err := e.LoadState(ctx, matchID)
	if errors.Is(err, redis.Nil) {
		state = NewGameState(matchID, record.Player1ID, record.Player2ID, e.Now())
	} else if err != nil {
		return err
	}

	w := winnerID
	state.Status = StatusCompleted
	state.Winner = &w
	return e.finalize(ctx, state, record, Outcome{Ended: true, Winner: &w, Reason: models.EndDisconnect})
}

// finalize persists the outcome exactly once per match.
func (e *Engine) finalize(ctx context.Context, state *GameState, record *models.Match, out Outcome) error {
	if record.Status == models.MatchCompleted {
		e.StopMatch(record.ID)
		return nil
	}

	guard, err := e.locks.AcquireLock(ctx, cache.FinalizeKey(record.ID), uuid.NewString(), finalizeTTL)
	if errors.Is(err, cache.ErrLockNotAcquired) {
		e.logger.Debugf("game: match %s already finalized", record.ID)
		e.StopMatch(record.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire finalize guard: %w", err)
	}

	now := e.Now()
	startedAt := startTime(record)

	state.Player1.Health = max(0, state.Player1.Health)
	state.Player2.Health = max(0, state.Player2.Health)

	record.Status = models.MatchCompleted
	record.WinnerID = out.Winner
	record.EndedAt = &now
	record.DurationSeconds = int(now.Sub(startedAt).Seconds())
	record.Player1FinalHealth = state.Player1.Health
	record.Player2FinalHealth = state.Player2.Health
	record.Player1DamageDealt = state.Player1.DamageDealt
	record.Player2DamageDealt = state.Player2.DamageDealt
	record.EndReason = out.Reason

	changes, err := e.ratingChanges(ctx, record, out.Winner)
	if err == nil {
		err = e.repo.CommitMatchResult(ctx, record, changes)
	}
	if err != nil {
		if relErr := guard.Release(ctx); relErr != nil {
			e.logger.Warnf("game: failed to release finalize guard for %s: %v", record.ID, relErr)
		}
		return fmt.Errorf("commit result for match %s: %w", record.ID, err)
	}

	winnerField := "none"
	if out.Winner != nil {
		winnerField = out.Winner.String()
	}
	e.logger.WithFields(logrus.Fields{
		"match":  record.ID,
		"winner": winnerField,
		"reason": out.Reason,
		"ticks":  state.Tick,
	}).Info("game: match finalized")

	end := map[string]interface{}{
		"matchId":    record.ID,
		"winner":     out.Winner,
		"finalState": state,
		"endReason":  out.Reason,
	}
	e.notifier.Send(record.Player1ID, "game:end", end)
	e.notifier.Send(record.Player2ID, "game:end", end)

	e.StopMatch(record.ID)
	if err := e.rdb.Del(ctx, cache.GameStateKey(record.ID)).Err(); err != nil {
		e.logger.Warnf("game: failed to delete state for %s: %v", record.ID, err)
	}

	result := cache.MatchResultRecord{
		MatchID:   record.ID,
		Player1ID: record.Player1ID,
		Player2ID: record.Player2ID,
		WinnerID:  out.Winner,
		EndReason: string(out.Reason),
		Duration:  record.DurationSeconds,
		Timestamp: now.Unix(),
	}
	if err := cache.PublishMatchResult(ctx, e.rdb, e.resultsQueue, result); err != nil {
		e.logger.Warnf("game: failed to publish result for %s: %v", record.ID, err)
	}

	e.hookMu.RLock()
	hook := e.onMatchEnd
	e.hookMu.RUnlock()
	if hook != nil {
		if err := hook(ctx, record.ID, record.Player1ID, record.Player2ID); err != nil {
			e.logger.Warnf("game: match end hook failed for %s: %v", record.ID, err)
		}
	}
	return nil
}

func (e *Engine) ratingChanges(ctx context.Context, record *models.Match, winnerID *uuid.UUID) ([]models.RatingChange, error) {
	if winnerID == nil {
		return nil, nil
	}
	winner, err := e.repo.GetUserByID(ctx, *winnerID)
	if err != nil {
		return nil, fmt.Errorf("load winner: %w", err)
	}
	loser, err := e.repo.GetUserByID(ctx, record.Opponent(*winnerID))
	if err != nil {
		return nil, fmt.Errorf("load loser: %w", err)
	}

	newWinner, newLoser := rating.ApplyResult(*winner, *loser)
	return []models.RatingChange{
		{User: newWinner, OldRating: winner.Rating},
		{User: newLoser, OldRating: loser.Rating},
	}, nil
}

// LoadState reads the persisted state of matchID. A missing state surfaces as
// redis.Nil.
func (e *Engine) LoadState(ctx context.Context, matchID uuid.UUID) (*GameState, error) {
	data, err := e.rdb.Get(ctx, cache.GameStateKey(matchID)).Bytes()
	if err != nil {
		return nil, err
	}
	s, err := decodeState(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt state for match %s: %w", matchID, err)
	}
	return s, nil
}

func (e *Engine) saveState(ctx context.Context, s *GameState) error {
	data, err := encodeState(s)
	if err != nil {
		return err
	}
	return e.rdb.Set(ctx, cache.GameStateKey(s.MatchID), data, stateTTL).Err()
}
