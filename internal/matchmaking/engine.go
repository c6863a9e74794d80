package matchmaking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tamata3m3na-oss/game-sub000/internal/cache"
	"github.com/tamata3m3na-oss/game-sub000/internal/models"
)

var (
	ErrAlreadyInMatch    = errors.New("player already has a match")
	ErrMatchNotFound     = errors.New("match not found")
	ErrNotParticipant    = errors.New("player is not in this match")
	ErrInvalidTransition = errors.New("invalid match state transition")
)

const (
	waitingEntryTTL   = 30 * time.Minute
	pendingMatchTTL   = 10 * time.Minute
	startedMatchTTL   = time.Hour
	recentOpponentTTL = 60 * time.Second
	startLockTTL      = 30 * time.Second
	pairingLockTTL    = 5 * time.Second

	// A pool of at most expeditedPoolSize candidates pairs after the short
	// threshold; larger pools wait longer for a closer rating.
	expeditedPoolSize = 2
	expeditedWait     = 500 * time.Millisecond
	standardWait      = 3000 * time.Millisecond

	defaultRatingTolerance = 200
	defaultPairingInterval = 500 * time.Millisecond
)

// Repository is the persistence the matchmaker reads players from and writes
// match records to.
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateMatch(ctx context.Context, m *models.Match) error
	GetMatchByID(ctx context.Context, id uuid.UUID) (*models.Match, error)
	UpdateMatch(ctx context.Context, m *models.Match) error
}

// Simulator runs started matches.
type Simulator interface {
	StartMatch(ctx context.Context, matchID, player1ID, player2ID uuid.UUID) error
	Forfeit(ctx context.Context, matchID, winnerID uuid.UUID) error
	StopMatch(matchID uuid.UUID)
}

// Notifier delivers events to connected players.
type Notifier interface {
	Send(playerID uuid.UUID, eventType string, payload interface{}) bool
	IsConnected(playerID uuid.UUID) bool
}

// Options tunes an Engine.
type Options struct {
	PairingInterval time.Duration
	RatingTolerance int
}

// Engine owns the waiting queues, the pairing scheduler and the ready
// handshake.
type Engine struct {
	rdb      redis.UniversalClient
	repo     Repository
	sim      Simulator
	notifier Notifier
	locks    *cache.LockManager
	logger   *logrus.Logger

	interval  time.Duration
	tolerance int

	// Now is the wall clock. Tests replace it.
	Now func() time.Time

	pairing atomic.Bool

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewEngine(rdb redis.UniversalClient, repo Repository, sim Simulator, notifier Notifier, logger *logrus.Logger, opts Options) *Engine {
	if opts.PairingInterval <= 0 {
		opts.PairingInterval = defaultPairingInterval
	}
	if opts.RatingTolerance <= 0 {
		opts.RatingTolerance = defaultRatingTolerance
	}
	return &Engine{
		rdb:       rdb,
		repo:      repo,
		sim:       sim,
		notifier:  notifier,
		locks:     cache.NewLockManager(rdb),
		logger:    logger,
		interval:  opts.PairingInterval,
		tolerance: opts.RatingTolerance,
		Now:       time.Now,
	}
}

// Start launches the pairing scheduler.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.mu.Unlock()

	e.logger.Infof("matchmaking: pairing scheduler started (interval %s)", e.interval)

	e.wg.Add(1)
	go e.loop(ctx)
}

// Stop halts the scheduler and waits for in-flight cycles.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("matchmaking: pairing scheduler stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				if _, err := e.RunPairingCycle(ctx); err != nil {
					e.logger.Warnf("matchmaking: pairing cycle failed: %v", err)
				}
			}()
		}
	}
}
