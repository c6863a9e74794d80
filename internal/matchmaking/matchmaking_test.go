package matchmaking

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tamata3m3na-oss/game-sub000/internal/cache"
	"github.com/tamata3m3na-oss/game-sub000/internal/models"
)

type fakeRepo struct {
	mu      sync.Mutex
	users   map[uuid.UUID]models.User
	matches map[uuid.UUID]models.Match

	onCreate func(m *models.Match)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:   make(map[uuid.UUID]models.User),
		matches: make(map[uuid.UUID]models.Match),
	}
}

func (f *fakeRepo) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

func (f *fakeRepo) CreateMatch(_ context.Context, m *models.Match) error {
	f.mu.Lock()
	m.CreatedAt = time.Now()
	f.matches[m.ID] = *m
	hook := f.onCreate
	f.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return nil
}

func (f *fakeRepo) GetMatchByID(_ context.Context, id uuid.UUID) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &m, nil
}

func (f *fakeRepo) UpdateMatch(_ context.Context, m *models.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.matches[m.ID]; !ok {
		return models.ErrNotFound
	}
	f.matches[m.ID] = *m
	return nil
}

func (f *fakeRepo) CommitMatchResult(_ context.Context, m *models.Match, changes []models.RatingChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[m.ID] = *m
	for _, c := range changes {
		f.users[c.User.ID] = c.User
	}
	return nil
}

func (f *fakeRepo) onlyMatch(t *testing.T) models.Match {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.matches, 1)
	for _, m := range f.matches {
		return m
	}
	return models.Match{}
}

type fakeSim struct {
	mu       sync.Mutex
	started  []uuid.UUID
	stopped  []uuid.UUID
	forfeits map[uuid.UUID]uuid.UUID
	startErr error
}

func (s *fakeSim) StartMatch(_ context.Context, matchID, _, _ uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = append(s.started, matchID)
	return nil
}

func (s *fakeSim) StopMatch(matchID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, matchID)
}

func (s *fakeSim) failStart(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

func (s *fakeSim) Forfeit(_ context.Context, matchID, winnerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forfeits == nil {
		s.forfeits = make(map[uuid.UUID]uuid.UUID)
	}
	s.forfeits[matchID] = winnerID
	return nil
}

func (s *fakeSim) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.started)
}

type sentEvent struct {
	typ     string
	payload interface{}
}

type fakeNotifier struct {
	mu        sync.Mutex
	connected map[uuid.UUID]bool
	events    map[uuid.UUID][]sentEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		connected: make(map[uuid.UUID]bool),
		events:    make(map[uuid.UUID][]sentEvent),
	}
}

func (n *fakeNotifier) Send(id uuid.UUID, typ string, payload interface{}) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[id] = append(n.events[id], sentEvent{typ: typ, payload: payload})
	return true
}

func (n *fakeNotifier) IsConnected(id uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected[id]
}

func (n *fakeNotifier) of(id uuid.UUID, typ string) []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentEvent
	for _, e := range n.events[id] {
		if e.typ == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	repo     *fakeRepo
	sim      *fakeSim
	notifier *fakeNotifier
	engine   *Engine
	clock    time.Time
	logger   *logrus.Logger
}

func newFixture(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		mr:       mr,
		rdb:      rdb,
		repo:     newFakeRepo(),
		sim:      &fakeSim{},
		notifier: newFakeNotifier(),
		clock:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		logger:   logger,
	}
	f.engine = NewEngine(rdb, f.repo, f.sim, f.notifier, logger, Options{})
	f.engine.Now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) player(name string, rating int) uuid.UUID {
	id := uuid.New()
	f.repo.users[id] = models.User{ID: id, Username: name, Rating: rating}
	f.notifier.connected[id] = true
	return id
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *fixture) join(t *testing.T, id uuid.UUID) QueueStatus {
	st, err := f.engine.JoinQueue(context.Background(), id)
	require.NoError(t, err)
	return st
}

func (f *fixture) cycle(t *testing.T) int {
	n, err := f.engine.RunPairingCycle(context.Background())
	require.NoError(t, err)
	return n
}

// pair queues two players and runs the scheduler until they are matched.
func (f *fixture) pair(t *testing.T, a, b uuid.UUID) uuid.UUID {
	f.join(t, a)
	f.advance(time.Millisecond)
	f.join(t, b)
	f.advance(expeditedWait)
	require.Equal(t, 1, f.cycle(t))

	mid, err := f.rdb.Get(context.Background(), cache.PlayerMatchKey(a)).Result()
	require.NoError(t, err)
	return uuid.MustParse(mid)
}

func TestEstimatedWait(t *testing.T) {
	assert.Equal(t, 3, estimatedWait(1))
	assert.Equal(t, 3, estimatedWait(2))
	assert.Equal(t, 6, estimatedWait(3))
	assert.Equal(t, 15, estimatedWait(10))
}

func TestJoinQueueIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.player("alice", 1000)

	first := f.join(t, p)
	f.advance(time.Second)
	second := f.join(t, p)

	assert.Equal(t, QueueStatus{Position: 1, EstimatedWaitSeconds: 3}, first)
	assert.Equal(t, first, second)

	n, err := f.rdb.ZCard(ctx, cache.BracketKey(1000)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := f.rdb.SIsMember(ctx, cache.ActiveBracketsKey, "1000").Result()
	require.NoError(t, err)
	assert.True(t, active)

	entry, err := f.engine.loadEntry(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(-time.Second).UnixMilli(), entry.JoinedAt, "second join must not re-enqueue")
	assert.Equal(t, "alice", entry.Username)

	ttl := f.mr.TTL(cache.WaitingEntryKey(p))
	assert.Equal(t, waitingEntryTTL, ttl)
}

func TestJoinQueueRejectsPlayerWithMatch(t *testing.T) {
	f := newFixture(t)
	p := f.player("alice", 1000)
	require.NoError(t, f.rdb.Set(context.Background(), cache.PlayerMatchKey(p), uuid.NewString(), time.Minute).Err())

	_, err := f.engine.JoinQueue(context.Background(), p)
	assert.ErrorIs(t, err, ErrAlreadyInMatch)
}

func TestLeaveQueueBroadcastsPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.player("a", 1010), f.player("b", 1020), f.player("c", 1030)

	f.join(t, a)
	f.advance(time.Millisecond)
	f.join(t, b)
	f.advance(time.Millisecond)
	assert.Equal(t, QueueStatus{Position: 3, EstimatedWaitSeconds: 6}, f.join(t, c))

	st, err := f.engine.LeaveQueue(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, QueueStatus{}, st)

	bEvents := f.notifier.of(b, "queue:status")
	require.Len(t, bEvents, 1)
	assert.Equal(t, QueueStatus{Position: 1, EstimatedWaitSeconds: 3}, bEvents[0].payload)
	cEvents := f.notifier.of(c, "queue:status")
	require.Len(t, cEvents, 1)
	assert.Equal(t, QueueStatus{Position: 2, EstimatedWaitSeconds: 3}, cEvents[0].payload)

	st, err = f.engine.Status(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, QueueStatus{}, st)

	_, err = f.engine.LeaveQueue(ctx, b)
	require.NoError(t, err)
	_, err = f.engine.LeaveQueue(ctx, c)
	require.NoError(t, err)

	active, err := f.rdb.SIsMember(ctx, cache.ActiveBracketsKey, "1000").Result()
	require.NoError(t, err)
	assert.False(t, active, "empty bracket is deactivated")

	// leaving when not queued is harmless
	_, err = f.engine.LeaveQueue(ctx, a)
	assert.NoError(t, err)
}

func TestPairingAcrossBracketsAfterExpeditedWait(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1190), f.player("b", 1210)

	f.join(t, a)
	f.advance(time.Millisecond)
	f.join(t, b)

	f.advance(expeditedWait - time.Millisecond)
	assert.Equal(t, 0, f.cycle(t))
	f.advance(time.Millisecond)
	assert.Equal(t, 1, f.cycle(t))

	m := f.repo.onlyMatch(t)
	assert.Equal(t, models.MatchPending, m.Status)
	assert.Equal(t, a, m.Player1ID)
	assert.Equal(t, b, m.Player2ID)

	for _, p := range []uuid.UUID{a, b} {
		exists, err := f.rdb.Exists(ctx, cache.WaitingEntryKey(p)).Result()
		require.NoError(t, err)
		assert.Zero(t, exists)

		mid, err := f.rdb.Get(ctx, cache.PlayerMatchKey(p)).Result()
		require.NoError(t, err)
		assert.Equal(t, m.ID.String(), mid)
		assert.Equal(t, pendingMatchTTL, f.mr.TTL(cache.PlayerMatchKey(p)))
	}

	n, err := f.rdb.SCard(ctx, cache.ActiveBracketsKey).Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	found := f.notifier.of(a, "match:found")
	require.Len(t, found, 1)
	payload := found[0].payload.(map[string]interface{})
	assert.Equal(t, m.ID, payload["matchId"])
	assert.Equal(t, Opponent{ID: b, Username: "b", Rating: 1210}, payload["opponent"])
	require.Len(t, f.notifier.of(b, "match:found"), 1)

	pm, err := f.engine.LoadPendingMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, PendingAwaiting, pm.State)
	assert.False(t, pm.Player1Ready)
}

func TestPairingRespectsTolerance(t *testing.T) {
	f := newFixture(t)
	a, b := f.player("a", 1000), f.player("b", 1201)
	f.join(t, a)
	f.join(t, b)

	f.advance(time.Minute)
	assert.Equal(t, 0, f.cycle(t))
}

func TestLargePoolWaitsLongerAndPairsFIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.player("a", 1000), f.player("b", 1100), f.player("c", 1010)

	f.join(t, a)
	f.advance(10 * time.Millisecond)
	f.join(t, b)
	f.advance(10 * time.Millisecond)
	f.join(t, c)

	f.advance(time.Second)
	assert.Equal(t, 0, f.cycle(t), "three candidates use the standard threshold")

	f.advance(standardWait)
	assert.Equal(t, 1, f.cycle(t))

	// greedy by wait order: a takes b even though c is closer in rating
	m := f.repo.onlyMatch(t)
	assert.Equal(t, a, m.Player1ID)
	assert.Equal(t, b, m.Player2ID)

	st, err := f.engine.Status(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Position)
}

func TestNoRematchWithRecentOpponent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1000), f.player("b", 1050)

	mid := f.pair(t, a, b)
	require.NoError(t, f.engine.ReleaseMatch(ctx, mid, a, b))

	f.join(t, a)
	f.join(t, b)
	f.advance(time.Minute)
	assert.Equal(t, 0, f.cycle(t))

	f.mr.FastForward(recentOpponentTTL)
	assert.Equal(t, 1, f.cycle(t))
}

func TestStaleEntriesArePurged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1000), f.player("b", 1000)
	ghost := uuid.New()

	f.join(t, a)
	f.join(t, b)
	require.NoError(t, f.rdb.ZAdd(ctx, cache.BracketKey(1000), redis.Z{Score: 1, Member: ghost.String()}).Err())

	corrupt := uuid.New()
	require.NoError(t, f.rdb.ZAdd(ctx, cache.BracketKey(800), redis.Z{Score: 2, Member: corrupt.String()}).Err())
	require.NoError(t, f.rdb.SAdd(ctx, cache.ActiveBracketsKey, 800).Err())
	require.NoError(t, f.rdb.Set(ctx, cache.WaitingEntryKey(corrupt), "{not json", time.Minute).Err())

	f.advance(expeditedWait)
	assert.Equal(t, 1, f.cycle(t), "stale members do not count toward the pool")

	_, err := f.rdb.ZScore(ctx, cache.BracketKey(1000), ghost.String()).Result()
	assert.ErrorIs(t, err, redis.Nil)
	exists, err := f.rdb.Exists(ctx, cache.WaitingEntryKey(corrupt)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
	active, err := f.rdb.SIsMember(ctx, cache.ActiveBracketsKey, "800").Result()
	require.NoError(t, err)
	assert.False(t, active)
}

func TestPairingSkipsPartnerThatLeftMidCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.player("a", 1000), f.player("b", 1000), f.player("c", 1000)
	f.join(t, a)
	f.advance(time.Millisecond)
	f.join(t, b)
	f.advance(time.Millisecond)
	f.join(t, c)
	f.advance(standardWait)

	var once sync.Once
	f.repo.onCreate = func(*models.Match) {
		once.Do(func() {
			require.NoError(t, f.rdb.Del(ctx, cache.WaitingEntryKey(b)).Err())
		})
	}

	assert.Equal(t, 1, f.cycle(t))

	midA, err := f.rdb.Get(ctx, cache.PlayerMatchKey(a)).Result()
	require.NoError(t, err)
	midC, err := f.rdb.Get(ctx, cache.PlayerMatchKey(c)).Result()
	require.NoError(t, err)
	assert.Equal(t, midA, midC)

	_, err = f.rdb.Get(ctx, cache.PlayerMatchKey(b)).Result()
	assert.ErrorIs(t, err, redis.Nil)

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	require.Len(t, f.repo.matches, 2)
	for id, m := range f.repo.matches {
		if id.String() == midA {
			assert.Equal(t, models.MatchPending, m.Status)
			continue
		}
		assert.Equal(t, models.EndCancelled, m.EndReason)
	}
}

func TestOverlappingCyclesAreSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1000), f.player("b", 1000)
	f.join(t, a)
	f.join(t, b)
	f.advance(expeditedWait)

	f.engine.pairing.Store(true)
	assert.Equal(t, 0, f.cycle(t))
	f.engine.pairing.Store(false)

	require.NoError(t, f.rdb.Set(ctx, cache.PairingLockKey, "other-process", time.Second).Err())
	assert.Equal(t, 0, f.cycle(t))
	require.NoError(t, f.rdb.Del(ctx, cache.PairingLockKey).Err())

	assert.Equal(t, 1, f.cycle(t))
}

func TestConcurrentReadyStartsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1000), f.player("b", 1050)
	mid := f.pair(t, a, b)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		for _, p := range []uuid.UUID{a, b} {
			wg.Add(1)
			go func(p uuid.UUID) {
				defer wg.Done()
				_ = f.engine.MarkPlayerReady(ctx, p, mid)
			}(p)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, f.sim.startCount())
	require.Len(t, f.notifier.of(a, "match:start"), 1)
	require.Len(t, f.notifier.of(b, "match:start"), 1)

	startA := f.notifier.of(a, "match:start")[0].payload.(map[string]interface{})
	startB := f.notifier.of(b, "match:start")[0].payload.(map[string]interface{})
	assert.Equal(t, SideLeft, startA["assignedSide"])
	assert.Equal(t, SideRight, startB["assignedSide"])
	assert.Equal(t, Opponent{ID: b, Username: "b", Rating: 1050}, startA["opponent"])

	m := f.repo.onlyMatch(t)
	assert.Equal(t, models.MatchActive, m.Status)
	require.NotNil(t, m.StartedAt)
	assert.Equal(t, startedMatchTTL, f.mr.TTL(cache.PendingMatchKey(mid)))
	assert.Equal(t, startedMatchTTL, f.mr.TTL(cache.PlayerMatchKey(a)))

	assert.ErrorIs(t, f.engine.MarkPlayerReady(ctx, a, mid), ErrInvalidTransition)
}

func TestFailedSimulationStartCanBeRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1000), f.player("b", 1050)
	mid := f.pair(t, a, b)

	f.sim.failStart(errors.New("redis down"))
	require.NoError(t, f.engine.MarkPlayerReady(ctx, a, mid))
	err := f.engine.MarkPlayerReady(ctx, b, mid)
	require.Error(t, err)

	pm, err := f.engine.LoadPendingMatch(ctx, mid)
	require.NoError(t, err)
	assert.Equal(t, PendingAwaiting, pm.State)
	assert.Empty(t, f.notifier.of(a, "match:start"))
	assert.Empty(t, f.notifier.of(b, "match:start"))
	record := f.repo.onlyMatch(t)
	assert.Equal(t, models.MatchPending, record.Status)
	assert.Nil(t, record.StartedAt)

	lockHeld, err := f.rdb.Exists(ctx, cache.StartLockKey(mid)).Result()
	require.NoError(t, err)
	assert.Zero(t, lockHeld)

	f.sim.failStart(nil)
	require.NoError(t, f.engine.MarkPlayerReady(ctx, a, mid))
	assert.Equal(t, 1, f.sim.startCount())

	pm, err = f.engine.LoadPendingMatch(ctx, mid)
	require.NoError(t, err)
	assert.Equal(t, PendingStarted, pm.State)
	assert.Len(t, f.notifier.of(a, "match:start"), 1)
	assert.Len(t, f.notifier.of(b, "match:start"), 1)
	assert.Equal(t, models.MatchActive, f.repo.onlyMatch(t).Status)
}

func TestReadyDoesNotResurrectReleasedMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1000), f.player("b", 1050)
	mid := f.pair(t, a, b)

	pm, err := f.engine.LoadPendingMatch(ctx, mid)
	require.NoError(t, err)
	require.NoError(t, f.engine.ReleaseMatch(ctx, mid, a, b))

	_, err = f.engine.markReady(ctx, pm, a)
	assert.ErrorIs(t, err, ErrMatchNotFound)
	assert.False(t, f.mr.Exists(cache.PendingMatchKey(mid)))
}

func TestReadyOnStartedMatchLeavesFlagsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1000), f.player("b", 1050)
	mid := f.pair(t, a, b)

	pm, err := f.engine.LoadPendingMatch(ctx, mid)
	require.NoError(t, err)
	require.NoError(t, f.rdb.HSet(ctx, cache.PendingMatchKey(mid), "state", string(PendingStarted)).Err())

	_, err = f.engine.markReady(ctx, pm, a)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "0", f.mr.HGet(cache.PendingMatchKey(mid), "player1Ready"))
}

func TestMarkReadyValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1000), f.player("b", 1050)
	mid := f.pair(t, a, b)

	assert.ErrorIs(t, f.engine.MarkPlayerReady(ctx, a, uuid.New()), ErrMatchNotFound)
	assert.ErrorIs(t, f.engine.MarkPlayerReady(ctx, uuid.New(), mid), ErrNotParticipant)

	require.NoError(t, f.engine.MarkPlayerReady(ctx, a, mid))
	assert.Equal(t, 0, f.sim.startCount(), "one ready player does not start the match")

	pm, err := f.engine.LoadPendingMatch(ctx, mid)
	require.NoError(t, err)
	assert.True(t, pm.Player1Ready)
	assert.False(t, pm.Player2Ready)
}

func TestPendingTransitions(t *testing.T) {
	assert.True(t, PendingAwaiting.CanTransition(PendingStarted))
	assert.True(t, PendingAwaiting.CanTransition(PendingCompleted))
	assert.True(t, PendingStarted.CanTransition(PendingCompleted))
	assert.False(t, PendingStarted.CanTransition(PendingStarted))
	assert.False(t, PendingCompleted.CanTransition(PendingStarted))
	assert.False(t, PendingCompleted.CanTransition(PendingAwaiting))
}

func TestDisconnectBeforeStartRequeuesOpponent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1000), f.player("b", 1050)
	mid := f.pair(t, a, b)
	require.NoError(t, f.engine.MarkPlayerReady(ctx, b, mid))

	f.notifier.connected[a] = false
	require.NoError(t, f.engine.HandleDisconnect(ctx, a))

	m := f.repo.onlyMatch(t)
	assert.Equal(t, models.MatchCompleted, m.Status)
	assert.Nil(t, m.WinnerID)
	assert.Equal(t, models.EndCancelled, m.EndReason)

	_, err := f.engine.LoadPendingMatch(ctx, mid)
	assert.ErrorIs(t, err, ErrMatchNotFound)
	exists, err := f.rdb.Exists(ctx, cache.PlayerMatchKey(a), cache.PlayerMatchKey(b)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	st, err := f.engine.Status(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Position)
	assert.NotEmpty(t, f.notifier.of(b, "queue:status"))

	st, err = f.engine.Status(ctx, a)
	require.NoError(t, err)
	assert.Zero(t, st.Position)
	assert.Equal(t, 0, f.sim.startCount())
}

func TestDisconnectBeforeStartWithOfflineOpponent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1000), f.player("b", 1050)
	f.pair(t, a, b)

	f.notifier.connected[b] = false
	require.NoError(t, f.engine.HandleDisconnect(ctx, a))

	st, err := f.engine.Status(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, st.Position)
}

func TestDisconnectAfterStartForfeits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.player("a", 1000), f.player("b", 1050)
	mid := f.pair(t, a, b)
	require.NoError(t, f.engine.MarkPlayerReady(ctx, a, mid))
	require.NoError(t, f.engine.MarkPlayerReady(ctx, b, mid))

	require.NoError(t, f.engine.HandleDisconnect(ctx, b))
	assert.Equal(t, a, f.sim.forfeits[mid])
}

func TestDisconnectWhileWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.player("a", 1000)
	f.join(t, a)

	require.NoError(t, f.engine.HandleDisconnect(ctx, a))
	st, err := f.engine.Status(ctx, a)
	require.NoError(t, err)
	assert.Zero(t, st.Position)
}

func TestSchedulerStartStop(t *testing.T) {
	f := newFixture(t)
	f.engine.interval = 5 * time.Millisecond
	a, b := f.player("a", 1000), f.player("b", 1000)
	f.join(t, a)
	f.join(t, b)
	f.advance(expeditedWait)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.engine.Start(ctx)
	f.engine.Start(ctx)

	assert.Eventually(t, func() bool {
		return len(f.notifier.of(a, "match:found")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.engine.Stop()
	f.engine.Stop()
}
