package game

import (
	"sync"

	"github.com/google/uuid"
)

// runnerStore is the registry of live match runners, indexed by match id and
// by each participant's player id.
type runnerStore struct {
	mu      sync.Mutex
	runners map[uuid.UUID]*matchRunner
	players map[uuid.UUID]*matchRunner
}

func newRunnerStore() *runnerStore {
	return &runnerStore{
		runners: make(map[uuid.UUID]*matchRunner),
		players: make(map[uuid.UUID]*matchRunner),
	}
}

// add registers r unless a runner for the same match already exists, in which
// case the existing one is returned with false.
func (s *runnerStore) add(r *matchRunner) (*matchRunner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runners[r.matchID]; ok {
		return existing, false
	}
	s.runners[r.matchID] = r
	s.players[r.player1ID] = r
	s.players[r.player2ID] = r
	return r, true
}

func (s *runnerStore) get(matchID uuid.UUID) (*matchRunner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[matchID]
	return r, ok
}

func (s *runnerStore) getByPlayer(playerID uuid.UUID) (*matchRunner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.players[playerID]
	return r, ok
}

// remove drops the runner for matchID and returns it, if present.
func (s *runnerStore) remove(matchID uuid.UUID) (*matchRunner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[matchID]
	if !ok {
		return nil, false
	}
	delete(s.runners, matchID)
	// a player may already belong to a newer match
	if s.players[r.player1ID] == r {
		delete(s.players, r.player1ID)
	}
	if s.players[r.player2ID] == r {
		delete(s.players, r.player2ID)
	}
	return r, true
}

func (s *runnerStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runners)
}
