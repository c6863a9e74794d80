package game

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/tamata3m3na-oss/game-sub000/internal/models"
)

// Tuning.
const (
	ArenaWidth  = 100.0
	ArenaHeight = 100.0

	TicksPerSecond   = 20
	TickInterval     = time.Second / TicksPerSecond
	MoveSpeed        = 20.0 // units per second
	MoveSpeedPerTick = MoveSpeed / TicksPerSecond

	MaxHealth = 100

	FireCooldownTicks = 20
	BulletDamage      = 10
	BulletMaxRange    = 50.0
	BulletHitRadius   = 2.0
	// BulletSpeed is advertised to clients for effects only. Hits are resolved
	// instantly.
	BulletSpeed = 100.0

	ShieldMaxHealth     = 50
	ShieldDurationTicks = 60
	AbilityCooldown     = 5000 * time.Millisecond

	TimeLimit = 5 * time.Minute

	// Input sanity bounds.
	MaxInputLead     = 1000 * time.Millisecond
	MaxMoveMagnitude = 1.1
	maxMoveComponent = 1.0
)

var (
	spawn1 = PlayerState{X: 20, Y: 50, Rotation: 0}
	spawn2 = PlayerState{X: 80, Y: 50, Rotation: 180}
)

func newPlayerState(id uuid.UUID, spawn PlayerState) PlayerState {
	return PlayerState{
		ID:           id,
		X:            spawn.X,
		Y:            spawn.Y,
		Rotation:     spawn.Rotation,
		Health:       MaxHealth,
		FireReady:    true,
		AbilityReady: true,
	}
}

// NewGameState builds the tick-0 state with both players on their spawns.
func NewGameState(matchID, player1ID, player2ID uuid.UUID, now time.Time) *GameState {
	return &GameState{
		MatchID:   matchID,
		Player1:   newPlayerState(player1ID, spawn1),
		Player2:   newPlayerState(player2ID, spawn2),
		Tick:      0,
		Timestamp: now.UnixMilli(),
		Status:    StatusActive,
	}
}

// ValidateInput rejects frames stamped too far in the future or with an
// out-of-range move vector.
func ValidateInput(in PlayerInput, now time.Time) bool {
	if in.Timestamp > now.Add(MaxInputLead).UnixMilli() {
		return false
	}
	if math.IsNaN(in.MoveX) || math.IsNaN(in.MoveY) {
		return false
	}
	if math.Abs(in.MoveX) > maxMoveComponent || math.Abs(in.MoveY) > maxMoveComponent {
		return false
	}
	return math.Hypot(in.MoveX, in.MoveY) <= MaxMoveMagnitude
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ApplyMovement moves p one tick along the normalized input vector.
func ApplyMovement(p *PlayerState, in PlayerInput) {
	mag := math.Hypot(in.MoveX, in.MoveY)
	if mag == 0 {
		return
	}
	nx := in.MoveX / mag
	ny := in.MoveY / mag

	p.X = clamp(p.X+nx*MoveSpeedPerTick, 0, ArenaWidth)
	p.Y = clamp(p.Y+ny*MoveSpeedPerTick, 0, ArenaHeight)
	p.Rotation = math.Atan2(ny, nx) * 180 / math.Pi
}

// AdvanceCooldowns refreshes readiness flags. The ability runs on wall-clock
// time; the weapon and shield run on simulation ticks.
func AdvanceCooldowns(p *PlayerState, tick int64, now time.Time) {
	if !p.AbilityReady && now.UnixMilli()-p.LastAbilityActivationTime >= AbilityCooldown.Milliseconds() {
		p.AbilityReady = true
	}
	if !p.FireReady && tick >= p.FireReadyTick {
		p.FireReady = true
	}
	if p.ShieldActive && tick >= p.ShieldEndTick {
		p.ShieldActive = false
		p.ShieldHealth = 0
	}
}

// ApplyDamage hits target for dmg, draining an active shield first.
func ApplyDamage(target *PlayerState, dmg int) {
	if !target.ShieldActive {
		target.Health -= dmg
		return
	}
	remaining := target.ShieldHealth - dmg
	if remaining < 0 {
		target.Health += remaining
		target.ShieldHealth = 0
		target.ShieldActive = false
		return
	}
	target.ShieldHealth = remaining
}

// ResolveFire performs an instantaneous proximity hit test from shooter to
// target. It reports whether the target was hit.
func ResolveFire(shooter, target *PlayerState, tick int64) bool {
	if !shooter.FireReady {
		return false
	}
	dist := math.Hypot(target.X-shooter.X, target.Y-shooter.Y)
	if dist > BulletMaxRange {
		return false
	}
	if dist > BulletHitRadius {
		return false
	}

	ApplyDamage(target, BulletDamage)
	shooter.DamageDealt += BulletDamage
	shooter.FireReady = false
	shooter.FireReadyTick = tick + FireCooldownTicks
	return true
}

// ActivateAbility raises a full shield if the ability is off cooldown.
func ActivateAbility(p *PlayerState, tick int64, now time.Time) bool {
	if !p.AbilityReady {
		return false
	}
	p.ShieldActive = true
	p.ShieldHealth = ShieldMaxHealth
	p.ShieldEndTick = tick + ShieldDurationTicks
	p.AbilityReady = false
	p.LastAbilityActivationTime = now.UnixMilli()
	return true
}

// Step advances s by one tick using at most one input per player. A nil input
// means the player sent nothing this tick.
func Step(s *GameState, in1, in2 *PlayerInput, now time.Time) {
	var none PlayerInput
	if in1 == nil {
		in1 = &none
	}
	if in2 == nil {
		in2 = &none
	}

	ApplyMovement(&s.Player1, *in1)
	ApplyMovement(&s.Player2, *in2)

	AdvanceCooldowns(&s.Player1, s.Tick, now)
	AdvanceCooldowns(&s.Player2, s.Tick, now)

	if in1.Fire {
		ResolveFire(&s.Player1, &s.Player2, s.Tick)
	}
	if in2.Fire {
		ResolveFire(&s.Player2, &s.Player1, s.Tick)
	}

	if in1.Ability {
		ActivateAbility(&s.Player1, s.Tick, now)
	}
	if in2.Ability {
		ActivateAbility(&s.Player2, s.Tick, now)
	}

	s.Tick++
	s.Timestamp = now.UnixMilli()
}

// Outcome is the result of an end-of-tick check.
type Outcome struct {
	Ended  bool
	Winner *uuid.UUID
	Reason models.EndReason
}

// CheckEnd applies the end rules in order: the time limit, then health.
// Player1 is examined first, so a double knockout goes to player2.
func CheckEnd(s *GameState, elapsed, limit time.Duration) Outcome {
	if elapsed >= limit && s.Winner == nil {
		return Outcome{Ended: true, Reason: models.EndTimeout}
	}
	if s.Player1.Health <= 0 {
		w := s.Player2.ID
		return Outcome{Ended: true, Winner: &w, Reason: models.EndDefeat}
	}
	if s.Player2.Health <= 0 {
		w := s.Player1.ID
		return Outcome{Ended: true, Winner: &w, Reason: models.EndDefeat}
	}
	return Outcome{}
}

// inputQueue is a bounded FIFO of pending inputs for one player. Producers
// never block: when full, the oldest frame is discarded.
type inputQueue chan PlayerInput

// InputBufferSize is the per-player input backlog.
const InputBufferSize = 10

func newInputQueue() inputQueue {
	return make(inputQueue, InputBufferSize)
}

func (q inputQueue) push(in PlayerInput) {
	for {
		select {
		case q <- in:
			return
		default:
		}
		select {
		case <-q:
		default:
		}
	}
}

// pop returns the oldest buffered input, or nil if none.
func (q inputQueue) pop() *PlayerInput {
	select {
	case in := <-q:
		return &in
	default:
		return nil
	}
}
