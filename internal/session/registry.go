// internal/session/registry.go
package session

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OutboxSize bounds the per-connection queue of undelivered server events.
const OutboxSize = 32

// Event is the envelope every server-to-client message travels in.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Connection is a single player's live socket as seen by the rest of the server.
type Connection struct {
	UserID  uuid.UUID
	OutChan chan []byte
	Cancel  func()
}

// NewConnection allocates a connection with a bounded outbox.
func NewConnection(userID uuid.UUID, cancel func()) *Connection {
	if cancel == nil {
		cancel = func() {}
	}
	return &Connection{
		UserID:  userID,
		OutChan: make(chan []byte, OutboxSize),
		Cancel:  cancel,
	}
}

// write pushes data onto the outbox without blocking. A full outbox drops the
// message.
func (c *Connection) write(data []byte) bool {
	select {
	case c.OutChan <- data:
		return true
	default:
		return false
	}
}

// Registry maps player ids to their live connection. At most one connection
// per player is tracked; registering again replaces the old one.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]*Connection
	logger *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]*Connection),
		logger: logger,
	}
}

// Register binds conn to its player, cancelling any connection it replaces.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	old, existed := r.conns[conn.UserID]
	r.conns[conn.UserID] = conn
	r.mu.Unlock()

	if existed && old != conn {
		r.logger.Infof("session: replacing connection for player %s", conn.UserID)
		old.Cancel()
	}
}

// Unregister drops whatever connection is bound to id.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Release unbinds conn only if it is still the current connection for its
// player. It reports whether the binding was removed, which tells the caller
// the player is really gone rather than reconnected elsewhere.
func (r *Registry) Release(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[conn.UserID]
	if !ok || cur != conn {
		return false
	}
	delete(r.conns, conn.UserID)
	return true
}

func (r *Registry) Lookup(id uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) IsConnected(id uuid.UUID) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Send delivers a typed event to a player if connected. Delivery is best
// effort: absent players and full outboxes are logged and ignored.
func (r *Registry) Send(id uuid.UUID, eventType string, payload interface{}) bool {
	conn, ok := r.Lookup(id)
	if !ok {
		r.logger.Debugf("session: player %s not connected, dropping %s", id, eventType)
		return false
	}

	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		r.logger.Warnf("session: failed to marshal %s for player %s: %v", eventType, id, err)
		return false
	}
	if !conn.write(data) {
		r.logger.Warnf("session: outbox full for player %s, dropped %s", id, eventType)
		return false
	}
	return true
}

// SendError is a convenience for the "error" event.
func (r *Registry) SendError(id uuid.UUID, message string) bool {
	return r.Send(id, "error", map[string]string{"message": message})
}

// Count returns the number of connected players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
