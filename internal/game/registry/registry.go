package registry

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateConnection is returned when registering an identifier that
// is already live. Duplicates are rejected rather than overwritten so a
// reconnecting client can never splice into another client's session.
var ErrDuplicateConnection = errors.New("duplicate connection")

// ErrConnectionNotFound is returned when sending to an unknown identifier.
var ErrConnectionNotFound = errors.New("connection not found")

// ErrDeliveryFailed is returned when a payload cannot be handed to the
// transport. Callers should treat it as a disconnect signal for that
// connection, not as a fatal condition.
var ErrDeliveryFailed = errors.New("delivery failed")

// Registry maps connection identifiers to live Conn handles.
// All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	order []string // insertion order for ListActive
}

// NewRegistry creates an empty connection Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Register adds conn under the given identifier.
//
// Precondition: id must be non-empty; conn must be non-nil.
// Postcondition: The connection is active, or ErrDuplicateConnection is
// returned and the registry is unchanged.
func (r *Registry) Register(id string, conn *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateConnection, id)
	}
	r.conns[id] = conn
	r.order = append(r.order, id)
	return nil
}

// Unregister removes and closes the connection with the given identifier.
// Unknown identifiers are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[id]
	if !exists {
		return
	}
	_ = conn.Close()
	delete(r.conns, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Send delivers payload to the connection with the given identifier.
//
// Postcondition: Returns nil on success, ErrConnectionNotFound for an
// unknown identifier, or ErrDeliveryFailed wrapping the transport error.
func (r *Registry) Send(id string, payload []byte) error {
	r.mu.RLock()
	conn, exists := r.conns[id]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %q", ErrConnectionNotFound, id)
	}
	if err := conn.Push(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// ListActive returns a snapshot of active identifiers in insertion order.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the Conn for the given identifier.
//
// Postcondition: Returns (conn, true) if found, or (nil, false) otherwise.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Count returns the number of active connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
