// Package registry tracks live connections and bridges the session engine
// to the transport layer through buffered per-connection event channels.
package registry

import (
	"fmt"
	"sync"
)

// Conn is the addressable handle for a single live connection. The engine
// pushes encoded payloads into it; the gateway's writer goroutine drains
// Events to the underlying socket. Pushes for one connection are drained
// in push order.
type Conn struct {
	id     string
	events chan []byte
	mu     sync.Mutex
	closed bool
}

// NewConn creates a Conn for the given connection identifier.
//
// Precondition: id must be non-empty.
// Postcondition: Returns a Conn with an open events channel.
func NewConn(id string, bufferSize int) *Conn {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Conn{
		id:     id,
		events: make(chan []byte, bufferSize),
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// Push enqueues payload for delivery. It never blocks.
//
// Postcondition: payload is enqueued, or an error is returned if the
// connection is closed or its buffer is full.
func (c *Conn) Push(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection %s is closed", c.id)
	}
	select {
	case c.events <- payload:
		return nil
	default:
		return fmt.Errorf("connection %s send buffer full", c.id)
	}
}

// Events returns the read-only delivery channel. The transport writer
// reads from this channel until it is closed.
func (c *Conn) Events() <-chan []byte {
	return c.events
}

// Close marks the connection closed and closes the events channel.
//
// Postcondition: Further Push calls fail. Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// IsClosed reports whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
