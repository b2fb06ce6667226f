package network

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ConnectionRegistry tracks live connections across every listener.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*Connection),
	}
}

// Register adds a connection.
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
}

// Unregister removes and closes a connection.
func (r *ConnectionRegistry) Unregister(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()

	if ok {
		conn.Close()
	}
}

// Get returns a connection by id.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Count returns the number of live connections for a role, or for every
// role when role is empty.
func (r *ConnectionRegistry) Count(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role == "" {
		return len(r.conns)
	}
	n := 0
	for _, c := range r.conns {
		if c.Role() == role {
			n++
		}
	}
	return n
}

// CloseAll closes every registered connection.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.conns {
		conn.Close()
		delete(r.conns, id)
	}
	log.Info().Msg("all connections closed")
}

// CleanStale closes connections with no inbound data for longer than
// timeout and returns how many were closed.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleaned := 0
	cutoff := time.Now().Add(-timeout)
	for id, conn := range r.conns {
		if conn.LastActivity().Before(cutoff) {
			log.Warn().
				Str("conn_id", id).
				Str("role", string(conn.Role())).
				Time("last_activity", conn.LastActivity()).
				Msg("cleaned stale connection")
			conn.Close()
			delete(r.conns, id)
			cleaned++
		}
	}
	return cleaned
}

// Total returns the number of live connections across every role.
func (r *ConnectionRegistry) Total() int {
	return r.Count("")
}
