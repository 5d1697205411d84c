package presence

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/verdant-game/verdant/pkg/messages"
)

// ErrNotPresent is returned for operations on a connection that has
// already left. Callers treat it as a benign race, not a failure.
var ErrNotPresent = errors.New("connection is not present")

// Entry is the live record of one joined connection.
type Entry struct {
	ConnectionID uuid.UUID
	PlayerID     int64
	Username     string
	Position     messages.Position
	MapID        int64
}

// Registry is the source of truth for who is online and where.
// A player identity is bound to at most one connection: a second join
// for the same player evicts the first.
type Registry struct {
	mu       sync.RWMutex
	byConn   map[uuid.UUID]*Entry
	byPlayer map[int64]uuid.UUID
}

func NewRegistry() *Registry {
	return &Registry{
		byConn:   make(map[uuid.UUID]*Entry),
		byPlayer: make(map[int64]uuid.UUID),
	}
}

// Join inserts an entry for the connection, evicting any entry already
// bound to the same player. The evicted entry, if any, is returned so the
// caller can terminate the stale session. Joining again with the same
// connection updates the existing entry.
func (r *Registry) Join(connectionID uuid.UUID, playerID int64, username string, position messages.Position, mapID int64) (Entry, *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted *Entry
	if prevConn, ok := r.byPlayer[playerID]; ok && prevConn != connectionID {
		if prev, ok := r.byConn[prevConn]; ok {
			prevCopy := *prev
			evicted = &prevCopy
			delete(r.byConn, prevConn)
		}
	}

	// A re-join from the same connection may carry a new identity.
	if prev, ok := r.byConn[connectionID]; ok && prev.PlayerID != playerID {
		delete(r.byPlayer, prev.PlayerID)
	}

	entry := &Entry{
		ConnectionID: connectionID,
		PlayerID:     playerID,
		Username:     username,
		Position:     position,
		MapID:        mapID,
	}
	r.byConn[connectionID] = entry
	r.byPlayer[playerID] = connectionID

	return *entry, evicted
}

// UpdatePosition moves the entry for the connection. It returns
// ErrNotPresent if the connection already left.
func (r *Registry) UpdatePosition(connectionID uuid.UUID, position messages.Position) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConn[connectionID]
	if !ok {
		return Entry{}, ErrNotPresent
	}
	entry.Position = position
	return *entry, nil
}

// Leave removes the entry for the connection and returns it. Leaving a
// connection that is not present returns ErrNotPresent; retries are no-ops.
func (r *Registry) Leave(connectionID uuid.UUID) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConn[connectionID]
	if !ok {
		return Entry{}, ErrNotPresent
	}
	delete(r.byConn, connectionID)
	if r.byPlayer[entry.PlayerID] == connectionID {
		delete(r.byPlayer, entry.PlayerID)
	}
	return *entry, nil
}

// Get returns the entry for the connection, if present.
func (r *Registry) Get(connectionID uuid.UUID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byConn[connectionID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// All returns a snapshot of every present entry.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.byConn))
	for _, entry := range r.byConn {
		entries = append(entries, *entry)
	}
	return entries
}

// Count returns the number of present connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
