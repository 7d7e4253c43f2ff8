// Package continuation implements the Context's GUID-keyed continuation
// map: a place to park a pending response handle (a websocket upgrade,
// a long-poll REST request) under a generated id, to be resolved later
// by whichever RPC handler produced it. The map sweeps expired entries
// on every insert rather than running its own ticker.
package continuation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names what a continuation is waiting to resolve.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindRest      Kind = "rest"
)

type entry struct {
	kind      Kind
	value     any
	expiresAt time.Time
}

// Map is safe for concurrent use.
type Map struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New returns an empty continuation map.
func New() *Map {
	return &Map{entries: make(map[string]entry)}
}

// NewID generates a fresh continuation id.
func NewID() string { return uuid.New().String() }

// Add sweeps expired entries, then inserts value under id with the
// given kind and time-to-live.
func (m *Map) Add(id string, kind Kind, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	m.entries[id] = entry{kind: kind, value: value, expiresAt: time.Now().Add(ttl)}
}

// Take removes and returns the value stored under id, if present and
// not expired.
func (m *Map) Take(id string) (any, Kind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || time.Now().After(e.expiresAt) {
		delete(m.entries, id)
		return nil, "", false
	}
	delete(m.entries, id)
	return e.value, e.kind, true
}

// Len reports the current number of live (possibly expired but not yet
// swept) entries.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Map) sweepLocked() {
	now := time.Now()
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, id)
		}
	}
}
