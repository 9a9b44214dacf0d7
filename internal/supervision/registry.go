// internal/supervision/registry.go
package supervision

import (
	"sync"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
)

// Registry holds the live sessions keyed by (route, date). The lock protects
// only the map; session internals are owned by the session's single writer.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func key(route string, date time.Time) string {
	return route + "|" + domain.DateKey(date)
}

// Get returns the live session for (route, date), or nil.
func (r *Registry) Get(route string, date time.Time) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key(route, date)]
}

// Put registers a session, replacing any prior entry for the key.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[key(s.Route(), s.Date())] = s
}

// Remove drops the session for (route, date).
func (r *Registry) Remove(route string, date time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key(route, date))
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
