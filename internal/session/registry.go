package session

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/world"
)

// Registry is the pod-wide table of live sessions. It is written by the
// connection lifecycle and read concurrently by every bus listener fan-out.
// There is no global lock around fan-out: All returns a snapshot slice, so a
// session added or removed mid-iteration may or may not see that one
// broadcast.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register adds a session under its current id.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	logrus.WithField("session_id", s.ID()).Debug("session registered")
}

// Remove deletes a session by id and returns it, or nil when unknown.
func (r *Registry) Remove(sessionID string) *Session {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if ok {
		logrus.WithField("session_id", sessionID).Debug("session removed")
		return s
	}
	return nil
}

// Get returns the session with the given id, or nil.
func (r *Registry) Get(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Has reports whether a session with the given id is registered.
func (r *Registry) Has(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// All returns a snapshot of the current sessions, safe to iterate while the
// registry is mutated concurrently.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetIdentity re-keys a session to the id assigned by the login flow. The old
// entry is removed so broadcasts never deliver twice to one connection.
func (r *Registry) SetIdentity(s *Session, sessionID string) {
	oldID := s.ID()
	r.mu.Lock()
	delete(r.sessions, oldID)
	s.setID(sessionID)
	r.sessions[sessionID] = s
	r.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"previous":   oldID,
	}).Debug("session identity assigned")
}

// ChunksForWorld returns the de-duplicated union of registered chunks across
// all authenticated sessions bound to the given world. This is the pod's
// answer to a chunk-list scatter/gather request.
func (r *Registry) ChunksForWorld(worldID string) []world.ChunkCoord {
	seen := make(map[world.ChunkCoord]struct{})
	out := []world.ChunkCoord{}
	for _, s := range r.All() {
		if !s.Authenticated() || s.WorldID() != worldID {
			continue
		}
		for _, c := range s.Chunks() {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
