package session

import (
	"sync"
	"time"

	"github.com/worldgate/server/internal/world"
)

// Transport is the send side of a client connection. Implementations must
// serialize writes to the underlying connection; Send is called concurrently
// by bus listener fan-outs.
type Transport interface {
	// Send queues one outbound message. It returns an error when the
	// connection is closed or its buffer is full; callers treat that as a
	// delivery failure for this one message, not a fatal condition.
	Send(payload []byte) error
	Close() error
}

// Position is a world-space location.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation is a view direction.
type Rotation struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// Movement is the last movement state reported by a session's client, consumed
// by the pathway broadcast ticker.
type Movement struct {
	Position  Position
	Rotation  Rotation
	UpdatedAt time.Time
	Changed   bool
}

// Session is one live client connection. It is created unauthenticated at
// connection accept and promoted by the login flow. All mutable state is
// guarded for one writer (the connection's own message loop) and many
// concurrent readers (bus listener fan-outs).
type Session struct {
	transport Transport

	mu            sync.RWMutex
	id            string
	authenticated bool
	userID        string
	displayName   string
	worldID       string
	chunks        map[world.ChunkCoord]struct{}
	lastActivity  time.Time
	movement      Movement
}

// New creates an unauthenticated session with the given initial id.
func New(id string, transport Transport) *Session {
	return &Session{
		transport:    transport,
		id:           id,
		chunks:       make(map[world.ChunkCoord]struct{}),
		lastActivity: time.Now(),
	}
}

// ID returns the current session id. The id is replaced once by the login
// flow when the identity service resumes an existing session.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// Authenticated reports whether the login flow has promoted this session.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Authenticate promotes the session with its identity and world binding.
func (s *Session) Authenticate(userID, displayName, worldID string) {
	s.mu.Lock()
	s.authenticated = true
	s.userID = userID
	s.displayName = displayName
	s.worldID = worldID
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// UserID returns the authenticated user id, empty before login.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// DisplayName returns the authenticated display name, empty before login.
func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

// WorldID returns the world this session is bound to, empty before login.
func (s *Session) WorldID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worldID
}

// SetChunks replaces the session's chunk interest set wholesale. The previous
// set is discarded even when coords is empty.
func (s *Session) SetChunks(coords []world.ChunkCoord) {
	next := make(map[world.ChunkCoord]struct{}, len(coords))
	for _, c := range coords {
		next[c] = struct{}{}
	}
	s.mu.Lock()
	s.chunks = next
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// HasChunk reports whether the session has registered interest in the chunk.
func (s *Session) HasChunk(c world.ChunkCoord) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chunks[c]
	return ok
}

// Chunks returns a snapshot of the registered chunk set.
func (s *Session) Chunks() []world.ChunkCoord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]world.ChunkCoord, 0, len(s.chunks))
	for c := range s.chunks {
		out = append(out, c)
	}
	return out
}

// ChunkCount returns the size of the registered chunk set.
func (s *Session) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Touch records client activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the last client activity.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// UpdateMovement records the latest client-reported position and rotation.
func (s *Session) UpdateMovement(pos Position, rot Rotation) {
	now := time.Now()
	s.mu.Lock()
	s.movement = Movement{Position: pos, Rotation: rot, UpdatedAt: now, Changed: true}
	s.lastActivity = now
	s.mu.Unlock()
}

// TakeMovement returns the current movement state and clears its changed
// flag, so each position update feeds at most one pathway broadcast.
func (s *Session) TakeMovement() Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.movement
	s.movement.Changed = false
	return m
}

// Send delivers one serialized message to the session's client.
func (s *Session) Send(payload []byte) error {
	return s.transport.Send(payload)
}

// Close closes the underlying transport.
func (s *Session) Close() error {
	return s.transport.Close()
}
