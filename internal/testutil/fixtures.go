package testutil

import (
	"github.com/google/uuid"

	"github.com/worldgate/server/internal/session"
)

// NewSession creates an unauthenticated session over a fresh recording
// transport and returns both.
func NewSession() (*session.Session, *RecordingTransport) {
	tr := NewRecordingTransport()
	return session.New(uuid.NewString(), tr), tr
}

// NewAuthenticatedSession creates a session already promoted into the given
// world, registered under the given session id.
func NewAuthenticatedSession(id, userID, displayName, worldID string) (*session.Session, *RecordingTransport) {
	tr := NewRecordingTransport()
	s := session.New(id, tr)
	s.Authenticate(userID, displayName, worldID)
	return s, tr
}
