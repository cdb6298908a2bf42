// Package broadcast turns bus events back into precisely scoped deliveries to
// the sessions held by this pod. The Engine owns the selection rule; the
// listeners in this package decode bus messages, derive the affected chunks,
// and hand the client-safe payload to the Engine.
package broadcast

import (
	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/protocol"
	"github.com/worldgate/server/internal/session"
	"github.com/worldgate/server/internal/world"
)

// Engine computes the qualifying local sessions for an event and delivers the
// serialized envelope to each.
type Engine struct {
	registry *session.Registry
}

// NewEngine creates an engine over the pod's session registry.
func NewEngine(registry *session.Registry) *Engine {
	return &Engine{registry: registry}
}

// DeliverToWorld sends one event to every qualifying session and returns how
// many sessions it reached. A session qualifies when it is authenticated,
// bound to worldID, not the excluded origin, and, when chunk is non-nil, has
// that chunk in its interest set. A nil chunk means world-wide delivery.
func (e *Engine) DeliverToWorld(worldID, eventTag string, payload any, excludeSessionID string, chunk *world.ChunkCoord) int {
	if chunk == nil {
		return e.deliver(worldID, eventTag, payload, excludeSessionID, nil)
	}
	return e.deliver(worldID, eventTag, payload, excludeSessionID, []world.ChunkCoord{*chunk})
}

// DeliverToWorldChunks sends one event scoped to a chunk list. The qualifying
// sessions are the union over all listed chunks, so a session registered on
// several of them still receives the event exactly once. An empty list means
// world-wide delivery.
func (e *Engine) DeliverToWorldChunks(worldID, eventTag string, payload any, excludeSessionID string, chunks []world.ChunkCoord) int {
	return e.deliver(worldID, eventTag, payload, excludeSessionID, chunks)
}

func (e *Engine) deliver(worldID, eventTag string, payload any, excludeSessionID string, chunks []world.ChunkCoord) int {
	frame, err := protocol.Encode(eventTag, payload)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"world": worldID,
			"event": eventTag,
		}).Error("Failed to encode broadcast envelope")
		return 0
	}

	delivered := 0
	for _, s := range e.registry.All() {
		if !s.Authenticated() || s.WorldID() != worldID {
			continue
		}
		if excludeSessionID != "" && s.ID() == excludeSessionID {
			continue
		}
		if len(chunks) > 0 && !hasAnyChunk(s, chunks) {
			continue
		}
		// One failed send must not abort the remaining deliveries.
		if err := s.Send(frame); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"session": s.ID(),
				"world":   worldID,
				"event":   eventTag,
			}).Warn("Failed to deliver broadcast to session")
			continue
		}
		delivered++
	}
	return delivered
}

func hasAnyChunk(s *session.Session, chunks []world.ChunkCoord) bool {
	for _, c := range chunks {
		if s.HasChunk(c) {
			return true
		}
	}
	return false
}
