package api

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/broadcast"
	"github.com/worldgate/server/internal/bus"
	"github.com/worldgate/server/internal/protocol"
	"github.com/worldgate/server/internal/session"
	"github.com/worldgate/server/internal/world"
)

type movementRequest struct {
	P session.Position `json:"p"`
	R session.Rotation `json:"r"`
}

// handleMovement records the session's position and publishes the enriched
// movement to the bus. The session's current chunk rides along as a routing
// hint so receiving pods scope the fan-out without re-deriving it.
func (h *Handler) handleMovement(ctx context.Context, sess *session.Session, env *protocol.Envelope) {
	var req movementRequest
	if err := json.Unmarshal(env.D, &req); err != nil {
		logrus.WithError(err).WithField("session", sess.ID()).Warn("Dropping malformed movement")
		return
	}

	sess.UpdateMovement(req.P, req.R)
	chunk := world.ChunkAt(req.P.X, req.P.Z)

	payload, err := json.Marshal(broadcast.MovementEvent{
		SessionID:   sess.ID(),
		UserID:      sess.UserID(),
		DisplayName: sess.DisplayName(),
		P:           req.P,
		R:           req.R,
		CX:          chunk.CX,
		CZ:          chunk.CZ,
	})
	if err != nil {
		logrus.WithError(err).WithField("session", sess.ID()).Error("Failed to marshal movement event")
		return
	}
	h.publish(ctx, sess, protocol.EventMovement, payload)
}

// effectProbe validates the routing fields of an effect payload before it is
// forwarded opaquely.
type effectProbe struct {
	EffectID string           `json:"effectId"`
	Chunks   []world.ChunkRef `json:"chunks"`
}

// handleEffect forwards an effect trigger or update to the bus as received.
// Scoping happens on the subscribe side from the payload's chunk list.
func (h *Handler) handleEffect(ctx context.Context, sess *session.Session, env *protocol.Envelope) {
	var probe effectProbe
	if err := json.Unmarshal(env.D, &probe); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session": sess.ID(),
			"event":   env.T,
		}).Warn("Dropping malformed effect")
		return
	}
	if probe.EffectID == "" {
		logrus.WithFields(logrus.Fields{
			"session": sess.ID(),
			"event":   env.T,
		}).Warn("Dropping effect without effectId")
		return
	}
	h.publish(ctx, sess, env.T, env.D)
}

// handlePathway publishes client-authored pathways. The entity-to-session map
// is rebuilt from the sending session so a client cannot attribute pathways
// to someone else's session.
func (h *Handler) handlePathway(ctx context.Context, sess *session.Session, env *protocol.Envelope) {
	var ev broadcast.PathwayEvent
	if err := json.Unmarshal(env.D, &ev); err != nil {
		logrus.WithError(err).WithField("session", sess.ID()).Warn("Dropping malformed pathway message")
		return
	}
	if len(ev.Pathways) == 0 {
		logrus.WithField("session", sess.ID()).Debug("Dropping pathway message without pathways")
		return
	}

	ev.EntityToSession = make(map[string]string, len(ev.Pathways))
	for _, raw := range ev.Pathways {
		var author struct {
			EntityID string `json:"entityId"`
		}
		if err := json.Unmarshal(raw, &author); err != nil || author.EntityID == "" {
			continue
		}
		ev.EntityToSession[author.EntityID] = sess.ID()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).WithField("session", sess.ID()).Error("Failed to marshal pathway event")
		return
	}
	h.publish(ctx, sess, protocol.EventPathway, payload)
}

func (h *Handler) publish(ctx context.Context, sess *session.Session, eventTag string, payload []byte) {
	channel := bus.Channel(sess.WorldID(), eventTag)
	if err := h.bus.Publish(ctx, channel, payload); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session": sess.ID(),
			"channel": channel,
		}).Warn("Failed to publish client event")
	}
}
