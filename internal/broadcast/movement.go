package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/bus"
	"github.com/worldgate/server/internal/protocol"
	"github.com/worldgate/server/internal/session"
	"github.com/worldgate/server/internal/world"
)

// MovementEvent is the bus-side shape of a movement publish. SessionID, CX and
// CZ are pod-internal routing hints stripped before the payload reaches a
// client.
type MovementEvent struct {
	SessionID   string           `json:"sessionId"`
	UserID      string           `json:"userId"`
	DisplayName string           `json:"displayName"`
	P           session.Position `json:"p"`
	R           session.Rotation `json:"r"`
	CX          int              `json:"cx"`
	CZ          int              `json:"cz"`
}

type movementClientPayload struct {
	UserID      string           `json:"userId"`
	DisplayName string           `json:"displayName"`
	P           session.Position `json:"p"`
	R           session.Rotation `json:"r"`
}

// MovementListener fans player movement out to the sessions watching the
// mover's current chunk. The originating session never receives its own
// movement back.
type MovementListener struct {
	bus    bus.Bus
	engine *Engine
}

// NewMovementListener creates the movement fan-out listener.
func NewMovementListener(b bus.Bus, engine *Engine) *MovementListener {
	return &MovementListener{bus: b, engine: engine}
}

// Run subscribes across all worlds and processes movement events until the
// context is cancelled or the subscription closes.
func (l *MovementListener) Run(ctx context.Context) error {
	sub, err := l.bus.PSubscribe(ctx, bus.Pattern(protocol.EventMovement))
	if err != nil {
		return fmt.Errorf("movement listener failed to subscribe: %w", err)
	}
	defer sub.Close()

	logrus.WithField("pattern", bus.Pattern(protocol.EventMovement)).Info("Movement listener started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			l.handle(msg)
		}
	}
}

func (l *MovementListener) handle(msg bus.Message) {
	worldID, ok := bus.WorldID(msg.Channel, protocol.EventMovement)
	if !ok {
		logrus.WithField("channel", msg.Channel).Warn("Discarding movement event on unrecognized channel")
		return
	}

	var ev MovementEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		logrus.WithError(err).WithField("world", worldID).Warn("Dropping malformed movement event")
		return
	}
	if ev.SessionID == "" {
		logrus.WithField("world", worldID).Warn("Dropping movement event without origin session")
		return
	}

	chunk := world.ChunkCoord{CX: ev.CX, CZ: ev.CZ}
	l.engine.DeliverToWorld(worldID, protocol.EventMovement, movementClientPayload{
		UserID:      ev.UserID,
		DisplayName: ev.DisplayName,
		P:           ev.P,
		R:           ev.R,
	}, ev.SessionID, &chunk)
}
