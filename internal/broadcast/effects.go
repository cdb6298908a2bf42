package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/bus"
	"github.com/worldgate/server/internal/world"
)

// effectEvent carries only the routing fields of an effect publish; the rest
// of the payload is forwarded opaquely. An empty chunk list means the effect
// is visible world-wide.
type effectEvent struct {
	Chunks []world.ChunkRef `json:"chunks"`
}

// EffectListener fans effect triggers and effect updates out to the sessions
// watching any of the event's chunks. The origin session is not excluded;
// effect handling on the client side is idempotent to self-echo.
type EffectListener struct {
	bus      bus.Bus
	engine   *Engine
	worlds   []string
	eventTag string
}

// NewEffectListener creates a listener for one of the two effect tags
// (protocol.EventEffectTrigger or protocol.EventEffectUpdate) over the worlds
// this pod serves.
func NewEffectListener(b bus.Bus, engine *Engine, worlds []string, eventTag string) *EffectListener {
	return &EffectListener{bus: b, engine: engine, worlds: worlds, eventTag: eventTag}
}

// Run subscribes per configured world and processes effect events until the
// context is cancelled or the subscription closes.
func (l *EffectListener) Run(ctx context.Context) error {
	channels := make([]string, len(l.worlds))
	for i, w := range l.worlds {
		channels[i] = bus.Channel(w, l.eventTag)
	}
	sub, err := l.bus.Subscribe(ctx, channels...)
	if err != nil {
		return fmt.Errorf("effect listener failed to subscribe to %s: %w", l.eventTag, err)
	}
	defer sub.Close()

	logrus.WithFields(logrus.Fields{"event": l.eventTag, "worlds": l.worlds}).Info("Effect listener started")
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

func (l *EffectListener) handle(msg bus.Message) {
	worldID, ok := bus.WorldID(msg.Channel, l.eventTag)
	if !ok {
		logrus.WithField("channel", msg.Channel).Warn("Discarding effect event on unrecognized channel")
		return
	}

	var ev effectEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"world": worldID,
			"event": l.eventTag,
		}).Warn("Dropping malformed effect event")
		return
	}

	chunks := world.DedupCoords(world.Coords(ev.Chunks))
	l.engine.DeliverToWorldChunks(worldID, l.eventTag, json.RawMessage(msg.Payload), "", chunks)
}
