package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/bus"
	"github.com/worldgate/server/internal/protocol"
	"github.com/worldgate/server/internal/world"
)

// ChunkChangeEvent is the bus-side shape of a chunk content push, published by
// the storage pipeline after a chunk is written or removed. A set deleted flag
// tells clients to drop the chunk instead of replacing its content.
type ChunkChangeEvent struct {
	CX      int             `json:"cx"`
	CZ      int             `json:"cz"`
	Chunk   json.RawMessage `json:"chunk,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

// ChunkChangeListener pushes chunk content changes to the sessions watching
// the changed chunk. The payload is already client-safe on the wire and is
// forwarded as received.
type ChunkChangeListener struct {
	bus    bus.Bus
	engine *Engine
	worlds []string
}

// NewChunkChangeListener creates the chunk-change listener for the worlds this
// pod serves.
func NewChunkChangeListener(b bus.Bus, engine *Engine, worlds []string) *ChunkChangeListener {
	return &ChunkChangeListener{bus: b, engine: engine, worlds: worlds}
}

// Run subscribes per configured world and processes chunk-change events until
// the context is cancelled or the subscription closes.
func (l *ChunkChangeListener) Run(ctx context.Context) error {
	channels := make([]string, len(l.worlds))
	for i, w := range l.worlds {
		channels[i] = bus.Channel(w, protocol.EventChunkUpdate)
	}
	sub, err := l.bus.Subscribe(ctx, channels...)
	if err != nil {
		return fmt.Errorf("chunk-change listener failed to subscribe: %w", err)
	}
	defer sub.Close()

	logrus.WithField("worlds", l.worlds).Info("Chunk-change listener started")
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

func (l *ChunkChangeListener) handle(msg bus.Message) {
	worldID, ok := bus.WorldID(msg.Channel, protocol.EventChunkUpdate)
	if !ok {
		logrus.WithField("channel", msg.Channel).Warn("Discarding chunk-change event on unrecognized channel")
		return
	}

	var ev ChunkChangeEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		logrus.WithError(err).WithField("world", worldID).Warn("Dropping malformed chunk-change event")
		return
	}

	chunk := world.ChunkCoord{CX: ev.CX, CZ: ev.CZ}
	delivered := l.engine.DeliverToWorld(worldID, protocol.EventChunkUpdate, json.RawMessage(msg.Payload), "", &chunk)
	logrus.WithFields(logrus.Fields{
		"world":     worldID,
		"chunk":     chunk.Key(),
		"deleted":   ev.Deleted,
		"delivered": delivered,
	}).Debug("Chunk change fanned out")
}
