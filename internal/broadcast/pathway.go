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

// PathwayEvent is the bus-side shape of a pathway publish. EntityToSession
// maps each player-authored pathway's entity to the session that produced it,
// letting the receiving pod suppress the echo to the author; it never reaches
// clients.
type PathwayEvent struct {
	Pathways        []json.RawMessage `json:"pathways"`
	AffectedChunks  []world.ChunkRef  `json:"affectedChunks"`
	EntityToSession map[string]string `json:"entityToSession,omitempty"`
}

type pathwayClientPayload struct {
	Pathways       []json.RawMessage `json:"pathways"`
	AffectedChunks []world.ChunkRef  `json:"affectedChunks"`
}

// pathwayAuthor pulls the authoring entity out of an otherwise opaque pathway.
type pathwayAuthor struct {
	EntityID string `json:"entityId"`
}

// PathwayListener fans predicted entity pathways out to the sessions watching
// any affected chunk. Pathways authored by a session that lives on this pod
// are dropped before scoping so the author never sees its own pathway back;
// pathways without a mapped local owner (simulation-driven entities, remote
// players) pass through untouched.
type PathwayListener struct {
	bus      bus.Bus
	engine   *Engine
	registry *session.Registry
}

// NewPathwayListener creates the pathway fan-out listener.
func NewPathwayListener(b bus.Bus, engine *Engine, registry *session.Registry) *PathwayListener {
	return &PathwayListener{bus: b, engine: engine, registry: registry}
}

// Run subscribes across all worlds and processes pathway events until the
// context is cancelled or the subscription closes.
func (l *PathwayListener) Run(ctx context.Context) error {
	sub, err := l.bus.PSubscribe(ctx, bus.Pattern(protocol.EventPathway))
	if err != nil {
		return fmt.Errorf("pathway listener failed to subscribe: %w", err)
	}
	defer sub.Close()

	logrus.WithField("pattern", bus.Pattern(protocol.EventPathway)).Info("Pathway listener started")
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

func (l *PathwayListener) handle(msg bus.Message) {
	worldID, ok := bus.WorldID(msg.Channel, protocol.EventPathway)
	if !ok {
		logrus.WithField("channel", msg.Channel).Warn("Discarding pathway event on unrecognized channel")
		return
	}

	var ev PathwayEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		logrus.WithError(err).WithField("world", worldID).Warn("Dropping malformed pathway event")
		return
	}

	kept := l.filterLocallyAuthored(ev)
	if len(kept) == 0 {
		return
	}

	chunks := world.DedupCoords(world.Coords(ev.AffectedChunks))
	l.engine.DeliverToWorldChunks(worldID, protocol.EventPathway, pathwayClientPayload{
		Pathways:       kept,
		AffectedChunks: ev.AffectedChunks,
	}, "", chunks)
}

// filterLocallyAuthored removes pathways whose authoring session is held by
// this pod. A pathway that cannot be attributed is kept.
func (l *PathwayListener) filterLocallyAuthored(ev PathwayEvent) []json.RawMessage {
	if len(ev.EntityToSession) == 0 {
		return ev.Pathways
	}
	kept := make([]json.RawMessage, 0, len(ev.Pathways))
	for _, raw := range ev.Pathways {
		var author pathwayAuthor
		if err := json.Unmarshal(raw, &author); err != nil {
			logrus.WithError(err).Warn("Skipping undecodable pathway")
			continue
		}
		if sid, ok := ev.EntityToSession[author.EntityID]; ok && l.registry.Has(sid) {
			continue
		}
		kept = append(kept, raw)
	}
	return kept
}
