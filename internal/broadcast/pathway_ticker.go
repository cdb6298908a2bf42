package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/bus"
	"github.com/worldgate/server/internal/protocol"
	"github.com/worldgate/server/internal/session"
	"github.com/worldgate/server/internal/world"
)

// PathwayPoint is one timed waypoint of a predicted pathway. T is the unix
// millisecond timestamp the entity is expected to reach the point.
type PathwayPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	T int64   `json:"t"`
}

// Pathway is the predicted short-term path of one entity.
type Pathway struct {
	EntityID  string         `json:"entityId"`
	Waypoints []PathwayPoint `json:"waypoints"`
}

type pathwayPublish struct {
	Pathways        []Pathway          `json:"pathways"`
	AffectedChunks  []world.ChunkCoord `json:"affectedChunks"`
	EntityToSession map[string]string  `json:"entityToSession"`
}

// PathwayBroadcaster periodically turns the movement reported by local
// sessions into predicted pathways and publishes them per world. Prediction
// extrapolates each session's last observed displacement over the prediction
// window, so clients can interpolate between ticks.
type PathwayBroadcaster struct {
	bus        bus.Bus
	registry   *session.Registry
	interval   time.Duration
	prediction time.Duration
	staleAfter time.Duration

	// previous tick's positions by session id, for extrapolation
	last map[string]session.Position
}

// NewPathwayBroadcaster creates the pathway publish ticker. Movement older
// than staleAfter at tick time is not turned into a pathway; zero disables
// the cutoff.
func NewPathwayBroadcaster(b bus.Bus, registry *session.Registry, interval, prediction, staleAfter time.Duration) *PathwayBroadcaster {
	return &PathwayBroadcaster{
		bus:        b,
		registry:   registry,
		interval:   interval,
		prediction: prediction,
		staleAfter: staleAfter,
		last:       make(map[string]session.Position),
	}
}

// Run ticks until the context is cancelled. Only the broadcaster goroutine
// touches the extrapolation state.
func (p *PathwayBroadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logrus.WithField("interval", p.interval).Info("Pathway broadcaster started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			p.tick(ctx, now)
		}
	}
}

type worldBatch struct {
	pathways        []Pathway
	chunks          map[world.ChunkCoord]struct{}
	entityToSession map[string]string
}

func (p *PathwayBroadcaster) tick(ctx context.Context, now time.Time) {
	batches := make(map[string]*worldBatch)
	seen := make(map[string]struct{})

	for _, s := range p.registry.All() {
		if !s.Authenticated() {
			continue
		}
		sid := s.ID()
		seen[sid] = struct{}{}

		m := s.TakeMovement()
		if !m.Changed {
			continue
		}
		if p.staleAfter > 0 && now.Sub(m.UpdatedAt) > p.staleAfter {
			continue
		}

		predicted := p.predict(sid, m.Position)
		p.last[sid] = m.Position

		entityID := s.UserID()
		pw := Pathway{
			EntityID: entityID,
			Waypoints: []PathwayPoint{
				{X: m.Position.X, Y: m.Position.Y, Z: m.Position.Z, T: now.UnixMilli()},
				{X: predicted.X, Y: predicted.Y, Z: predicted.Z, T: now.Add(p.prediction).UnixMilli()},
			},
		}

		worldID := s.WorldID()
		batch, ok := batches[worldID]
		if !ok {
			batch = &worldBatch{
				chunks:          make(map[world.ChunkCoord]struct{}),
				entityToSession: make(map[string]string),
			}
			batches[worldID] = batch
		}
		batch.pathways = append(batch.pathways, pw)
		batch.entityToSession[entityID] = sid
		for _, wp := range pw.Waypoints {
			batch.chunks[world.ChunkAt(wp.X, wp.Z)] = struct{}{}
		}
	}

	// Drop extrapolation state for sessions that went away.
	for sid := range p.last {
		if _, ok := seen[sid]; !ok {
			delete(p.last, sid)
		}
	}

	for worldID, batch := range batches {
		p.publish(ctx, worldID, batch)
	}
}

// predict extrapolates the last observed displacement over the prediction
// window. A session seen for the first time gets its current position back.
func (p *PathwayBroadcaster) predict(sessionID string, pos session.Position) session.Position {
	prev, ok := p.last[sessionID]
	if !ok || p.interval <= 0 {
		return pos
	}
	scale := float64(p.prediction) / float64(p.interval)
	return session.Position{
		X: pos.X + (pos.X-prev.X)*scale,
		Y: pos.Y + (pos.Y-prev.Y)*scale,
		Z: pos.Z + (pos.Z-prev.Z)*scale,
	}
}

func (p *PathwayBroadcaster) publish(ctx context.Context, worldID string, batch *worldBatch) {
	chunks := make([]world.ChunkCoord, 0, len(batch.chunks))
	for c := range batch.chunks {
		chunks = append(chunks, c)
	}

	payload, err := json.Marshal(pathwayPublish{
		Pathways:        batch.pathways,
		AffectedChunks:  chunks,
		EntityToSession: batch.entityToSession,
	})
	if err != nil {
		logrus.WithError(err).WithField("world", worldID).Error("Failed to marshal pathway batch")
		return
	}
	if err := p.bus.Publish(ctx, bus.Channel(worldID, protocol.EventPathway), payload); err != nil {
		logrus.WithError(err).WithField("world", worldID).Warn("Failed to publish pathway batch")
	}
}
