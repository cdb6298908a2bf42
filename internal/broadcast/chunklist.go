package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/bus"
	"github.com/worldgate/server/internal/protocol"
	"github.com/worldgate/server/internal/session"
	"github.com/worldgate/server/internal/world"
)

// ChunkListRequest asks every pod of a world for its watched chunk set. The
// request id correlates the scattered responses.
type ChunkListRequest struct {
	RequestID string `json:"requestId"`
}

// ChunkListResponse is one pod's answer: the de-duplicated union of chunk
// interest across its authenticated sessions in the world at the moment the
// request arrived.
type ChunkListResponse struct {
	RequestID string             `json:"requestId"`
	PodID     string             `json:"podId"`
	Chunks    []world.ChunkCoord `json:"chunks"`
}

// ChunkListResponder answers cluster-wide chunk interest queries for the
// worlds this pod serves. Each request gets at most one response from this
// pod; aggregation across pods happens on the requesting side.
type ChunkListResponder struct {
	bus      bus.Bus
	registry *session.Registry
	podID    string
	worlds   []string
}

// NewChunkListResponder creates the scatter/gather responder.
func NewChunkListResponder(b bus.Bus, registry *session.Registry, podID string, worlds []string) *ChunkListResponder {
	return &ChunkListResponder{bus: b, registry: registry, podID: podID, worlds: worlds}
}

// Run subscribes per configured world and answers requests until the context
// is cancelled or the subscription closes.
func (l *ChunkListResponder) Run(ctx context.Context) error {
	channels := make([]string, len(l.worlds))
	for i, w := range l.worlds {
		channels[i] = bus.Channel(w, protocol.EventChunkListReq)
	}
	sub, err := l.bus.Subscribe(ctx, channels...)
	if err != nil {
		return fmt.Errorf("chunk-list responder failed to subscribe: %w", err)
	}
	defer sub.Close()

	logrus.WithFields(logrus.Fields{"pod": l.podID, "worlds": l.worlds}).Info("Chunk-list responder started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			l.handle(ctx, msg)
		}
	}
}

func (l *ChunkListResponder) handle(ctx context.Context, msg bus.Message) {
	worldID, ok := bus.WorldID(msg.Channel, protocol.EventChunkListReq)
	if !ok {
		logrus.WithField("channel", msg.Channel).Warn("Discarding chunk-list request on unrecognized channel")
		return
	}

	var req ChunkListRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		logrus.WithError(err).WithField("world", worldID).Warn("Dropping malformed chunk-list request")
		return
	}
	if req.RequestID == "" {
		logrus.WithField("world", worldID).Warn("Dropping chunk-list request without request id")
		return
	}

	chunks := l.registry.ChunksForWorld(worldID)
	payload, err := json.Marshal(ChunkListResponse{
		RequestID: req.RequestID,
		PodID:     l.podID,
		Chunks:    chunks,
	})
	if err != nil {
		logrus.WithError(err).WithField("world", worldID).Error("Failed to marshal chunk-list response")
		return
	}
	if err := l.bus.Publish(ctx, bus.Channel(worldID, protocol.EventChunkListResp), payload); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"world":   worldID,
			"request": req.RequestID,
		}).Warn("Failed to publish chunk-list response")
		return
	}
	logrus.WithFields(logrus.Fields{
		"world":   worldID,
		"request": req.RequestID,
		"chunks":  len(chunks),
	}).Debug("Answered chunk-list request")
}

// ChunkListRequester is the gathering side: it publishes a request and
// collects per-pod responses until the wait window elapses.
type ChunkListRequester struct {
	bus bus.Bus
}

// NewChunkListRequester creates the scatter/gather requester.
func NewChunkListRequester(b bus.Bus) *ChunkListRequester {
	return &ChunkListRequester{bus: b}
}

// Collect asks every pod serving worldID for its watched chunk set and
// returns the de-duplicated union of the responses received within wait,
// along with the number of pods that answered. Each pod is counted once even
// if the bus redelivers its response.
func (r *ChunkListRequester) Collect(ctx context.Context, worldID string, wait time.Duration) ([]world.ChunkCoord, int, error) {
	sub, err := r.bus.Subscribe(ctx, bus.Channel(worldID, protocol.EventChunkListResp))
	if err != nil {
		return nil, 0, fmt.Errorf("chunk-list requester failed to subscribe: %w", err)
	}
	defer sub.Close()

	requestID := uuid.NewString()
	payload, err := json.Marshal(ChunkListRequest{RequestID: requestID})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal chunk-list request: %w", err)
	}
	if err := r.bus.Publish(ctx, bus.Channel(worldID, protocol.EventChunkListReq), payload); err != nil {
		return nil, 0, fmt.Errorf("failed to publish chunk-list request: %w", err)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	var union []world.ChunkCoord
	answered := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return world.DedupCoords(union), len(answered), ctx.Err()
		case <-timer.C:
			return world.DedupCoords(union), len(answered), nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return world.DedupCoords(union), len(answered), nil
			}
			var resp ChunkListResponse
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				logrus.WithError(err).WithField("world", worldID).Warn("Dropping malformed chunk-list response")
				continue
			}
			if resp.RequestID != requestID {
				continue
			}
			if _, dup := answered[resp.PodID]; dup {
				continue
			}
			answered[resp.PodID] = struct{}{}
			union = append(union, resp.Chunks...)
		}
	}
}
