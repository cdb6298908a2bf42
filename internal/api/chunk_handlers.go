package api

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/protocol"
	"github.com/worldgate/server/internal/session"
	"github.com/worldgate/server/internal/world"
)

// chunkSelection is the payload of both c.r and c.q: an ordered list of chunk
// references.
type chunkSelection struct {
	C []world.ChunkRef `json:"c"`
}

type chunkBatch struct {
	Chunks []*world.ChunkTransfer `json:"chunks"`
}

// handleChunkRegister replaces the session's chunk interest set with the
// listed chunks. The previous set is discarded even when the list is empty.
// No reply; registration is the precondition for scoped broadcasts.
func (h *Handler) handleChunkRegister(sess *session.Session, env *protocol.Envelope) {
	var sel chunkSelection
	if err := json.Unmarshal(env.D, &sel); err != nil {
		logrus.WithError(err).WithField("session", sess.ID()).Warn("Dropping malformed chunk registration")
		return
	}

	sess.SetChunks(world.Coords(sel.C))
	logrus.WithFields(logrus.Fields{
		"session": sess.ID(),
		"world":   sess.WorldID(),
		"chunks":  sess.ChunkCount(),
	}).Debug("Chunk interest replaced")
}

// handleChunkQuery loads the listed chunks and answers with one batched c.u
// reply. Chunks that fail to load are logged and omitted; the requester gets
// whatever loaded.
func (h *Handler) handleChunkQuery(sess *session.Session, env *protocol.Envelope) {
	var sel chunkSelection
	if err := json.Unmarshal(env.D, &sel); err != nil {
		logrus.WithError(err).WithField("session", sess.ID()).Warn("Dropping malformed chunk query")
		return
	}

	worldID := sess.WorldID()
	coords := world.DedupCoords(world.Coords(sel.C))
	chunks := make([]*world.ChunkTransfer, 0, len(coords))
	for _, coord := range coords {
		transfer, err := h.chunks.Load(worldID, coord, true)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"session": sess.ID(),
				"world":   worldID,
				"chunk":   coord.Key(),
			}).Warn("Failed to load queried chunk")
			continue
		}
		if transfer == nil {
			continue
		}
		chunks = append(chunks, transfer)
	}

	h.reply(sess, protocol.EventChunkUpdate, env.I, chunkBatch{Chunks: chunks})
}
