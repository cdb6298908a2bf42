// Package api is the client-facing surface of a pod: the websocket endpoint,
// the protocol message handlers, and the HTTP plumbing around them.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/bus"
	"github.com/worldgate/server/internal/config"
	"github.com/worldgate/server/internal/protocol"
	"github.com/worldgate/server/internal/session"
	"github.com/worldgate/server/internal/world"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeTimeout = 10 * time.Second

	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

// ChunkLoader supplies chunk content for query replies. The production
// implementation is the PostgreSQL chunk storage.
type ChunkLoader interface {
	Load(worldID string, coord world.ChunkCoord, createIfAbsent bool) (*world.ChunkTransfer, error)
}

// Conn adapts a gorilla websocket connection to the session transport. Sends
// go through a buffered channel drained by a single writer goroutine, so
// concurrent fan-outs never interleave partial writes.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
	}
}

// Send queues one outbound frame. A full buffer or a closed connection is a
// delivery failure for this one frame.
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	return c.ws.Close()
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler owns the websocket endpoint and routes inbound protocol messages.
type Handler struct {
	cfg      *config.Config
	registry *session.Registry
	bus      bus.Bus
	auth     TokenValidator
	chunks   ChunkLoader
	validate *validator.Validate
	upgrader websocket.Upgrader
}

// NewHandler wires the protocol handlers to their collaborators.
func NewHandler(cfg *config.Config, registry *session.Registry, b bus.Bus, tokens TokenValidator, chunks ChunkLoader) *Handler {
	h := &Handler{
		cfg:      cfg,
		registry: registry,
		bus:      b,
		auth:     tokens,
		chunks:   chunks,
		validate: validator.New(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.Server.IsDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request and runs the connection until the
// client goes away. Sessions start unauthenticated; the login message
// promotes them.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	conn := newConn(ws)
	sess := session.New(uuid.NewString(), conn)
	h.registry.Register(sess)

	logrus.WithField("session", sess.ID()).Debug("Connection accepted")

	go conn.writePump()
	h.readPump(r.Context(), conn, sess)
}

// readPump processes the connection's inbound messages in receipt order. On
// exit the session is gone from the registry and future fan-outs skip it.
func (h *Handler) readPump(ctx context.Context, conn *Conn, sess *session.Session) {
	defer func() {
		h.registry.Remove(sess.ID())
		if err := conn.Close(); err != nil {
			logrus.WithError(err).Debug("Failed to close connection")
		}
		logrus.WithField("session", sess.ID()).Debug("Connection closed")
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	if err := conn.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.ws.SetPongHandler(func(string) error {
		sess.Touch()
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("session", sess.ID()).Warn("WebSocket read error")
			}
			return
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			// Malformed frames are dropped without a client-visible error.
			logrus.WithError(err).WithField("session", sess.ID()).Warn("Dropping malformed message")
			continue
		}
		h.dispatch(ctx, sess, env)
	}
}

// dispatch routes one inbound envelope. Every tag except login and ping
// requires an authenticated session; unauthenticated attempts are dropped
// without a reply.
func (h *Handler) dispatch(ctx context.Context, sess *session.Session, env *protocol.Envelope) {
	switch env.T {
	case protocol.EventPing:
		h.handlePing(sess, env)
		return
	case protocol.EventLogin:
		h.handleLogin(sess, env)
		return
	}

	if !sess.Authenticated() {
		logrus.WithFields(logrus.Fields{
			"session": sess.ID(),
			"event":   env.T,
		}).Debug("Dropping message from unauthenticated session")
		return
	}
	sess.Touch()

	switch env.T {
	case protocol.EventChunkRegister:
		h.handleChunkRegister(sess, env)
	case protocol.EventChunkQuery:
		h.handleChunkQuery(sess, env)
	case protocol.EventMovement:
		h.handleMovement(ctx, sess, env)
	case protocol.EventEffectTrigger, protocol.EventEffectUpdate:
		h.handleEffect(ctx, sess, env)
	case protocol.EventPathway:
		h.handlePathway(ctx, sess, env)
	default:
		logrus.WithFields(logrus.Fields{
			"session": sess.ID(),
			"event":   env.T,
		}).Debug("Unknown event tag")
		h.sendError(sess, env.I, "unknown event tag")
	}
}

func (h *Handler) handlePing(sess *session.Session, env *protocol.Envelope) {
	sess.Touch()
	h.reply(sess, protocol.EventPing, env.I, nil)
}

// reply serializes and queues a response to the session, logging delivery
// failures.
func (h *Handler) reply(sess *session.Session, eventTag, responseTo string, data any) {
	frame, err := protocol.EncodeReply(eventTag, responseTo, data)
	if err != nil {
		logrus.WithError(err).WithField("event", eventTag).Error("Failed to encode reply")
		return
	}
	if err := sess.Send(frame); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session": sess.ID(),
			"event":   eventTag,
		}).Warn("Failed to send reply")
	}
}

type errorPayload struct {
	Message string `json:"message"`
}

func (h *Handler) sendError(sess *session.Session, responseTo, message string) {
	h.reply(sess, protocol.EventError, responseTo, errorPayload{Message: message})
}
