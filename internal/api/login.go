package api

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/auth"
	"github.com/worldgate/server/internal/protocol"
	"github.com/worldgate/server/internal/session"
)

// TokenValidator checks a presented login token and returns its identity
// claims. The production implementation is the JWT service; identity issuance
// itself lives outside this process.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// loginRequest is the l.i payload. Either a token or, when the development
// login is enabled, a username/password pair.
type loginRequest struct {
	Token    string `json:"token" validate:"required_without=Username"`
	Username string `json:"username" validate:"required_without=Token"`
	Password string `json:"password" validate:"required_with=Username"`
	WorldID  string `json:"worldId"`
}

type loginReply struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	WorldID     string `json:"worldId"`
}

// handleLogin promotes the session to authenticated. Token logins resume the
// session id carried in the claims, re-keying the registry entry; dev logins
// keep the connection-assigned id.
func (h *Handler) handleLogin(sess *session.Session, env *protocol.Envelope) {
	var req loginRequest
	if err := json.Unmarshal(env.D, &req); err != nil {
		logrus.WithError(err).WithField("session", sess.ID()).Warn("Dropping malformed login")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		logrus.WithError(err).WithField("session", sess.ID()).Debug("Login request failed validation")
		h.sendError(sess, env.I, "invalid login request")
		return
	}

	if req.Token != "" {
		h.loginWithToken(sess, env, req)
		return
	}
	h.loginWithPassword(sess, env, req)
}

func (h *Handler) loginWithToken(sess *session.Session, env *protocol.Envelope, req loginRequest) {
	claims, err := h.auth.ValidateToken(req.Token)
	if err != nil {
		logrus.WithError(err).WithField("session", sess.ID()).Info("Token login rejected")
		h.sendError(sess, env.I, "invalid token")
		return
	}

	worldID := claims.WorldID
	if worldID == "" {
		worldID = req.WorldID
	}
	if worldID == "" {
		worldID = h.cfg.World.Worlds[0]
	}

	h.registry.SetIdentity(sess, claims.SessionID)
	sess.Authenticate(claims.UserID, claims.DisplayName, worldID)

	logrus.WithFields(logrus.Fields{
		"session": sess.ID(),
		"user":    claims.UserID,
		"world":   worldID,
	}).Info("Session authenticated")

	h.reply(sess, protocol.EventLoginReply, env.I, loginReply{
		SessionID:   sess.ID(),
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		WorldID:     worldID,
	})
}

func (h *Handler) loginWithPassword(sess *session.Session, env *protocol.Envelope, req loginRequest) {
	if !h.cfg.Auth.DevLoginEnabled {
		logrus.WithField("session", sess.ID()).Info("Password login rejected, dev login disabled")
		h.sendError(sess, env.I, "password login disabled")
		return
	}
	if !auth.CheckPassword(req.Password, h.cfg.Auth.DevPasswordHash) {
		logrus.WithFields(logrus.Fields{
			"session":  sess.ID(),
			"username": req.Username,
		}).Info("Password login rejected")
		h.sendError(sess, env.I, "invalid credentials")
		return
	}

	worldID := req.WorldID
	if worldID == "" {
		worldID = h.cfg.Auth.DevWorldID
	}

	userID := "dev-" + req.Username
	sess.Authenticate(userID, req.Username, worldID)

	logrus.WithFields(logrus.Fields{
		"session": sess.ID(),
		"user":    userID,
		"world":   worldID,
	}).Info("Session authenticated via dev login")

	h.reply(sess, protocol.EventLoginReply, env.I, loginReply{
		SessionID:   sess.ID(),
		UserID:      userID,
		DisplayName: req.Username,
		WorldID:     worldID,
	})
}
