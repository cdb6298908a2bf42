// Package protocol defines the client wire envelope and the event tags shared
// by the socket handlers and the bus listeners.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event tags carried in the envelope's "t" field. The same tags name the bus
// channels ("world:{worldId}:{tag}") for events that cross pods.
const (
	EventLogin         = "l.i"
	EventLoginReply    = "l.r"
	EventChunkRegister = "c.r"
	EventChunkQuery    = "c.q"
	EventChunkUpdate   = "c.u"
	EventMovement      = "u.m"
	EventEffectTrigger = "e.t"
	EventEffectUpdate  = "e.u"
	EventPathway       = "e.p"
	EventChunkListReq  = "c.l.req"
	EventChunkListResp = "c.l.resp"
	EventPing          = "ping"
	EventError         = "err"
)

// Envelope is the message frame used in both directions. T is the event tag,
// I a sender-assigned request id, R echoes the request id this message
// responds to, and D the tag-specific payload.
type Envelope struct {
	T string          `json:"t"`
	I string          `json:"i,omitempty"`
	R string          `json:"r,omitempty"`
	D json.RawMessage `json:"d,omitempty"`
}

// Encode serializes a server-originated envelope with no request correlation.
func Encode(eventTag string, data any) ([]byte, error) {
	return EncodeReply(eventTag, "", data)
}

// EncodeReply serializes an envelope answering the given request id. A nil
// data leaves the payload field out entirely.
func EncodeReply(eventTag, responseTo string, data any) ([]byte, error) {
	env := Envelope{T: eventTag, R: responseTo}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", eventTag, err)
		}
		env.D = raw
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", eventTag, err)
	}
	return out, nil
}

// Decode parses a raw inbound frame. The event tag is the only required
// field.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid message frame: %w", err)
	}
	if env.T == "" {
		return nil, fmt.Errorf("message frame missing event tag")
	}
	return &env, nil
}
