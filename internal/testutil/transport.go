// Package testutil provides shared helpers for package tests: a recording
// session transport, test fixtures, and a PostgreSQL test database hook.
package testutil

import (
	"sync"
)

// RecordingTransport stands in for a live client connection in tests. It
// captures every payload sent to it and can be told to start failing.
type RecordingTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	err    error
	closed bool
}

// NewRecordingTransport creates an empty recording transport.
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{}
}

// Send records the payload, or returns the configured failure.
func (t *RecordingTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	t.sent = append(t.sent, cp)
	return nil
}

// Close marks the transport closed.
func (t *RecordingTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// FailWith makes every subsequent Send return err.
func (t *RecordingTransport) FailWith(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Sent returns a snapshot of the recorded payloads.
func (t *RecordingTransport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentCount returns how many payloads were recorded.
func (t *RecordingTransport) SentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// Closed reports whether Close was called.
func (t *RecordingTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
