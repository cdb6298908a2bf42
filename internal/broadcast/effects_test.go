package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/worldgate/server/internal/bus"
	"github.com/worldgate/server/internal/protocol"
	"github.com/worldgate/server/internal/session"
	"github.com/worldgate/server/internal/testutil"
	"github.com/worldgate/server/internal/world"
)

func TestEffectListener_UnionOverChunks(t *testing.T) {
	b := bus.NewMemoryBus()
	r := session.NewRegistry()
	listener := NewEffectListener(b, NewEngine(r), []string{"main"}, protocol.EventEffectTrigger)
	startListener(t, listener.Run)

	a := world.ChunkCoord{CX: 1, CZ: 1}
	c := world.ChunkCoord{CX: 2, CZ: 2}

	both, bothTr := testutil.NewAuthenticatedSession("both", "u1", "Alice", "main")
	both.SetChunks([]world.ChunkCoord{a, c})
	r.Register(both)

	outside, outsideTr := testutil.NewAuthenticatedSession("outside", "u2", "Bob", "main")
	outside.SetChunks([]world.ChunkCoord{{CX: 9, CZ: 9}})
	r.Register(outside)

	payload := []byte(`{"effectId":"fx-1","chunks":[{"cx":1,"cz":1},{"cx":2,"cz":2}],"effect":{"kind":"rain"}}`)
	if err := b.Publish(context.Background(), bus.Channel("main", protocol.EventEffectTrigger), payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool { return bothTr.SentCount() >= 1 })
	time.Sleep(50 * time.Millisecond)

	if got := bothTr.SentCount(); got != 1 {
		t.Errorf("session on both chunks received %d copies, want exactly 1", got)
	}
	if outsideTr.SentCount() != 0 {
		t.Error("session outside the effect's chunks received it")
	}

	// The payload is forwarded as published.
	env := decodeFrame(t, bothTr.Sent()[0])
	var got map[string]json.RawMessage
	if err := json.Unmarshal(env.D, &got); err != nil {
		t.Fatalf("payload undecodable: %v", err)
	}
	if string(got["effectId"]) != `"fx-1"` {
		t.Errorf("effectId = %s, want fx-1", got["effectId"])
	}
}

func TestEffectListener_NoChunksMeansWorldWide(t *testing.T) {
	b := bus.NewMemoryBus()
	r := session.NewRegistry()
	listener := NewEffectListener(b, NewEngine(r), []string{"main"}, protocol.EventEffectUpdate)
	startListener(t, listener.Run)

	s, tr := testutil.NewAuthenticatedSession("s1", "u1", "Alice", "main")
	r.Register(s)

	payload := []byte(`{"effectId":"fx-global","variables":{"intensity":0.5}}`)
	if err := b.Publish(context.Background(), bus.Channel("main", protocol.EventEffectUpdate), payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool { return tr.SentCount() == 1 })
}

func TestEffectListener_OriginIsNotExcluded(t *testing.T) {
	b := bus.NewMemoryBus()
	r := session.NewRegistry()
	listener := NewEffectListener(b, NewEngine(r), []string{"main"}, protocol.EventEffectTrigger)
	startListener(t, listener.Run)

	chunk := world.ChunkCoord{CX: 1, CZ: 1}
	origin, originTr := testutil.NewAuthenticatedSession("origin", "u1", "Alice", "main")
	origin.SetChunks([]world.ChunkCoord{chunk})
	r.Register(origin)

	// Effects echo back to their trigger; clients handle the self-echo.
	payload := []byte(`{"effectId":"fx-2","chunks":[{"x":1,"z":1}]}`)
	if err := b.Publish(context.Background(), bus.Channel("main", protocol.EventEffectTrigger), payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool { return originTr.SentCount() == 1 })
}

func TestChunkChangeListener_ScopedWithDeletedFlag(t *testing.T) {
	b := bus.NewMemoryBus()
	r := session.NewRegistry()
	listener := NewChunkChangeListener(b, NewEngine(r), []string{"main"})
	startListener(t, listener.Run)

	chunk := world.ChunkCoord{CX: 4, CZ: -2}
	watcher, watcherTr := testutil.NewAuthenticatedSession("watcher", "u1", "Alice", "main")
	watcher.SetChunks([]world.ChunkCoord{chunk})
	r.Register(watcher)

	other, otherTr := testutil.NewAuthenticatedSession("other", "u2", "Bob", "main")
	other.SetChunks([]world.ChunkCoord{{CX: 0, CZ: 0}})
	r.Register(other)

	payload, _ := json.Marshal(ChunkChangeEvent{CX: 4, CZ: -2, Deleted: true})
	if err := b.Publish(context.Background(), bus.Channel("main", protocol.EventChunkUpdate), payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool { return watcherTr.SentCount() == 1 })
	if otherTr.SentCount() != 0 {
		t.Error("session watching a different chunk received the change")
	}

	env := decodeFrame(t, watcherTr.Sent()[0])
	var got ChunkChangeEvent
	if err := json.Unmarshal(env.D, &got); err != nil {
		t.Fatalf("payload undecodable: %v", err)
	}
	if !got.Deleted {
		t.Error("deleted flag lost in fan-out")
	}
	if got.CX != 4 || got.CZ != -2 {
		t.Errorf("coordinates = (%d,%d), want (4,-2)", got.CX, got.CZ)
	}
}
