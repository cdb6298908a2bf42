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

func startListener(t *testing.T, run func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	// Give the listener goroutine time to reach Subscribe before the test
	// publishes; the in-memory bus drops messages with no subscribers.
	time.Sleep(50 * time.Millisecond)
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("listener did not stop after cancel")
		}
	})
}

func TestMovementListener_ScopedDeliveryWithEchoSuppression(t *testing.T) {
	b := bus.NewMemoryBus()
	r := session.NewRegistry()
	listener := NewMovementListener(b, NewEngine(r))
	startListener(t, listener.Run)

	chunk := world.ChunkAt(100, -40)

	origin, originTr := testutil.NewAuthenticatedSession("origin", "u1", "Alice", "main")
	origin.SetChunks([]world.ChunkCoord{chunk})
	r.Register(origin)

	watcher, watcherTr := testutil.NewAuthenticatedSession("watcher", "u2", "Bob", "main")
	watcher.SetChunks([]world.ChunkCoord{chunk})
	r.Register(watcher)

	elsewhere, elsewhereTr := testutil.NewAuthenticatedSession("elsewhere", "u3", "Carol", "main")
	elsewhere.SetChunks([]world.ChunkCoord{{CX: 99, CZ: 99}})
	r.Register(elsewhere)

	payload, _ := json.Marshal(MovementEvent{
		SessionID:   "origin",
		UserID:      "u1",
		DisplayName: "Alice",
		P:           session.Position{X: 100, Y: 64, Z: -40},
		R:           session.Rotation{Yaw: 90},
		CX:          chunk.CX,
		CZ:          chunk.CZ,
	})
	if err := b.Publish(context.Background(), bus.Channel("main", protocol.EventMovement), payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool { return watcherTr.SentCount() == 1 })

	if originTr.SentCount() != 0 {
		t.Error("origin received its own movement back")
	}
	if elsewhereTr.SentCount() != 0 {
		t.Error("session without the mover's chunk received the movement")
	}

	env := decodeFrame(t, watcherTr.Sent()[0])
	if env.T != protocol.EventMovement {
		t.Errorf("envelope tag = %q, want %q", env.T, protocol.EventMovement)
	}
	var client map[string]json.RawMessage
	if err := json.Unmarshal(env.D, &client); err != nil {
		t.Fatalf("client payload undecodable: %v", err)
	}
	for _, internal := range []string{"sessionId", "cx", "cz"} {
		if _, ok := client[internal]; ok {
			t.Errorf("internal field %q leaked to the client payload", internal)
		}
	}
	if _, ok := client["userId"]; !ok {
		t.Error("client payload missing userId")
	}
}

func TestMovementListener_SurvivesMalformedMessages(t *testing.T) {
	b := bus.NewMemoryBus()
	r := session.NewRegistry()
	listener := NewMovementListener(b, NewEngine(r))
	startListener(t, listener.Run)

	chunk := world.ChunkCoord{CX: 0, CZ: 0}
	watcher, watcherTr := testutil.NewAuthenticatedSession("watcher", "u2", "Bob", "main")
	watcher.SetChunks([]world.ChunkCoord{chunk})
	r.Register(watcher)

	ctx := context.Background()
	channel := bus.Channel("main", protocol.EventMovement)
	if err := b.Publish(ctx, channel, []byte("{not json")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	// Missing origin session id, dropped without delivery.
	if err := b.Publish(ctx, channel, []byte(`{"userId":"u9","cx":0,"cz":0}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	good, _ := json.Marshal(MovementEvent{SessionID: "remote", UserID: "u9", CX: 0, CZ: 0})
	if err := b.Publish(ctx, channel, good); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool { return watcherTr.SentCount() == 1 })
}
