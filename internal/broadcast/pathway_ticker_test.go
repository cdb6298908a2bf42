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

func collectOne(t *testing.T, sub bus.Subscription) bus.Message {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pathway publish")
		return bus.Message{}
	}
}

func TestPathwayBroadcaster_PublishesRecentMovementPerWorld(t *testing.T) {
	b := bus.NewMemoryBus()
	r := session.NewRegistry()
	p := NewPathwayBroadcaster(b, r, 100*time.Millisecond, 100*time.Millisecond, time.Second)

	ctx := context.Background()
	mainSub, err := b.Subscribe(ctx, bus.Channel("main", protocol.EventPathway))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer mainSub.Close()
	otherSub, err := b.Subscribe(ctx, bus.Channel("other", protocol.EventPathway))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer otherSub.Close()

	mover, _ := testutil.NewAuthenticatedSession("s1", "u1", "Alice", "main")
	mover.UpdateMovement(session.Position{X: 40, Y: 64, Z: 40}, session.Rotation{Yaw: 180})
	r.Register(mover)

	elsewhere, _ := testutil.NewAuthenticatedSession("s2", "u2", "Bob", "other")
	elsewhere.UpdateMovement(session.Position{X: -10, Y: 64, Z: -10}, session.Rotation{})
	r.Register(elsewhere)

	idle, _ := testutil.NewAuthenticatedSession("s3", "u3", "Carol", "main")
	r.Register(idle)

	p.tick(ctx, time.Now())

	var ev PathwayEvent
	msg := collectOne(t, mainSub)
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatalf("pathway publish undecodable: %v", err)
	}
	if len(ev.Pathways) != 1 {
		t.Fatalf("main batch has %d pathways, want 1 (idle session excluded)", len(ev.Pathways))
	}
	var author pathwayAuthor
	if err := json.Unmarshal(ev.Pathways[0], &author); err != nil {
		t.Fatalf("pathway undecodable: %v", err)
	}
	if author.EntityID != "u1" {
		t.Errorf("pathway entity = %q, want u1", author.EntityID)
	}
	if got := ev.EntityToSession["u1"]; got != "s1" {
		t.Errorf("entityToSession[u1] = %q, want s1", got)
	}
	want := world.ChunkAt(40, 40)
	chunks := world.Coords(ev.AffectedChunks)
	found := false
	for _, c := range chunks {
		if c == want {
			found = true
		}
	}
	if !found {
		t.Errorf("affectedChunks %v missing mover's chunk %v", chunks, want)
	}

	// The other world gets its own batch.
	msg = collectOne(t, otherSub)
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatalf("pathway publish undecodable: %v", err)
	}
	if len(ev.Pathways) != 1 || ev.EntityToSession["u2"] != "s2" {
		t.Errorf("other-world batch = %+v, want one pathway for u2/s2", ev)
	}
}

func TestPathwayBroadcaster_MovementFeedsAtMostOneTick(t *testing.T) {
	b := bus.NewMemoryBus()
	r := session.NewRegistry()
	p := NewPathwayBroadcaster(b, r, 100*time.Millisecond, 100*time.Millisecond, time.Second)

	ctx := context.Background()
	sub, err := b.Subscribe(ctx, bus.Channel("main", protocol.EventPathway))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	mover, _ := testutil.NewAuthenticatedSession("s1", "u1", "Alice", "main")
	mover.UpdateMovement(session.Position{X: 1, Y: 0, Z: 1}, session.Rotation{})
	r.Register(mover)

	p.tick(ctx, time.Now())
	collectOne(t, sub)

	// No new movement since the last tick, so nothing is published.
	p.tick(ctx, time.Now())
	select {
	case msg := <-sub.Messages():
		t.Errorf("unchanged movement was republished: %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPathwayBroadcaster_PredictsFromDisplacement(t *testing.T) {
	b := bus.NewMemoryBus()
	r := session.NewRegistry()
	p := NewPathwayBroadcaster(b, r, 100*time.Millisecond, 100*time.Millisecond, time.Second)

	ctx := context.Background()
	sub, err := b.Subscribe(ctx, bus.Channel("main", protocol.EventPathway))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	mover, _ := testutil.NewAuthenticatedSession("s1", "u1", "Alice", "main")
	r.Register(mover)

	mover.UpdateMovement(session.Position{X: 0, Y: 0, Z: 0}, session.Rotation{})
	p.tick(ctx, time.Now())
	collectOne(t, sub)

	mover.UpdateMovement(session.Position{X: 10, Y: 0, Z: 0}, session.Rotation{})
	p.tick(ctx, time.Now())
	msg := collectOne(t, sub)

	var publish struct {
		Pathways []Pathway `json:"pathways"`
	}
	if err := json.Unmarshal(msg.Payload, &publish); err != nil {
		t.Fatalf("pathway publish undecodable: %v", err)
	}
	if len(publish.Pathways) != 1 || len(publish.Pathways[0].Waypoints) != 2 {
		t.Fatalf("publish = %+v, want one pathway with two waypoints", publish.Pathways)
	}
	// Prediction window equals the tick interval, so the displacement repeats.
	predicted := publish.Pathways[0].Waypoints[1]
	if predicted.X != 20 {
		t.Errorf("predicted x = %v, want 20", predicted.X)
	}
	if publish.Pathways[0].Waypoints[0].T >= predicted.T {
		t.Error("predicted waypoint not later than the current one")
	}
}
