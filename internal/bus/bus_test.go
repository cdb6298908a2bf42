package bus

import (
	"context"
	"testing"
	"time"
)

func TestChannelNaming(t *testing.T) {
	if got := Channel("main", "u.m"); got != "world:main:u.m" {
		t.Errorf("Channel = %q, want world:main:u.m", got)
	}
	if got := Pattern("e.p"); got != "world:*:e.p" {
		t.Errorf("Pattern = %q, want world:*:e.p", got)
	}
}

func TestWorldID(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		tag     string
		want    string
		ok      bool
	}{
		{"simple", "world:main:u.m", "u.m", "main", true},
		{"world id with colon", "world:eu:west:shard-2:e.p", "e.p", "eu:west:shard-2", true},
		{"wrong prefix", "w:main:u.m", "u.m", "", false},
		{"wrong tag", "world:main:u.m", "e.p", "", false},
		{"empty world id", "world::u.m", "u.m", "", false},
		{"tag embedded in world id only", "world:u.m", "u.m", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := WorldID(tt.channel, tt.tag)
			if ok != tt.ok || got != tt.want {
				t.Errorf("WorldID(%q, %q) = (%q, %v), want (%q, %v)",
					tt.channel, tt.tag, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMemoryBus_SubscribeAndPublish(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "world:main:c.u")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, "world:main:c.u", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := b.Publish(ctx, "world:other:c.u", []byte("nope")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if msg.Channel != "world:main:c.u" || string(msg.Payload) != "hello" {
			t.Errorf("unexpected message %q on %q", msg.Payload, msg.Channel)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	select {
	case msg := <-sub.Messages():
		t.Errorf("received message for unsubscribed channel: %q", msg.Channel)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemoryBus_PatternSubscription(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.PSubscribe(ctx, Pattern("u.m"))
	if err != nil {
		t.Fatalf("PSubscribe failed: %v", err)
	}
	defer sub.Close()

	for _, ch := range []string{"world:main:u.m", "world:eu:west:u.m"} {
		if err := b.Publish(ctx, ch, []byte("m")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if err := b.Publish(ctx, "world:main:e.p", []byte("m")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.Messages():
			got[msg.Channel] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for pattern messages")
		}
	}
	if !got["world:main:u.m"] || !got["world:eu:west:u.m"] {
		t.Errorf("pattern subscription missed channels, got %v", got)
	}

	select {
	case msg := <-sub.Messages():
		t.Errorf("pattern matched wrong tag: %q", msg.Channel)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemoryBus_CloseStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "world:main:c.u")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Channel must be closed so consumer loops terminate.
	if _, open := <-sub.Messages(); open {
		t.Error("Messages channel still open after Close")
	}

	// Publishing after close must not panic.
	if err := b.Publish(ctx, "world:main:c.u", []byte("x")); err != nil {
		t.Fatalf("Publish after close failed: %v", err)
	}
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"world:*:u.m", "world:main:u.m", true},
		{"world:*:u.m", "world:a:b:u.m", true},
		{"world:*:u.m", "world:main:e.p", false},
		{"world:main:u.m", "world:main:u.m", true},
		{"world:main:u.m", "world:main:u.x", false},
		{"*", "anything", true},
	}
	for _, tt := range tests {
		if got := globMatch(tt.pattern, tt.s); got != tt.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}
