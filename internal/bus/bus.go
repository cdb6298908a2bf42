// Package bus abstracts the cross-pod publish/subscribe fabric. Delivery is
// at-least-once to all current subscribers, unordered across channels.
package bus

import (
	"context"
	"strings"
)

// Message is one published payload as seen by a subscriber.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live bus subscription. Messages are pulled from the
// channel by a long-lived consumer goroutine; Close tears the subscription
// down and eventually closes the channel.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Bus is the publish/subscribe interface shared by the Redis implementation
// and the in-memory test implementation.
type Bus interface {
	// Publish sends a payload to every current subscriber of the channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe listens on exact channel names.
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// PSubscribe listens on glob patterns, e.g. "world:*:u.m".
	PSubscribe(ctx context.Context, patterns ...string) (Subscription, error)
}

const channelPrefix = "world:"

// Channel builds the bus channel name for a world event,
// "world:{worldId}:{eventTag}".
func Channel(worldID, eventTag string) string {
	return channelPrefix + worldID + ":" + eventTag
}

// Pattern builds the wildcard subscription pattern matching the event across
// all worlds, "world:*:{eventTag}".
func Pattern(eventTag string) string {
	return channelPrefix + "*:" + eventTag
}

// WorldID recovers the world id from a channel name carrying the given event
// tag. World ids may themselves contain ':', so everything between the fixed
// prefix and the last ":{eventTag}" belongs to the world id. Returns false
// when the channel does not match.
func WorldID(channel, eventTag string) (string, bool) {
	if !strings.HasPrefix(channel, channelPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(channel, channelPrefix)
	suffix := ":" + eventTag
	idx := strings.LastIndex(rest, suffix)
	if idx <= 0 || idx+len(suffix) != len(rest) {
		return "", false
	}
	return rest[:idx], true
}
