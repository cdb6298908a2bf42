package bus

import (
	"context"
	"strings"
	"sync"
)

// MemoryBus is an in-process Bus used by tests and single-pod development
// runs. It mirrors the Redis semantics the listeners rely on: a publisher
// also receives its own messages, and pattern subscriptions match '*' against
// any sequence of characters.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[*memorySubscription]struct{}
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*memorySubscription]struct{})}
}

// Publish delivers the payload synchronously to every matching subscriber.
// A subscriber whose buffer is full misses the message, as it would under a
// slow Redis consumer.
func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.matches(channel) {
			select {
			case sub.out <- Message{Channel: channel, Payload: payload}:
			default:
			}
		}
	}
	return nil
}

// Subscribe listens on exact channel names.
func (b *MemoryBus) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	return b.add(channels, nil), nil
}

// PSubscribe listens on glob patterns.
func (b *MemoryBus) PSubscribe(_ context.Context, patterns ...string) (Subscription, error) {
	return b.add(nil, patterns), nil
}

func (b *MemoryBus) add(channels, patterns []string) *memorySubscription {
	sub := &memorySubscription{
		bus:      b,
		channels: channels,
		patterns: patterns,
		out:      make(chan Message, 64),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.out)
	}
	b.mu.Unlock()
}

type memorySubscription struct {
	bus      *MemoryBus
	channels []string
	patterns []string
	out      chan Message
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.bus.remove(s)
	return nil
}

func (s *memorySubscription) matches(channel string) bool {
	for _, c := range s.channels {
		if c == channel {
			return true
		}
	}
	for _, p := range s.patterns {
		if globMatch(p, channel) {
			return true
		}
	}
	return false
}

// globMatch implements the '*' wildcard the way Redis pattern subscriptions
// do: '*' matches any sequence of characters, including ':'.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
