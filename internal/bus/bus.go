// Package bus implements the in-process delivery bus: a publish/subscribe
// fan-out with one topic per device id. It is an explicit injected
// instance, never a process global.
package bus

import (
	"sync"
)

// DefaultBufferSize is the per-subscriber channel buffer used when the
// configured size is zero or negative.
const DefaultBufferSize = 64

// Bus fans events out to the live subscribers of each device channel.
// Publishing never blocks: a subscriber that falls behind loses its oldest
// buffered events and recovers later via cursor replay.
type Bus struct {
	mu      sync.RWMutex
	topics  map[string]map[int]chan Event
	next    int
	bufSize int
}

// New creates a delivery bus with the given per-subscriber buffer size.
func New(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Bus{
		topics:  make(map[string]map[int]chan Event),
		bufSize: bufSize,
	}
}

// Publish delivers an event to every subscriber of a device channel.
// If a subscriber's buffer is full, its oldest event is dropped to make
// room; only that subscriber is affected.
func (b *Bus) Publish(deviceID string, evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[deviceID] {
		select {
		case ch <- evt:
			continue
		default:
		}
		// Buffer full: drop the oldest and retry once. A concurrent
		// consumer may have drained in between, so the retry is still
		// non-blocking.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe attaches a new subscriber to a device channel. The returned
// subscription receives events published after this call returns.
func (b *Bus) Subscribe(deviceID string) *Subscription {
	ch := make(chan Event, b.bufSize)

	b.mu.Lock()
	id := b.next
	b.next++
	if b.topics[deviceID] == nil {
		b.topics[deviceID] = make(map[int]chan Event)
	}
	b.topics[deviceID][id] = ch
	b.mu.Unlock()

	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			if subs := b.topics[deviceID]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.topics, deviceID)
				}
			}
			b.mu.Unlock()
		},
	}
}

// Subscribers returns the number of live subscribers on a device channel.
func (b *Bus) Subscribers(deviceID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[deviceID])
}

// Subscription is one live attachment to a device channel.
type Subscription struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

// Close detaches the subscription. Safe to call more than once. Events
// already buffered remain readable from C.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}
