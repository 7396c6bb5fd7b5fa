// Package bus provides the in-memory per-room publish/subscribe fabric.
// Two interchangeable transports implement the same contract: StreamBus
// backs the server-push stream endpoint, ChannelBus backs the managed
// per-room channel used by the websocket transport.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// subscriberBuffer bounds how far a slow subscriber may lag before events
// are dropped. Events are live-presence signals, not durable records.
const subscriberBuffer = 32

// StreamBus is the server-push strategy: a process-wide registry mapping
// room to its set of subscribers. Publish delivers to a snapshot of the
// set; dead or lagging subscribers are skipped, never retried.
type StreamBus struct {
	mu    sync.RWMutex
	rooms map[string]map[*streamSubscriber]struct{}
	log   *zap.Logger
}

type streamSubscriber struct {
	events chan types.LiveEvent
	done   chan struct{}
	once   sync.Once
}

// NewStreamBus creates an empty stream bus.
func NewStreamBus(log *zap.Logger) *StreamBus {
	return &StreamBus{
		rooms: make(map[string]map[*streamSubscriber]struct{}),
		log:   log,
	}
}

// Subscribe registers a handler for a room. The handler runs on its own
// delivery goroutine so a slow consumer cannot block publishers.
func (b *StreamBus) Subscribe(room string, handler interfaces.EventHandler) func() {
	sub := &streamSubscriber{
		events: make(chan types.LiveEvent, subscriberBuffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[*streamSubscriber]struct{})
	}
	b.rooms[room][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case event := <-sub.events:
				// Re-check teardown so an unsubscribed handler is
				// never invoked with a buffered leftover.
				select {
				case <-sub.done:
					return
				default:
				}
				handler(event)
			}
		}
	}()

	return func() {
		sub.once.Do(func() {
			close(sub.done)
			b.mu.Lock()
			if subs, ok := b.rooms[room]; ok {
				delete(subs, sub)
				// Prune empty rooms so the registry cannot grow
				// without bound.
				if len(subs) == 0 {
					delete(b.rooms, room)
				}
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers the event to every current subscriber of the room.
// Iteration happens over a snapshot of the subscriber set so a concurrent
// unsubscribe never leaves a dangling reference. Publishing to an unknown
// room is a silent no-op.
func (b *StreamBus) Publish(room string, event types.LiveEvent) {
	b.mu.RLock()
	set, ok := b.rooms[room]
	if !ok {
		b.mu.RUnlock()
		return
	}
	snapshot := make([]*streamSubscriber, 0, len(set))
	for sub := range set {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		select {
		case sub.events <- event:
		case <-sub.done:
		default:
			// Subscriber is lagging; drop. The next event catches it up.
			b.log.Debug("dropping event for slow subscriber",
				zap.String("room", room),
				zap.String("kind", event.Kind))
		}
	}
}

// Stats reports room and subscriber counts.
func (b *StreamBus) Stats() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, subs := range b.rooms {
		total += len(subs)
	}
	return map[string]int{
		"rooms":       len(b.rooms),
		"subscribers": total,
	}
}
