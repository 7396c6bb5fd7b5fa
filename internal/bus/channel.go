package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// ChannelBus is the managed channel strategy: one shared channel object per
// room, cached by room id and reference-counted by handler count. Broadcast
// echoes to the sender's own handlers so one component can both emit and
// render its own strokes through a single code path. Unsubscribing the last
// handler tears down and evicts the channel.
type ChannelBus struct {
	mu    sync.RWMutex
	rooms map[string]*roomChannel
	log   *zap.Logger
}

type roomChannel struct {
	events   chan types.LiveEvent
	done     chan struct{}
	mu       sync.RWMutex
	handlers map[int]interfaces.EventHandler
	nextID   int
}

// NewChannelBus creates an empty channel bus.
func NewChannelBus(log *zap.Logger) *ChannelBus {
	return &ChannelBus{
		rooms: make(map[string]*roomChannel),
		log:   log,
	}
}

// Subscribe attaches a handler to the room's shared channel, creating the
// channel lazily on first use.
func (b *ChannelBus) Subscribe(room string, handler interfaces.EventHandler) func() {
	b.mu.Lock()
	rc, ok := b.rooms[room]
	if !ok {
		rc = &roomChannel{
			events:   make(chan types.LiveEvent, subscriberBuffer),
			done:     make(chan struct{}),
			handlers: make(map[int]interfaces.EventHandler),
		}
		b.rooms[room] = rc
		go rc.run()
		b.log.Debug("room channel created", zap.String("room", room))
	}
	rc.mu.Lock()
	id := rc.nextID
	rc.nextID++
	rc.handlers[id] = handler
	rc.mu.Unlock()
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			rc.mu.Lock()
			delete(rc.handlers, id)
			empty := len(rc.handlers) == 0
			rc.mu.Unlock()

			// Last handler gone: tear down and evict the channel so a
			// later publish to this room is a no-op.
			if empty && b.rooms[room] == rc {
				close(rc.done)
				delete(b.rooms, room)
				b.log.Debug("room channel evicted", zap.String("room", room))
			}
		})
	}
}

// Publish sends the event into the room's shared channel. Unknown room or a
// full channel drops the event silently; publish never blocks or errors.
func (b *ChannelBus) Publish(room string, event types.LiveEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rc, ok := b.rooms[room]
	if !ok {
		return
	}
	select {
	case rc.events <- event:
	default:
		b.log.Debug("room channel full, dropping event",
			zap.String("room", room),
			zap.String("kind", event.Kind))
	}
}

// run fans incoming events out to a snapshot of the current handlers,
// including the publisher's own (echo-to-self).
func (rc *roomChannel) run() {
	for {
		select {
		case <-rc.done:
			return
		case event := <-rc.events:
			rc.mu.RLock()
			snapshot := make([]interfaces.EventHandler, 0, len(rc.handlers))
			for _, h := range rc.handlers {
				snapshot = append(snapshot, h)
			}
			rc.mu.RUnlock()

			for _, h := range snapshot {
				h(event)
			}
		}
	}
}

// Stats reports room and handler counts.
func (b *ChannelBus) Stats() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, rc := range b.rooms {
		rc.mu.RLock()
		total += len(rc.handlers)
		rc.mu.RUnlock()
	}
	return map[string]int{
		"rooms":       len(b.rooms),
		"subscribers": total,
	}
}
