package bus

import (
	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// Fanout presents several buses as one. Publishes go to every underlying
// bus; it exists so producers that take a single bus (the session service's
// kick path) reach both transports. Subscribing through a fanout attaches
// to every bus, so a publish routed through the same fanout is delivered
// once per underlying bus; subscribers wanting exactly-once delivery attach
// to a concrete bus instead.
type Fanout struct {
	buses []interfaces.EventBus
}

// NewFanout combines the given buses.
func NewFanout(buses ...interfaces.EventBus) *Fanout {
	return &Fanout{buses: buses}
}

// Publish delivers the event to the room on every underlying bus.
func (f *Fanout) Publish(room string, event types.LiveEvent) {
	for _, b := range f.buses {
		b.Publish(room, event)
	}
}

// Subscribe attaches the handler on every underlying bus and returns an
// unsubscribe covering all of them.
func (f *Fanout) Subscribe(room string, handler interfaces.EventHandler) func() {
	unsubs := make([]func(), 0, len(f.buses))
	for _, b := range f.buses {
		unsubs = append(unsubs, b.Subscribe(room, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Stats sums each counter across the underlying buses. The sum counts a
// room once per transport it is live on; callers wanting per-transport
// numbers read each bus directly, as the health endpoint does.
func (f *Fanout) Stats() map[string]int {
	out := make(map[string]int)
	for _, b := range f.buses {
		for room, n := range b.Stats() {
			out[room] += n
		}
	}
	return out
}
