package interfaces

import "github.com/SorenPirat/matematik-platform/pkg/types"

// EventHandler receives a live event delivered on a subscribed room.
type EventHandler func(event types.LiveEvent)

// EventBus is the per-room publish/subscribe fabric. Two interchangeable
// transports implement it: a server-push stream registry and a managed
// per-room channel. Delivery is best effort: all currently subscribed
// handlers receive the event, handlers unsubscribed before Publish returns
// receive nothing, and there is no acknowledgement, retry or persistence.
type EventBus interface {
	// Publish delivers an event to every current subscriber of the room.
	// Publishing to a room with no subscribers is a silent no-op.
	Publish(room string, event types.LiveEvent)

	// Subscribe registers a handler for a room and returns its
	// unsubscribe function. Unsubscribing the last handler evicts the
	// room from the registry.
	Subscribe(room string, handler EventHandler) (unsubscribe func())

	// Stats reports subscriber and room counts for health reporting.
	Stats() map[string]int
}
