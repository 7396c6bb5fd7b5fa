package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// Room presence status as shown in the teacher view.
const (
	StatusOpen   = "open"
	StatusHidden = "hidden"
	StatusClosed = "closed"
)

// roomPresence is the last beacon seen for one room.
type roomPresence struct {
	state    string
	lastSeen time.Time
}

// PresenceWatchdog tracks presence beacons per room and marks a room closed
// when no beacon has arrived within the timeout window. This covers crashes
// and network loss where the teardown beacon never arrives; an explicit
// closed beacon marks the room immediately.
type PresenceWatchdog struct {
	mu      sync.Mutex
	rooms   map[string]*roomPresence
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewPresenceWatchdog creates a watchdog with the given silence timeout.
func NewPresenceWatchdog(timeout time.Duration, log *zap.Logger) *PresenceWatchdog {
	return &PresenceWatchdog{
		rooms:   make(map[string]*roomPresence),
		timeout: timeout,
		log:     log,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// Observe records a presence event for a room. Non-presence events are
// ignored here; any event kind may serve as a liveness hint upstream, but
// only presence beacons carry the open/hidden/closed state.
func (w *PresenceWatchdog) Observe(room string, event types.LiveEvent) {
	if event.Kind != types.EventKindPresence {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	rp, ok := w.rooms[room]
	if !ok {
		rp = &roomPresence{}
		w.rooms[room] = rp
	}
	rp.state = event.Presence
	rp.lastSeen = w.now()
}

// Status returns the effective presence state of a room. A room whose last
// beacon is older than the timeout reads as closed even if no closed beacon
// was ever delivered. Unknown rooms read as closed.
func (w *PresenceWatchdog) Status(room string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusLocked(room)
}

func (w *PresenceWatchdog) statusLocked(room string) string {
	rp, ok := w.rooms[room]
	if !ok {
		return StatusClosed
	}
	if rp.state == types.PresenceClosed {
		return StatusClosed
	}
	if w.now().Sub(rp.lastSeen) > w.timeout {
		return StatusClosed
	}
	if rp.state == types.PresenceHidden {
		return StatusHidden
	}
	return StatusOpen
}

// Snapshot returns the effective status of every tracked room.
func (w *PresenceWatchdog) Snapshot() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]string, len(w.rooms))
	for room := range w.rooms {
		out[room] = w.statusLocked(room)
	}
	return out
}

// Forget drops a room from tracking, e.g. after eviction.
func (w *PresenceWatchdog) Forget(room string) {
	w.mu.Lock()
	delete(w.rooms, room)
	w.mu.Unlock()
}

// Run prunes long-silent rooms on a fixed cadence until Stop is called.
// Pruning only reclaims memory; Status answers correctly without it.
func (w *PresenceWatchdog) Run() {
	ticker := time.NewTicker(w.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.prune()
		}
	}
}

// Stop terminates Run. Safe to call more than once.
func (w *PresenceWatchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *PresenceWatchdog) prune() {
	cutoff := w.now().Add(-10 * w.timeout)

	w.mu.Lock()
	for room, rp := range w.rooms {
		if rp.lastSeen.Before(cutoff) {
			delete(w.rooms, room)
			w.log.Debug("pruned silent room", zap.String("room", room))
		}
	}
	w.mu.Unlock()
}
