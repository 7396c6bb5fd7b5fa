// Package client implements the session lifecycle controller: the state
// machine a student-side process runs to join a session, stay joined, and
// tear down on eviction or expiry. Many asynchronous triggers (heartbeat,
// poll, expiry timer, push kick) feed a single force-leave entry point so
// the joined state stays consistent.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// State of the lifecycle machine. At most one of Joining, Joined, Evicted
// and Expired holds at a time; all transitions go through one guarded
// function, never through scattered flag writes.
type State int

const (
	StateUnidentified State = iota
	StateIdentified
	StateJoining
	StateJoined
	StateLeaving
	StateEvicted
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnidentified:
		return "unidentified"
	case StateIdentified:
		return "identified"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateEvicted:
		return "evicted"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Intervals are the watcher cadences. Values are policy, not invariants.
type Intervals struct {
	Heartbeat time.Duration
	Poll      time.Duration
}

// Controller drives one client's session membership.
type Controller struct {
	svc       interfaces.SessionService
	bus       interfaces.EventBus
	identity  interfaces.IdentityStore
	intervals Intervals
	log       *zap.Logger
	now       func() time.Time

	// onInvalidSession, when set, is invoked after an eviction or expiry
	// teardown with a user-facing reason (e.g. to redirect).
	onInvalidSession func(reason string)

	mu          sync.Mutex
	state       State
	code        string
	alias       string
	sessionID   string
	expiresAt   time.Time
	joined      bool
	lastError   string
	joinSeq     uint64
	inflightKey string
	rejoined    map[string]bool
	watchers    *watcherSet
}

// watcherSet groups the cancellable watchers armed while joined. Stopping
// the set tears down every timer, ticker and subscription it owns; a leaked
// watcher could fire stale writes against a superseded identity.
type watcherSet struct {
	stop        chan struct{}
	once        sync.Once
	unsubscribe func()
}

func (w *watcherSet) Stop() {
	w.once.Do(func() {
		close(w.stop)
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
	})
}

// NewController creates a controller. bus may be nil in deployments lacking
// push capability; eviction then rides on the heartbeat fallback alone.
func NewController(svc interfaces.SessionService, bus interfaces.EventBus, identity interfaces.IdentityStore, intervals Intervals, log *zap.Logger) *Controller {
	return &Controller{
		svc:       svc,
		bus:       bus,
		identity:  identity,
		intervals: intervals,
		log:       log,
		now:       time.Now,
		rejoined:  make(map[string]bool),
	}
}

// OnInvalidSession registers the callback invoked after eviction or expiry.
func (c *Controller) OnInvalidSession(fn func(reason string)) {
	c.mu.Lock()
	c.onInvalidSession = fn
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsJoined reports whether membership is confirmed server-side.
func (c *Controller) IsJoined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// Room returns exactly "CODE:alias" while joined and "" otherwise.
func (c *Controller) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		return ""
	}
	return types.RoomID(c.code, c.alias)
}

// LastError returns the user-facing message of the last failed join.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Hydrate loads the persisted identity and, when a complete identity is
// known, auto-rejoins at most once per (code, alias) pair per controller
// lifetime. The global identity wins over the activity-scoped one and is
// re-persisted into the activity slot; a non-empty urlCode overrides the
// session code and forces re-identification without auto-joining unless an
// alias is already known.
func (c *Controller) Hydrate(ctx context.Context, urlCode string) error {
	id, err := c.identity.LoadGlobal()
	if err != nil {
		return err
	}
	if id != nil {
		// Reconcile across activities sharing one device.
		if err := c.identity.SaveActivity(id); err != nil {
			return err
		}
	} else {
		id, err = c.identity.LoadActivity()
		if err != nil {
			return err
		}
	}

	code := ""
	alias := ""
	if id != nil {
		code = id.SessionCode
		alias = id.Alias
	}
	if urlCode != "" {
		override := types.CanonicalCode(urlCode)
		if override != code {
			// A different session was requested; the remembered
			// alias belongs to the old session's room.
			alias = ""
		}
		code = override
	}

	c.mu.Lock()
	if code != "" {
		c.code = code
		c.alias = alias
		if c.state == StateUnidentified {
			c.setStateLocked(StateIdentified)
		}
	}
	key := types.RoomID(code, alias)
	canRejoin := code != "" && alias != "" && !c.rejoined[key] && !c.joined
	if canRejoin {
		c.rejoined[key] = true
	}
	c.mu.Unlock()

	if !canRejoin {
		return nil
	}
	return c.Join(ctx, code, alias)
}

// Join normalizes and validates the inputs, then confirms membership with
// the session service. A re-entrant call with the same (code, alias) pair
// while one is in flight is suppressed; a different pair supersedes the
// in-flight attempt.
func (c *Controller) Join(ctx context.Context, code, alias string) error {
	canonical := types.CanonicalCode(code)
	normalized := types.NormalizeAlias(alias)
	if err := types.ValidateCode(canonical); err != nil {
		return err
	}
	if err := types.ValidateAlias(normalized); err != nil {
		return err
	}

	key := types.RoomID(canonical, normalized)

	c.mu.Lock()
	if c.state == StateJoining && c.inflightKey == key {
		c.mu.Unlock()
		return nil
	}
	c.joinSeq++
	seq := c.joinSeq
	c.inflightKey = key
	c.setStateLocked(StateJoining)
	c.mu.Unlock()

	token, ok := c.identity.Token(canonical, normalized)
	if !ok {
		token = uuid.New().String()
	}

	session, err := c.svc.Join(ctx, canonical, normalized, token)

	if err != nil {
		c.mu.Lock()
		if seq == c.joinSeq {
			c.lastError = joinErrorMessage(err)
			c.setStateLocked(StateIdentified)
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if seq != c.joinSeq {
		// A different pair superseded this attempt; its outcome is
		// irrelevant.
		c.mu.Unlock()
		return nil
	}

	// Persisted under the lock so a teardown's clear can never interleave
	// with a pending save.
	id := &interfaces.Identity{SessionCode: session.Code, Alias: normalized}
	if err := c.identity.SaveGlobal(id); err != nil {
		c.log.Warn("failed to persist global identity", zap.Error(err))
	}
	if err := c.identity.SaveActivity(id); err != nil {
		c.log.Warn("failed to persist activity identity", zap.Error(err))
	}
	if err := c.identity.SaveToken(session.Code, normalized, token); err != nil {
		c.log.Warn("failed to persist client token", zap.Error(err))
	}

	c.code = session.Code
	c.alias = normalized
	c.sessionID = session.ID
	c.expiresAt = session.ExpiresAt
	c.joined = true
	c.lastError = ""
	c.setStateLocked(StateJoined)
	c.armWatchersLocked()
	c.mu.Unlock()

	return nil
}

// Leave is a voluntary departure: identity is cleared, watchers torn down,
// no invalid-session callback.
func (c *Controller) Leave() {
	c.teardown("", StateLeaving)
}

// setStateLocked is the single transition writer. Callers hold c.mu.
func (c *Controller) setStateLocked(to State) {
	if c.state == to {
		return
	}
	c.log.Debug("lifecycle transition",
		zap.String("from", c.state.String()),
		zap.String("to", to.String()))
	c.state = to
}

// armWatchersLocked starts the heartbeat, poll, expiry and push watchers
// for the current identity. Callers hold c.mu with joined == true.
func (c *Controller) armWatchersLocked() {
	if c.watchers != nil {
		c.watchers.Stop()
	}

	w := &watcherSet{stop: make(chan struct{})}
	c.watchers = w

	code, alias := c.code, c.alias
	room := types.RoomID(code, alias)
	expiresAt := c.expiresAt

	// Push path: a kick addressed to this room force-leaves immediately.
	// The heartbeat below catches a missed delivery, just slower.
	if c.bus != nil {
		w.unsubscribe = c.bus.Subscribe(room, func(event types.LiveEvent) {
			if event.Kind != types.EventKindKick {
				return
			}
			reason := event.Reason
			if reason == "" {
				reason = "removed from session"
			}
			c.forceLeave(reason, StateEvicted)
		})
	}

	go c.heartbeatLoop(w, code, alias)
	go c.pollLoop(w, code)
	go c.expiryTimer(w, expiresAt)
}

// heartbeatLoop touches the participant row on a fixed cadence. A missed
// heartbeat is retried on the next tick; only a confirmed removal or an
// expired session forces a leave.
func (c *Controller) heartbeatLoop(w *watcherSet, code, alias string) {
	ticker := time.NewTicker(c.intervals.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := c.svc.Touch(ctx, code, alias)
			cancel()
			switch {
			case err == nil:
			case errors.Is(err, interfaces.ErrParticipantRemoved):
				c.forceLeave("removed by teacher", StateEvicted)
				return
			case errors.Is(err, interfaces.ErrSessionExpired),
				errors.Is(err, interfaces.ErrSessionNotFound):
				c.forceLeave("session has ended", StateExpired)
				return
			default:
				// Transient failure; try again next tick.
				c.log.Debug("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// pollLoop re-validates the session row on a fixed cadence, catching
// deletions and expiry the push path missed.
func (c *Controller) pollLoop(w *watcherSet, code string) {
	ticker := time.NewTicker(c.intervals.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err := c.svc.LookupSession(ctx, code)
			cancel()
			switch {
			case err == nil:
			case errors.Is(err, interfaces.ErrSessionExpired),
				errors.Is(err, interfaces.ErrSessionNotFound):
				c.forceLeave("session has ended", StateExpired)
				return
			default:
				c.log.Debug("session poll failed", zap.Error(err))
			}
		}
	}
}

// expiryTimer enforces expiry at the exact instant, independent of the next
// poll tick. The delay is recomputed from the clock; a non-positive delay
// means the session is already over.
func (c *Controller) expiryTimer(w *watcherSet, expiresAt time.Time) {
	delay := expiresAt.Sub(c.now())
	if delay <= 0 {
		c.forceLeave("session has expired", StateExpired)
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-w.stop:
	case <-timer.C:
		c.forceLeave("session has expired", StateExpired)
	}
}

// forceLeave is the single teardown entry point fed by every watcher.
func (c *Controller) forceLeave(reason string, terminal State) {
	c.teardown(reason, terminal)
}

// teardown clears local identity at both scopes plus the token entry,
// cancels every watcher, and resets the in-memory fields in one critical
// section so consumers never observe a partial leave.
func (c *Controller) teardown(reason string, via State) {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return
	}

	code, alias := c.code, c.alias
	watchers := c.watchers
	callback := c.onInvalidSession

	c.setStateLocked(via)
	c.code = ""
	c.alias = ""
	c.sessionID = ""
	c.expiresAt = time.Time{}
	c.joined = false
	c.watchers = nil
	c.joinSeq++ // invalidate any in-flight join
	c.inflightKey = ""

	if watchers != nil {
		// Safe under the lock: stopping only closes channels and detaches
		// bus subscriptions, neither of which re-enters the controller.
		watchers.Stop()
	}
	if err := c.identity.Clear(code, alias); err != nil {
		c.log.Warn("failed to clear local identity", zap.Error(err))
	}

	c.setStateLocked(StateUnidentified)
	c.mu.Unlock()

	c.log.Info("left session",
		zap.String("room", types.RoomID(code, alias)),
		zap.String("via", via.String()),
		zap.String("reason", reason))

	if reason != "" && (via == StateEvicted || via == StateExpired) && callback != nil {
		callback(reason)
	}
}

// joinErrorMessage maps taxonomy errors to the distinct user-facing
// messages the join form shows.
func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		return "That session code does not exist."
	case errors.Is(err, interfaces.ErrSessionExpired):
		return "That session has expired. Ask for a new code."
	case errors.Is(err, interfaces.ErrAliasTaken):
		return "That name is already in use. Pick another."
	case errors.Is(err, interfaces.ErrUnreachable):
		return "Cannot reach the session service. Try again."
	default:
		return err.Error()
	}
}
