package types

import "time"

// Event kind constants. The set is closed: every consumer switches
// exhaustively on the kind and unknown kinds are rejected at validation.
const (
	EventKindTask           = "task"
	EventKindAction         = "action"
	EventKindInput          = "input"
	EventKindCanvasStroke   = "canvas-stroke"
	EventKindCanvasClear    = "canvas-clear"
	EventKindCanvasSnapshot = "canvas-snapshot"
	EventKindKick           = "kick"
	EventKindResult         = "result"
	EventKindPresence       = "presence"
)

// Presence beacon states.
const (
	PresenceOpen   = "open"
	PresenceHidden = "hidden"
	PresenceClosed = "closed"
)

// Point is a single coordinate on the shared whiteboard.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one drawn line segment on the whiteboard.
type Stroke struct {
	Points []Point `json:"points"`
	Color  string  `json:"color,omitempty"`
	Width  float64 `json:"width,omitempty"`
}

// TaskPayload carries the task currently shown to the student. The content
// is opaque to the relay; generators are external collaborators.
type TaskPayload struct {
	Kind     string `json:"kind"`
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

// ResultPayload reports the outcome of an answered task.
type ResultPayload struct {
	Correct bool   `json:"correct"`
	Given   string `json:"given,omitempty"`
}

// LiveEvent is the ephemeral, timestamped message broadcast within a room.
// It is a tagged union: Kind selects which payload field is set. Events are
// never persisted and carry no delivery guarantee beyond best effort.
type LiveEvent struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"ts"` // unix milliseconds

	Task     *TaskPayload   `json:"task,omitempty"`
	Action   string         `json:"action,omitempty"`
	Input    string         `json:"input,omitempty"`
	Stroke   *Stroke        `json:"stroke,omitempty"`
	Snapshot []Stroke       `json:"snapshot,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Result   *ResultPayload `json:"result,omitempty"`
	Presence string         `json:"presence,omitempty"`
}

// NewEvent returns an event of the given kind stamped with the current time.
func NewEvent(kind string) LiveEvent {
	return LiveEvent{Kind: kind, Timestamp: time.Now().UnixMilli()}
}

// IsValidEventKind reports whether kind is one of the closed set.
func IsValidEventKind(kind string) bool {
	switch kind {
	case EventKindTask,
		EventKindAction,
		EventKindInput,
		EventKindCanvasStroke,
		EventKindCanvasClear,
		EventKindCanvasSnapshot,
		EventKindKick,
		EventKindResult,
		EventKindPresence:
		return true
	default:
		return false
	}
}

// IsCanvasKind reports whether the event mutates whiteboard state. Canvas
// events are ordered by timestamp at the consumer, not by arrival order.
func IsCanvasKind(kind string) bool {
	switch kind {
	case EventKindCanvasStroke, EventKindCanvasClear, EventKindCanvasSnapshot:
		return true
	default:
		return false
	}
}

// Validate checks the event kind and that the payload matching the kind is
// present. A zero timestamp is rejected: staleness comparison depends on it.
func (e *LiveEvent) Validate() error {
	if !IsValidEventKind(e.Kind) {
		return ErrInvalidEventKind
	}
	if e.Timestamp <= 0 {
		return ErrMissingTimestamp
	}
	switch e.Kind {
	case EventKindTask:
		if e.Task == nil {
			return ErrMissingPayload
		}
	case EventKindCanvasStroke:
		if e.Stroke == nil || len(e.Stroke.Points) == 0 {
			return ErrMissingPayload
		}
	case EventKindResult:
		if e.Result == nil {
			return ErrMissingPayload
		}
	case EventKindPresence:
		switch e.Presence {
		case PresenceOpen, PresenceHidden, PresenceClosed:
		default:
			return ErrInvalidPresence
		}
	}
	return nil
}
