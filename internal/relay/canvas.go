// Package relay consumes live events on behalf of observers: it keeps the
// whiteboard and task state a teacher view renders, and watches presence
// beacons for ungracefully closed rooms.
package relay

import (
	"sync"

	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// CanvasState applies canvas events in timestamp order regardless of
// arrival order. A stale event (timestamp at or before the last applied
// canvas timestamp) is dropped, so network reordering cannot corrupt the
// rendered whiteboard.
type CanvasState struct {
	mu      sync.Mutex
	strokes []types.Stroke
	lastTS  int64
}

// NewCanvasState returns an empty whiteboard.
func NewCanvasState() *CanvasState {
	return &CanvasState{}
}

// Apply folds one event into the whiteboard. Non-canvas kinds are ignored.
// It reports whether the event changed state.
func (c *CanvasState) Apply(event types.LiveEvent) bool {
	if !types.IsCanvasKind(event.Kind) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if event.Timestamp <= c.lastTS {
		return false
	}

	switch event.Kind {
	case types.EventKindCanvasStroke:
		if event.Stroke == nil {
			return false
		}
		c.strokes = append(c.strokes, *event.Stroke)
	case types.EventKindCanvasClear:
		c.strokes = nil
	case types.EventKindCanvasSnapshot:
		c.strokes = append([]types.Stroke(nil), event.Snapshot...)
	}

	c.lastTS = event.Timestamp
	return true
}

// Strokes returns a copy of the current stroke list.
func (c *CanvasState) Strokes() []types.Stroke {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Stroke(nil), c.strokes...)
}

// LastTimestamp returns the timestamp of the newest applied canvas event.
func (c *CanvasState) LastTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTS
}

// TaskView retains the newest task, result and input an observer renders.
// Each slot keeps the event with the highest timestamp seen so far.
type TaskView struct {
	mu       sync.Mutex
	task     *types.TaskPayload
	taskTS   int64
	result   *types.ResultPayload
	resultTS int64
	input    string
	inputTS  int64
}

// NewTaskView returns an empty task view.
func NewTaskView() *TaskView {
	return &TaskView{}
}

// Apply folds a task, result or input event into the view; other kinds are
// ignored. Stale events lose by timestamp, not by arrival order.
func (v *TaskView) Apply(event types.LiveEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch event.Kind {
	case types.EventKindTask:
		if event.Task != nil && event.Timestamp > v.taskTS {
			v.task = event.Task
			v.taskTS = event.Timestamp
		}
	case types.EventKindResult:
		if event.Result != nil && event.Timestamp > v.resultTS {
			v.result = event.Result
			v.resultTS = event.Timestamp
		}
	case types.EventKindInput:
		if event.Timestamp > v.inputTS {
			v.input = event.Input
			v.inputTS = event.Timestamp
		}
	}
}

// Task returns the current task, or nil before the first task event.
func (v *TaskView) Task() *types.TaskPayload {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.task
}

// Result returns the latest result, or nil.
func (v *TaskView) Result() *types.ResultPayload {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.result
}

// Input returns the latest keystroke state.
func (v *TaskView) Input() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.input
}
