package types

import "errors"

// Validation error types shared across components.
var (
	ErrEmptyCode        = errors.New("session code cannot be empty")
	ErrInvalidCode      = errors.New("session code must be letters and digits")
	ErrEmptyAlias       = errors.New("alias cannot be empty")
	ErrAliasTooLong     = errors.New("alias must be at most 50 characters")
	ErrInvalidEventKind = errors.New("unknown live event kind")
	ErrMissingTimestamp = errors.New("live event requires a timestamp")
	ErrMissingPayload   = errors.New("live event payload missing for kind")
	ErrInvalidPresence  = errors.New("presence must be open, hidden or closed")
)
