package interfaces

import "errors"

// Error taxonomy shared across components. NotFound, Expired and AliasTaken
// are terminal for the attempt that produced them; Unreachable is transient
// and surfaced once to the caller. ParticipantRemoved is not an error from
// the user's perspective but a forced lifecycle transition.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session has expired")
	ErrAliasTaken         = errors.New("alias already in use in this session")
	ErrParticipantRemoved = errors.New("participant no longer in session")
	ErrUnreachable        = errors.New("cannot reach session service")

	// ErrCodeCollision reports a generated session code that is already
	// taken; session creation regenerates and retries a bounded number of
	// times before giving up.
	ErrCodeCollision = errors.New("session code already in use")
)
