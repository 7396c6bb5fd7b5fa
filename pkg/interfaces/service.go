package interfaces

import (
	"context"

	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// SessionService is the identity and session contract consumed by the HTTP
// layer and the client-side lifecycle controller.
type SessionService interface {
	// CreateSession generates a session with a short unambiguous code and
	// a fixed expiry horizon.
	CreateSession(ctx context.Context) (*types.Session, error)

	// LookupSession resolves a code case-insensitively. Absent rows report
	// ErrSessionNotFound; present-but-expired rows report ErrSessionExpired.
	LookupSession(ctx context.Context, code string) (*types.Session, error)

	// Join validates and upserts a participant. Alias reuse is rejected
	// with ErrAliasTaken only while the prior holder is fresh and presents
	// a different client token; the same device resumes silently.
	Join(ctx context.Context, code, alias, clientToken string) (*types.Session, error)

	// Touch is the participant heartbeat. ErrParticipantRemoved means the
	// row is gone (teacher eviction) and the caller must force a leave.
	Touch(ctx context.Context, code, alias string) error

	// Evict removes a participant and propagates a kick event to its room.
	Evict(ctx context.Context, code, alias string) error

	// ListParticipants returns the participants of a session for observers.
	ListParticipants(ctx context.Context, code string) ([]*types.Participant, error)
}
