package interfaces

import (
	"context"
	"time"

	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// SessionStore handles all persistence for sessions and participants.
// Reads run concurrently; implementations serialize writes.
type SessionStore interface {
	// InsertSession persists a new session. A duplicate code reports
	// ErrCodeCollision so the caller can regenerate and retry.
	InsertSession(ctx context.Context, session *types.Session) error

	// GetSessionByCode retrieves a session by canonical code. The row is
	// returned even when expired; expiry is judged by the caller so that
	// "expired" and "not found" stay distinguishable.
	GetSessionByCode(ctx context.Context, code string) (*types.Session, error)

	// DeleteSession removes a session and, by cascade, its participants.
	DeleteSession(ctx context.Context, sessionID string) error

	// DeleteExpiredSessions removes every session past expiry. Idempotent
	// and safe to run concurrently with live lookups.
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	// ListActiveSessions returns unexpired sessions with their participant
	// counts, newest first.
	ListActiveSessions(ctx context.Context, now time.Time) ([]*types.SessionSummary, error)

	// UpsertParticipant inserts or overwrites a participant row, updating
	// last_seen and client_token.
	UpsertParticipant(ctx context.Context, p *types.Participant) error

	// GetParticipant retrieves a participant by (session, alias).
	GetParticipant(ctx context.Context, sessionID, alias string) (*types.Participant, error)

	// TouchParticipant updates last_seen; reports ErrParticipantRemoved
	// when the row no longer exists.
	TouchParticipant(ctx context.Context, sessionID, alias string) error

	// DeleteParticipant removes a participant row.
	DeleteParticipant(ctx context.Context, sessionID, alias string) error

	// ListParticipants returns all participants of a session.
	ListParticipants(ctx context.Context, sessionID string) ([]*types.Participant, error)

	// HealthCheck verifies store connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases the store and waits for pending writes.
	Close() error
}
