package types

import (
	"strings"
	"time"
)

// Session is a time-boxed classroom instance identified by a short code.
// A session is valid iff now < ExpiresAt; an expired row that has not yet
// been swept must be treated as absent by every caller.
type Session struct {
	ID        string    `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the session is past its expiry at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionSummary is a session row joined with its participant count, for
// the teacher's overview listing.
type SessionSummary struct {
	Session
	ParticipantCount int `json:"participant_count" db:"participant_count"`
}

// Participant is a student's membership record within a session, keyed by
// (SessionID, Alias). ClientToken identifies the device that joined so the
// same device can silently resume its alias after a refresh.
type Participant struct {
	SessionID   string    `json:"session_id" db:"session_id"`
	Alias       string    `json:"alias" db:"alias"`
	LastSeen    time.Time `json:"last_seen" db:"last_seen"`
	ClientToken string    `json:"-" db:"client_token"`
}

// RoomID derives the bus address for one student's live events. It is never
// persisted; it exists only while the participant is joined.
func RoomID(code, alias string) string {
	return code + ":" + alias
}

// SplitRoomID splits a room identifier back into session code and alias.
// Aliases never contain ":", so the first separator wins.
func SplitRoomID(room string) (code, alias string, ok bool) {
	i := strings.Index(room, ":")
	if i <= 0 || i == len(room)-1 {
		return "", "", false
	}
	return room[:i], room[i+1:], true
}
