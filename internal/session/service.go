package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// Policy holds the tuning knobs for session identity. The values are
// configuration, not invariants.
type Policy struct {
	SessionTTL     time.Duration
	CodeLength     int
	CodeRetries    int
	AliasFreshness time.Duration
}

// Service implements interfaces.SessionService on top of the store and the
// event bus. The bus is only used for best-effort kick propagation.
type Service struct {
	store  interfaces.SessionStore
	bus    interfaces.EventBus
	policy Policy
	log    *zap.Logger
	now    func() time.Time
}

// NewService creates a session service.
func NewService(store interfaces.SessionStore, bus interfaces.EventBus, policy Policy, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
}

// CreateSession generates a session with a short unambiguous code and a
// fixed expiry horizon, retrying on code collision a bounded number of times.
func (s *Service) CreateSession(ctx context.Context) (*types.Session, error) {
	var lastErr error
	for attempt := 0; attempt < s.policy.CodeRetries; attempt++ {
		code, err := generateCode(s.policy.CodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate session code: %w", err)
		}

		now := s.now()
		session := &types.Session{
			ID:        uuid.New().String(),
			Code:      code,
			CreatedAt: now,
			ExpiresAt: now.Add(s.policy.SessionTTL),
		}

		err = s.store.InsertSession(ctx, session)
		if err == nil {
			s.log.Info("session created",
				zap.String("code", session.Code),
				zap.Time("expires_at", session.ExpiresAt))
			return session, nil
		}
		if !errors.Is(err, interfaces.ErrCodeCollision) {
			return nil, wrapUnreachable(err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("exhausted code generation retries: %w", lastErr)
}

// LookupSession resolves a code case-insensitively. An expired-but-present
// row is reported as ErrSessionExpired, never as a valid session.
func (s *Service) LookupSession(ctx context.Context, code string) (*types.Session, error) {
	canonical := types.CanonicalCode(code)
	if err := types.ValidateCode(canonical); err != nil {
		return nil, interfaces.ErrSessionNotFound
	}

	session, err := s.store.GetSessionByCode(ctx, canonical)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, wrapUnreachable(err)
	}

	if session.Expired(s.now()) {
		return nil, interfaces.ErrSessionExpired
	}
	return session, nil
}

// Join upserts a participant under the alias collision rule: reject when an
// existing holder's last_seen is within the freshness window and its stored
// token differs from the presented one. A stale holder or the same device
// takes over the alias and overwrites last_seen and token.
func (s *Service) Join(ctx context.Context, code, alias, clientToken string) (*types.Session, error) {
	session, err := s.LookupSession(ctx, code)
	if err != nil {
		return nil, err
	}

	normalized := types.NormalizeAlias(alias)
	if err := types.ValidateAlias(normalized); err != nil {
		return nil, err
	}

	existing, err := s.store.GetParticipant(ctx, session.ID, normalized)
	if err != nil && !errors.Is(err, interfaces.ErrParticipantRemoved) {
		return nil, wrapUnreachable(err)
	}

	now := s.now()
	if existing != nil {
		fresh := now.Sub(existing.LastSeen) <= s.policy.AliasFreshness
		if fresh && existing.ClientToken != clientToken {
			return nil, interfaces.ErrAliasTaken
		}
	}

	p := &types.Participant{
		SessionID:   session.ID,
		Alias:       normalized,
		LastSeen:    now,
		ClientToken: clientToken,
	}
	if err := s.store.UpsertParticipant(ctx, p); err != nil {
		return nil, wrapUnreachable(err)
	}

	s.log.Info("participant joined",
		zap.String("room", types.RoomID(session.Code, normalized)))
	return session, nil
}

// Touch is the participant heartbeat. A missing row means the teacher
// evicted the participant; ErrParticipantRemoved tells the caller to leave.
func (s *Service) Touch(ctx context.Context, code, alias string) error {
	session, err := s.LookupSession(ctx, code)
	if err != nil {
		return err
	}

	err = s.store.TouchParticipant(ctx, session.ID, types.NormalizeAlias(alias))
	if err != nil {
		if errors.Is(err, interfaces.ErrParticipantRemoved) {
			return interfaces.ErrParticipantRemoved
		}
		return wrapUnreachable(err)
	}
	return nil
}

// Evict removes a participant and pushes a kick event to its room. The push
// is fire-and-forget: the heartbeat fallback catches a missed delivery.
func (s *Service) Evict(ctx context.Context, code, alias string) error {
	session, err := s.LookupSession(ctx, code)
	if err != nil {
		return err
	}

	normalized := types.NormalizeAlias(alias)
	if err := s.store.DeleteParticipant(ctx, session.ID, normalized); err != nil {
		return wrapUnreachable(err)
	}

	room := types.RoomID(session.Code, normalized)
	kick := types.NewEvent(types.EventKindKick)
	kick.Reason = "removed by teacher"
	s.bus.Publish(room, kick)

	s.log.Info("participant evicted", zap.String("room", room))
	return nil
}

// CloseSession deletes a session explicitly, kicking every joined
// participant before the cascade removes their rows.
func (s *Service) CloseSession(ctx context.Context, code string) error {
	session, err := s.LookupSession(ctx, code)
	if err != nil {
		return err
	}

	participants, err := s.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return wrapUnreachable(err)
	}
	for _, p := range participants {
		kick := types.NewEvent(types.EventKindKick)
		kick.Reason = "session closed by teacher"
		s.bus.Publish(types.RoomID(session.Code, p.Alias), kick)
	}

	if err := s.store.DeleteSession(ctx, session.ID); err != nil {
		return wrapUnreachable(err)
	}

	s.log.Info("session closed", zap.String("code", session.Code))
	return nil
}

// ListActiveSessions returns unexpired sessions with participant counts for
// the teacher overview.
func (s *Service) ListActiveSessions(ctx context.Context) ([]*types.SessionSummary, error) {
	sessions, err := s.store.ListActiveSessions(ctx, s.now())
	if err != nil {
		return nil, wrapUnreachable(err)
	}
	return sessions, nil
}

// ListParticipants returns the participants of a session for observers.
func (s *Service) ListParticipants(ctx context.Context, code string) ([]*types.Participant, error) {
	session, err := s.LookupSession(ctx, code)
	if err != nil {
		return nil, err
	}

	participants, err := s.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return nil, wrapUnreachable(err)
	}
	return participants, nil
}

// DeleteExpired sweeps expired sessions. Idempotent; safe concurrently with
// live lookups.
func (s *Service) DeleteExpired(ctx context.Context) (int64, error) {
	deleted, err := s.store.DeleteExpiredSessions(ctx)
	if err != nil {
		return 0, wrapUnreachable(err)
	}
	if deleted > 0 {
		s.log.Info("expired sessions swept", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// generateCode draws length characters from the unambiguous alphabet.
func generateCode(length int) (string, error) {
	alphabet := types.CodeAlphabet
	buf := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// wrapUnreachable folds transient store failures into the generic
// "cannot reach session service" condition surfaced to the UI layer.
func wrapUnreachable(err error) error {
	return fmt.Errorf("%w: %v", interfaces.ErrUnreachable, err)
}
