package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(&Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:  5,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	migrator := NewMigrationManager(m.GetDB(), "../../migrations")
	if err := migrator.ApplyMigrations(); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	return m
}

func testSession(code string) *types.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.Session{
		ID:        uuid.New().String(),
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(90 * time.Minute),
	}
}

func TestInsertAndGetSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	want := testSession("AB12CD")
	if err := m.InsertSession(ctx, want); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	got, err := m.GetSessionByCode(ctx, "AB12CD")
	if err != nil {
		t.Fatalf("GetSessionByCode: %v", err)
	}
	if got.ID != want.ID || got.Code != want.Code {
		t.Errorf("got session %+v, want %+v", got, want)
	}
}

func TestInsertSessionCodeCollision(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.InsertSession(ctx, testSession("AB12CD")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := m.InsertSession(ctx, testSession("AB12CD"))
	if !errors.Is(err, interfaces.ErrCodeCollision) {
		t.Errorf("duplicate code: got %v, want ErrCodeCollision", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetSessionByCode(context.Background(), "ZZZZZZ")
	if !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}

func TestGetSessionReturnsExpiredRow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s := testSession("AB12CD")
	s.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	if err := m.InsertSession(ctx, s); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	// The store returns the row as stored; expiry is the caller's call.
	got, err := m.GetSessionByCode(ctx, "AB12CD")
	if err != nil {
		t.Fatalf("expired row should still be returned: %v", err)
	}
	if !got.Expired(time.Now()) {
		t.Error("returned row should read as expired")
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s := testSession("AB12CD")
	if err := m.InsertSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	p := &types.Participant{SessionID: s.ID, Alias: "Lærke", LastSeen: time.Now().UTC(), ClientToken: "tok"}
	if err := m.UpsertParticipant(ctx, p); err != nil {
		t.Fatal(err)
	}

	if err := m.DeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if _, err := m.GetSessionByCode(ctx, "AB12CD"); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("session should be gone, got %v", err)
	}
	if _, err := m.GetParticipant(ctx, s.ID, "Lærke"); !errors.Is(err, interfaces.ErrParticipantRemoved) {
		t.Errorf("participant should cascade away, got %v", err)
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	expired := testSession("AAAAAA")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	live := testSession("BBBBBB")

	if err := m.InsertSession(ctx, expired); err != nil {
		t.Fatal(err)
	}
	if err := m.InsertSession(ctx, live); err != nil {
		t.Fatal(err)
	}

	deleted, err := m.DeleteExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("DeleteExpiredSessions: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := m.GetSessionByCode(ctx, "BBBBBB"); err != nil {
		t.Errorf("live session should survive the sweep: %v", err)
	}

	// Idempotent.
	deleted, err = m.DeleteExpiredSessions(ctx)
	if err != nil || deleted != 0 {
		t.Errorf("second sweep = (%d, %v), want (0, nil)", deleted, err)
	}
}

func TestListActiveSessions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	expired := testSession("AAAAAA")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	live := testSession("BBBBBB")

	if err := m.InsertSession(ctx, expired); err != nil {
		t.Fatal(err)
	}
	if err := m.InsertSession(ctx, live); err != nil {
		t.Fatal(err)
	}
	p := &types.Participant{SessionID: live.ID, Alias: "Lærke", LastSeen: time.Now().UTC(), ClientToken: "tok"}
	if err := m.UpsertParticipant(ctx, p); err != nil {
		t.Fatal(err)
	}

	sessions, err := m.ListActiveSessions(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].Code != "BBBBBB" {
		t.Errorf("Code = %q, want BBBBBB", sessions[0].Code)
	}
	if sessions[0].ParticipantCount != 1 {
		t.Errorf("ParticipantCount = %d, want 1", sessions[0].ParticipantCount)
	}
}

func TestUpsertParticipantOverwrites(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s := testSession("AB12CD")
	if err := m.InsertSession(ctx, s); err != nil {
		t.Fatal(err)
	}

	first := &types.Participant{SessionID: s.ID, Alias: "Lærke", LastSeen: time.Now().UTC().Add(-time.Hour), ClientToken: "old"}
	if err := m.UpsertParticipant(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &types.Participant{SessionID: s.ID, Alias: "Lærke", LastSeen: time.Now().UTC(), ClientToken: "new"}
	if err := m.UpsertParticipant(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetParticipant(ctx, s.ID, "Lærke")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if got.ClientToken != "new" {
		t.Errorf("ClientToken = %q, want new", got.ClientToken)
	}
	if !got.LastSeen.After(first.LastSeen) {
		t.Error("LastSeen should have been overwritten")
	}
}

func TestTouchParticipant(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s := testSession("AB12CD")
	if err := m.InsertSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	p := &types.Participant{SessionID: s.ID, Alias: "Lærke", LastSeen: time.Now().UTC().Add(-time.Hour), ClientToken: "tok"}
	if err := m.UpsertParticipant(ctx, p); err != nil {
		t.Fatal(err)
	}

	if err := m.TouchParticipant(ctx, s.ID, "Lærke"); err != nil {
		t.Fatalf("TouchParticipant: %v", err)
	}
	got, err := m.GetParticipant(ctx, s.ID, "Lærke")
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastSeen.After(p.LastSeen) {
		t.Error("LastSeen should advance on touch")
	}

	err = m.TouchParticipant(ctx, s.ID, "Nobody")
	if !errors.Is(err, interfaces.ErrParticipantRemoved) {
		t.Errorf("touching missing row: got %v, want ErrParticipantRemoved", err)
	}
}

func TestDeleteParticipantIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s := testSession("AB12CD")
	if err := m.InsertSession(ctx, s); err != nil {
		t.Fatal(err)
	}

	if err := m.DeleteParticipant(ctx, s.ID, "Nobody"); err != nil {
		t.Errorf("deleting a missing row should not error: %v", err)
	}
}

func TestListParticipantsOrdered(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s := testSession("AB12CD")
	if err := m.InsertSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	for _, alias := range []string{"Viggo", "Alma", "Lærke"} {
		p := &types.Participant{SessionID: s.ID, Alias: alias, LastSeen: time.Now().UTC(), ClientToken: "tok"}
		if err := m.UpsertParticipant(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	participants, err := m.ListParticipants(ctx, s.ID)
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(participants) != 3 {
		t.Fatalf("got %d participants, want 3", len(participants))
	}
	if participants[0].Alias != "Alma" {
		t.Errorf("first alias = %q, want Alma", participants[0].Alias)
	}
}

func TestHealthCheck(t *testing.T) {
	m := newTestManager(t)
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	if err := m.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
