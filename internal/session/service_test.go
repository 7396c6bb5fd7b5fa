package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// mockStore is an in-memory SessionStore with injectable failures.
type mockStore struct {
	mu           sync.Mutex
	sessions     map[string]*types.Session       // by code
	participants map[string]*types.Participant   // by sessionID:alias
	insertErrs   []error                         // consumed per InsertSession call
	failWith     error                           // returned by everything when set
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions:     make(map[string]*types.Session),
		participants: make(map[string]*types.Participant),
	}
}

func (m *mockStore) key(sessionID, alias string) string { return sessionID + ":" + alias }

func (m *mockStore) InsertSession(ctx context.Context, s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.insertErrs) > 0 {
		err := m.insertErrs[0]
		m.insertErrs = m.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.sessions[s.Code]; ok {
		return interfaces.ErrCodeCollision
	}
	m.sessions[s.Code] = s
	return nil
}

func (m *mockStore) GetSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	s, ok := m.sessions[code]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return s, nil
}

func (m *mockStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for code, s := range m.sessions {
		if s.ID == sessionID {
			delete(m.sessions, code)
		}
	}
	for key, p := range m.participants {
		if p.SessionID == sessionID {
			delete(m.participants, key)
		}
	}
	return nil
}

func (m *mockStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	var deleted int64
	now := time.Now()
	for code, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, code)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockStore) ListActiveSessions(ctx context.Context, now time.Time) ([]*types.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.SessionSummary
	for _, s := range m.sessions {
		if s.Expired(now) {
			continue
		}
		count := 0
		for _, p := range m.participants {
			if p.SessionID == s.ID {
				count++
			}
		}
		out = append(out, &types.SessionSummary{Session: *s, ParticipantCount: count})
	}
	return out, nil
}

func (m *mockStore) UpsertParticipant(ctx context.Context, p *types.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.participants[m.key(p.SessionID, p.Alias)] = p
	return nil
}

func (m *mockStore) GetParticipant(ctx context.Context, sessionID, alias string) (*types.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[m.key(sessionID, alias)]
	if !ok {
		return nil, interfaces.ErrParticipantRemoved
	}
	return p, nil
}

func (m *mockStore) TouchParticipant(ctx context.Context, sessionID, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[m.key(sessionID, alias)]
	if !ok {
		return interfaces.ErrParticipantRemoved
	}
	p.LastSeen = time.Now()
	return nil
}

func (m *mockStore) DeleteParticipant(ctx context.Context, sessionID, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.participants, m.key(sessionID, alias))
	return nil
}

func (m *mockStore) ListParticipants(ctx context.Context, sessionID string) ([]*types.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Participant
	for _, p := range m.participants {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                          { return nil }

// mockBus records publishes.
type mockBus struct {
	mu        sync.Mutex
	published map[string][]types.LiveEvent
}

func newMockBus() *mockBus {
	return &mockBus{published: make(map[string][]types.LiveEvent)}
}

func (b *mockBus) Publish(room string, event types.LiveEvent) {
	b.mu.Lock()
	b.published[room] = append(b.published[room], event)
	b.mu.Unlock()
}

func (b *mockBus) Subscribe(room string, handler interfaces.EventHandler) func() {
	return func() {}
}

func (b *mockBus) Stats() map[string]int { return nil }

func (b *mockBus) eventsFor(room string) []types.LiveEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[room]
}

func testPolicy() Policy {
	return Policy{
		SessionTTL:     90 * time.Minute,
		CodeLength:     6,
		CodeRetries:    5,
		AliasFreshness: 2 * time.Minute,
	}
}

func newTestService(store interfaces.SessionStore, bus interfaces.EventBus) *Service {
	return NewService(store, bus, testPolicy(), zap.NewNop())
}

func TestCreateSession(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, newMockBus())

	s, err := svc.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(s.Code) != 6 {
		t.Errorf("code length = %d, want 6", len(s.Code))
	}
	for _, c := range s.Code {
		if c == '0' || c == 'O' || c == '1' || c == 'I' {
			t.Errorf("code %q contains confusable character %q", s.Code, c)
		}
	}
	if got := s.ExpiresAt.Sub(s.CreatedAt); got != 90*time.Minute {
		t.Errorf("TTL = %v, want 90m", got)
	}
}

func TestCreateSessionRetriesOnCollision(t *testing.T) {
	store := newMockStore()
	store.insertErrs = []error{interfaces.ErrCodeCollision, interfaces.ErrCodeCollision}
	svc := newTestService(store, newMockBus())

	if _, err := svc.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession should survive two collisions: %v", err)
	}
}

func TestCreateSessionExhaustsRetries(t *testing.T) {
	store := newMockStore()
	for i := 0; i < 5; i++ {
		store.insertErrs = append(store.insertErrs, interfaces.ErrCodeCollision)
	}
	svc := newTestService(store, newMockBus())

	if _, err := svc.CreateSession(context.Background()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestLookupSession(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, newMockBus())
	ctx := context.Background()

	created, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("case insensitive", func(t *testing.T) {
		lower := " " + created.Code + " "
		got, err := svc.LookupSession(ctx, lower)
		if err != nil {
			t.Fatalf("LookupSession: %v", err)
		}
		if got.ID != created.ID {
			t.Error("looked up a different session")
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := svc.LookupSession(ctx, "ZZZZZZ")
		if !errors.Is(err, interfaces.ErrSessionNotFound) {
			t.Errorf("got %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("invalid code reads as not found", func(t *testing.T) {
		_, err := svc.LookupSession(ctx, "ab!cd")
		if !errors.Is(err, interfaces.ErrSessionNotFound) {
			t.Errorf("got %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		svc.now = func() time.Time { return created.ExpiresAt.Add(time.Second) }
		defer func() { svc.now = time.Now }()

		_, err := svc.LookupSession(ctx, created.Code)
		if !errors.Is(err, interfaces.ErrSessionExpired) {
			t.Errorf("got %v, want ErrSessionExpired", err)
		}
	})
}

func TestJoin(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *mockStore, *types.Session) {
		store := newMockStore()
		svc := newTestService(store, newMockBus())
		s, err := svc.CreateSession(ctx)
		if err != nil {
			t.Fatal(err)
		}
		return svc, store, s
	}

	t.Run("first join", func(t *testing.T) {
		svc, store, s := setup(t)

		got, err := svc.Join(ctx, s.Code, "  Lærke  ", "tok-1")
		if err != nil {
			t.Fatalf("Join: %v", err)
		}
		if got.ID != s.ID {
			t.Error("joined the wrong session")
		}
		p, err := store.GetParticipant(ctx, s.ID, "Lærke")
		if err != nil {
			t.Fatalf("participant not persisted: %v", err)
		}
		if p.ClientToken != "tok-1" {
			t.Errorf("ClientToken = %q, want tok-1", p.ClientToken)
		}
	})

	t.Run("fresh alias with different token is rejected", func(t *testing.T) {
		svc, _, s := setup(t)

		if _, err := svc.Join(ctx, s.Code, "Lærke", "tok-1"); err != nil {
			t.Fatal(err)
		}
		_, err := svc.Join(ctx, s.Code, "Lærke", "tok-2")
		if !errors.Is(err, interfaces.ErrAliasTaken) {
			t.Errorf("got %v, want ErrAliasTaken", err)
		}
	})

	t.Run("same token resumes silently", func(t *testing.T) {
		svc, _, s := setup(t)

		if _, err := svc.Join(ctx, s.Code, "Lærke", "tok-1"); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Join(ctx, s.Code, "Lærke", "tok-1"); err != nil {
			t.Errorf("same device should resume: %v", err)
		}
	})

	t.Run("stale alias is taken over", func(t *testing.T) {
		svc, store, s := setup(t)

		if _, err := svc.Join(ctx, s.Code, "Lærke", "tok-1"); err != nil {
			t.Fatal(err)
		}
		// Move past the freshness window without expiring the session.
		svc.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
		defer func() { svc.now = time.Now }()

		if _, err := svc.Join(ctx, s.Code, "Lærke", "tok-2"); err != nil {
			t.Fatalf("stale alias should be reusable: %v", err)
		}
		p, err := store.GetParticipant(ctx, s.ID, "Lærke")
		if err != nil {
			t.Fatal(err)
		}
		if p.ClientToken != "tok-2" {
			t.Errorf("takeover should overwrite token, got %q", p.ClientToken)
		}
	})

	t.Run("expired session", func(t *testing.T) {
		svc, _, s := setup(t)

		svc.now = func() time.Time { return s.ExpiresAt.Add(time.Second) }
		defer func() { svc.now = time.Now }()

		_, err := svc.Join(ctx, s.Code, "Lærke", "tok-1")
		if !errors.Is(err, interfaces.ErrSessionExpired) {
			t.Errorf("got %v, want ErrSessionExpired", err)
		}
	})

	t.Run("invalid alias", func(t *testing.T) {
		svc, _, s := setup(t)

		_, err := svc.Join(ctx, s.Code, "   ", "tok-1")
		if !errors.Is(err, types.ErrEmptyAlias) {
			t.Errorf("got %v, want ErrEmptyAlias", err)
		}
	})
}

func TestTouch(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	svc := newTestService(store, newMockBus())

	s, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Join(ctx, s.Code, "Lærke", "tok"); err != nil {
		t.Fatal(err)
	}

	if err := svc.Touch(ctx, s.Code, "Lærke"); err != nil {
		t.Errorf("Touch: %v", err)
	}

	err = svc.Touch(ctx, s.Code, "Nobody")
	if !errors.Is(err, interfaces.ErrParticipantRemoved) {
		t.Errorf("got %v, want ErrParticipantRemoved", err)
	}
}

func TestEvictPublishesKick(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	bus := newMockBus()
	svc := newTestService(store, bus)

	s, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Join(ctx, s.Code, "Lærke", "tok"); err != nil {
		t.Fatal(err)
	}

	if err := svc.Evict(ctx, s.Code, "Lærke"); err != nil {
		t.Fatalf("Evict: %v", err)
	}

	if _, err := store.GetParticipant(ctx, s.ID, "Lærke"); !errors.Is(err, interfaces.ErrParticipantRemoved) {
		t.Error("participant row should be gone")
	}

	room := types.RoomID(s.Code, "Lærke")
	events := bus.eventsFor(room)
	if len(events) != 1 || events[0].Kind != types.EventKindKick {
		t.Fatalf("expected one kick event in %s, got %v", room, events)
	}
}

func TestCloseSessionKicksEveryone(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	bus := newMockBus()
	svc := newTestService(store, bus)

	s, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, alias := range []string{"Alma", "Viggo"} {
		if _, err := svc.Join(ctx, s.Code, alias, "tok-"+alias); err != nil {
			t.Fatal(err)
		}
	}

	if err := svc.CloseSession(ctx, s.Code); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	for _, alias := range []string{"Alma", "Viggo"} {
		events := bus.eventsFor(types.RoomID(s.Code, alias))
		if len(events) != 1 || events[0].Kind != types.EventKindKick {
			t.Errorf("room %s: expected one kick, got %v", alias, events)
		}
	}
	if _, err := svc.LookupSession(ctx, s.Code); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("session should be deleted, got %v", err)
	}
}

func TestUnreachableWrapping(t *testing.T) {
	store := newMockStore()
	store.failWith = errors.New("disk on fire")
	svc := newTestService(store, newMockBus())

	_, err := svc.LookupSession(context.Background(), "AB12CD")
	if !errors.Is(err, interfaces.ErrUnreachable) {
		t.Errorf("store failure should wrap as ErrUnreachable, got %v", err)
	}
}
