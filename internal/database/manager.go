package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// Config holds database manager settings.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Manager implements interfaces.SessionStore on SQLite. All writes funnel
// through a single goroutine; reads run concurrently against the pool.
type Manager struct {
	db           *sql.DB
	log          *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies connection settings and SQLite
// pragmas, and starts the write loop.
func NewManager(cfg *Config, log *zap.Logger) (*Manager, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}

	m := &Manager{
		db:           db,
		log:          log,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && isTransient(err) {
				m.log.Warn("database write failed, retrying once", zap.Error(err))
				time.Sleep(250 * time.Millisecond)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			m.log.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// InsertSession persists a new session. A code collision is reported as
// interfaces.ErrCodeCollision so the service layer can regenerate.
func (m *Manager) InsertSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO sessions (id, code, created_at, expires_at)
			VALUES (?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			session.ID,
			session.Code,
			session.CreatedAt.UTC(),
			session.ExpiresAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return interfaces.ErrCodeCollision
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSessionByCode retrieves a session row by canonical code. Expiry is not
// judged here: the row is returned as stored so callers can distinguish
// expired from absent.
func (m *Manager) GetSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	query := `
		SELECT id, code, created_at, expires_at
		FROM sessions
		WHERE code = ?
	`

	var session types.Session
	err := m.db.QueryRowContext(ctx, query, code).Scan(
		&session.ID,
		&session.Code,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	return &session, nil
}

// DeleteSession removes a session; participants go with it via cascade.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

// DeleteExpiredSessions removes every session past expiry. A session
// mid-deletion is indistinguishable from "already expired" to readers, so
// the sweep is safe to run concurrently with lookups.
func (m *Manager) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	var deleted int64
	err := m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`DELETE FROM sessions WHERE expires_at <= ?`, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to delete expired sessions: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// ListActiveSessions returns unexpired sessions with participant counts,
// newest first.
func (m *Manager) ListActiveSessions(ctx context.Context, now time.Time) ([]*types.SessionSummary, error) {
	query := `
		SELECT s.id, s.code, s.created_at, s.expires_at, COUNT(p.alias)
		FROM sessions s
		LEFT JOIN participants p ON p.session_id = s.id
		WHERE s.expires_at > ?
		GROUP BY s.id
		ORDER BY s.created_at DESC
	`

	rows, err := m.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.SessionSummary
	for rows.Next() {
		var s types.SessionSummary
		if err := rows.Scan(&s.ID, &s.Code, &s.CreatedAt, &s.ExpiresAt, &s.ParticipantCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return sessions, nil
}

// UpsertParticipant inserts or overwrites a participant row. The collision
// policy lives in the session service; the store overwrite is unconditional.
func (m *Manager) UpsertParticipant(ctx context.Context, p *types.Participant) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO participants (session_id, alias, last_seen, client_token)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id, alias)
			DO UPDATE SET last_seen = excluded.last_seen, client_token = excluded.client_token
		`
		_, err := db.ExecContext(ctx, query,
			p.SessionID,
			p.Alias,
			p.LastSeen.UTC(),
			p.ClientToken,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert participant: %w", err)
		}
		return nil
	})
}

// GetParticipant retrieves a participant by (session, alias).
func (m *Manager) GetParticipant(ctx context.Context, sessionID, alias string) (*types.Participant, error) {
	query := `
		SELECT session_id, alias, last_seen, client_token
		FROM participants
		WHERE session_id = ? AND alias = ?
	`

	var p types.Participant
	err := m.db.QueryRowContext(ctx, query, sessionID, alias).Scan(
		&p.SessionID,
		&p.Alias,
		&p.LastSeen,
		&p.ClientToken,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrParticipantRemoved
		}
		return nil, fmt.Errorf("failed to query participant: %w", err)
	}

	return &p, nil
}

// TouchParticipant updates last_seen. A missing row reports
// interfaces.ErrParticipantRemoved so the caller can force a local leave.
func (m *Manager) TouchParticipant(ctx context.Context, sessionID, alias string) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE participants SET last_seen = ? WHERE session_id = ? AND alias = ?`,
			time.Now().UTC(), sessionID, alias)
		if err != nil {
			return fmt.Errorf("failed to touch participant: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrParticipantRemoved
		}
		return nil
	})
}

// DeleteParticipant removes a participant row. Idempotent: deleting a
// missing row is not an error.
func (m *Manager) DeleteParticipant(ctx context.Context, sessionID, alias string) error {
	return m.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx,
			`DELETE FROM participants WHERE session_id = ? AND alias = ?`,
			sessionID, alias); err != nil {
			return fmt.Errorf("failed to delete participant: %w", err)
		}
		return nil
	})
}

// ListParticipants returns all participants of a session ordered by alias.
func (m *Manager) ListParticipants(ctx context.Context, sessionID string) ([]*types.Participant, error) {
	query := `
		SELECT session_id, alias, last_seen, client_token
		FROM participants
		WHERE session_id = ?
		ORDER BY alias ASC
	`

	rows, err := m.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var participants []*types.Participant
	for rows.Next() {
		var p types.Participant
		if err := rows.Scan(&p.SessionID, &p.Alias, &p.LastSeen, &p.ClientToken); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		participants = append(participants, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant rows: %w", err)
	}

	return participants, nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := m.db.QueryContext(ctx, "SELECT COUNT(*) FROM sessions LIMIT 1"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying connection for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the write loop and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
