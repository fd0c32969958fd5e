package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/agent-mailbox/internal/domain"
	"github.com/ashureev/agent-mailbox/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// schemaVersion is bumped whenever initSchema's DDL changes shape in a way
// that would require a migration for existing databases.
const schemaVersion = 1

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS schema_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		api_key_hash TEXT NOT NULL UNIQUE,
		api_key_prefix TEXT NOT NULL,
		owner_contact TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL REFERENCES agents(id),
		target_id TEXT REFERENCES agents(id),
		target_agent_name TEXT NOT NULL,
		status TEXT NOT NULL,
		verification_code TEXT NOT NULL,
		message TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_connections_requester ON connections(requester_id, status);
	CREATE INDEX IF NOT EXISTS idx_connections_target_name ON connections(target_agent_name, status);
	CREATE INDEX IF NOT EXISTS idx_connections_code ON connections(verification_code, status);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		subject_fold TEXT NOT NULL,
		initiator_id TEXT NOT NULL REFERENCES agents(id),
		participant_id TEXT NOT NULL REFERENCES agents(id),
		pair_a TEXT NOT NULL,
		pair_b TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_message_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_pair_subject ON sessions(subject_fold, pair_a, pair_b);
	CREATE INDEX IF NOT EXISTS idx_sessions_initiator ON sessions(initiator_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_participant ON sessions(participant_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		sender_id TEXT NOT NULL REFERENCES agents(id),
		content TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		reply_to_session_key TEXT,
		room TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO schema_meta (id, version) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET version = excluded.version`,
		schemaVersion,
	); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying with exponential backoff on SQLITE_BUSY /
// "database is locked" errors.
func withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	const baseDelay = 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("sqlite busy, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxRetries, err)
}

// ---- Agents ----

func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agents (id, name, api_key_hash, api_key_prefix, owner_contact, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			agent.ID.String(), agent.Name, agent.APIKeyHash, agent.APIKeyPrefix,
			nullableString(agent.OwnerContact), agent.CreatedAt.Unix(),
		)
		if err != nil {
			if isUniqueConstraintOn(err, "agents.name") {
				return domain.ErrNameTaken
			}
			return fmt.Errorf("insert agent: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetAgentByID(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, owner_contact, created_at
		FROM agents WHERE id = ?`, id.String()))
}

func (s *SQLiteStore) GetAgentByName(ctx context.Context, name string) (*domain.Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, owner_contact, created_at
		FROM agents WHERE name = ?`, name))
}

func (s *SQLiteStore) GetAgentByAPIKeyHash(ctx context.Context, hash string) (*domain.Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, owner_contact, created_at
		FROM agents WHERE api_key_hash = ?`, hash))
}

func (s *SQLiteStore) scanAgent(row *sql.Row) (*domain.Agent, error) {
	var a domain.Agent
	var id string
	var ownerContact sql.NullString
	var createdAt int64

	err := row.Scan(&id, &a.Name, &a.APIKeyHash, &a.APIKeyPrefix, &ownerContact, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}

	a.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse agent id: %w", err)
	}
	a.OwnerContact = ownerContact.String
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

// ---- Connections ----

func (s *SQLiteStore) CreateConnectionRequest(ctx context.Context, requesterID uuid.UUID, targetAgentName, message string) (*domain.Connection, error) {
	var conn *domain.Connection
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		var requesterName string
		if err := tx.QueryRowContext(ctx, `SELECT name FROM agents WHERE id = ?`, requesterID.String()).Scan(&requesterName); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("lookup requester: %w", err)
		}
		if requesterName == targetAgentName {
			return domain.ErrSelfConnection
		}

		var targetIDStr string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM agents WHERE name = ?`, targetAgentName).Scan(&targetIDStr); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("lookup target: %w", err)
		}
		targetID, err := uuid.Parse(targetIDStr)
		if err != nil {
			return fmt.Errorf("parse target id: %w", err)
		}

		now := time.Now()

		active, err := activeConnectionExists(ctx, tx, requesterID, targetID)
		if err != nil {
			return err
		}
		if active {
			return domain.ErrActiveExists
		}

		var pendingCount int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM connections
			WHERE requester_id = ? AND status = 'PENDING' AND expires_at > ?`,
			requesterID.String(), now.Unix(),
		).Scan(&pendingCount); err != nil {
			return fmt.Errorf("count pending: %w", err)
		}
		if pendingCount >= domain.MaxLivePendingPerRequester {
			return domain.ErrTooManyPending
		}

		var pendingExists int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM connections
			WHERE status = 'PENDING' AND expires_at > ?
			AND ((requester_id = ? AND target_agent_name = ?)
			  OR (requester_id = ? AND target_agent_name = ?))`,
			now.Unix(), requesterID.String(), targetAgentName, targetID.String(), requesterName,
		).Scan(&pendingExists); err != nil {
			return fmt.Errorf("check pending exists: %w", err)
		}
		if pendingExists > 0 {
			return domain.ErrPendingExists
		}

		code, err := uniqueVerificationCode(ctx, tx, now)
		if err != nil {
			return err
		}

		c := &domain.Connection{
			ID:               uuid.New(),
			RequesterID:      requesterID,
			TargetAgentName:  targetAgentName,
			Status:           domain.ConnectionPending,
			VerificationCode: code,
			Message:          message,
			CreatedAt:        now,
			UpdatedAt:        now,
			ExpiresAt:        now.Add(domain.DefaultConnectionTTL),
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO connections
				(id, requester_id, target_id, target_agent_name, status, verification_code, message, created_at, updated_at, expires_at)
			VALUES (?, ?, NULL, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), c.RequesterID.String(), c.TargetAgentName, c.Status, c.VerificationCode,
			nullableString(c.Message), c.CreatedAt.Unix(), c.UpdatedAt.Unix(), c.ExpiresAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert connection: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func activeConnectionExists(ctx context.Context, q queryer, a, b uuid.UUID) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM connections
		WHERE status = 'ACTIVE'
		AND ((requester_id = ? AND target_id = ?) OR (requester_id = ? AND target_id = ?))`,
		a.String(), b.String(), b.String(), a.String(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check active connection: %w", err)
	}
	return n > 0, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// uniqueVerificationCode generates an AA-NNN code by rejection sampling,
// checked for uniqueness against live (un-expired PENDING) codes.
func uniqueVerificationCode(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	const maxAttempts = 10
	for i := 0; i < maxAttempts; i++ {
		code, err := randomVerificationCode()
		if err != nil {
			return "", err
		}
		var n int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM connections
			WHERE verification_code = ? AND status = 'PENDING' AND expires_at > ?`,
			code, now.Unix(),
		).Scan(&n); err != nil {
			return "", fmt.Errorf("check code uniqueness: %w", err)
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("generate verification code: %w", domain.ErrCodeExhausted)
}

func randomVerificationCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	letterA := 'A' + rune(buf[0]%26)
	letterB := 'A' + rune(buf[1]%26)
	digits := (int(buf[2])<<16 | int(buf[3])<<8 | int(buf[4])) % 1000
	return fmt.Sprintf("%c%c-%03d", letterA, letterB, digits), nil
}

func (s *SQLiteStore) ApproveConnection(ctx context.Context, code string, approverID uuid.UUID) (*domain.Connection, *domain.Agent, error) {
	var conn *domain.Connection
	var requester *domain.Agent
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		c, err := scanConnectionRow(tx.QueryRowContext(ctx, `
			SELECT id, requester_id, target_id, target_agent_name, status, verification_code,
			       message, created_at, updated_at, expires_at
			FROM connections WHERE verification_code = ? AND status = 'PENDING'`, code))
		if err != nil {
			return err
		}

		now := time.Now()
		if now.After(c.ExpiresAt) {
			return domain.ErrExpired
		}

		var approverName string
		if err := tx.QueryRowContext(ctx, `SELECT name FROM agents WHERE id = ?`, approverID.String()).Scan(&approverName); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("lookup approver: %w", err)
		}
		if c.TargetAgentName != approverName {
			return domain.ErrNotTarget
		}

		active, err := activeConnectionExists(ctx, tx, c.RequesterID, approverID)
		if err != nil {
			return err
		}
		if active {
			return domain.ErrActiveExists
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE connections SET target_id = ?, status = 'ACTIVE', updated_at = ? WHERE id = ?`,
			approverID.String(), now.Unix(), c.ID.String(),
		); err != nil {
			return fmt.Errorf("activate connection: %w", err)
		}

		req, err := s.scanAgentTx(tx, c.RequesterID)
		if err != nil {
			return err
		}

		c.TargetID = &approverID
		c.Status = domain.ConnectionActive
		c.UpdatedAt = now

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		conn = c
		requester = req
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return conn, requester, nil
}

func (s *SQLiteStore) scanAgentTx(tx *sql.Tx, id uuid.UUID) (*domain.Agent, error) {
	var a domain.Agent
	var idStr string
	var ownerContact sql.NullString
	var createdAt int64
	err := tx.QueryRow(`
		SELECT id, name, api_key_hash, api_key_prefix, owner_contact, created_at
		FROM agents WHERE id = ?`, id.String(),
	).Scan(&idStr, &a.Name, &a.APIKeyHash, &a.APIKeyPrefix, &ownerContact, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse agent id: %w", err)
	}
	a.OwnerContact = ownerContact.String
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

func scanConnectionRow(row *sql.Row) (*domain.Connection, error) {
	var c domain.Connection
	var id, requesterID string
	var targetID sql.NullString
	var message sql.NullString
	var createdAt, updatedAt, expiresAt int64

	err := row.Scan(&id, &requesterID, &targetID, &c.TargetAgentName, &c.Status,
		&c.VerificationCode, &message, &createdAt, &updatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection: %w", err)
	}

	c.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse connection id: %w", err)
	}
	c.RequesterID, err = uuid.Parse(requesterID)
	if err != nil {
		return nil, fmt.Errorf("parse requester id: %w", err)
	}
	if targetID.Valid {
		tid, err := uuid.Parse(targetID.String)
		if err != nil {
			return nil, fmt.Errorf("parse target id: %w", err)
		}
		c.TargetID = &tid
	}
	c.Message = message.String
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	c.ExpiresAt = time.Unix(expiresAt, 0)
	return &c, nil
}

func (s *SQLiteStore) ListPendingConnections(ctx context.Context, agentID uuid.UUID) ([]PendingConnection, error) {
	self, err := s.GetAgentByID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.requester_id, c.target_id, c.target_agent_name, c.status,
		       c.verification_code, c.message, c.created_at, c.updated_at, c.expires_at,
		       r.name
		FROM connections c
		JOIN agents r ON r.id = c.requester_id
		WHERE c.status = 'PENDING' AND c.expires_at > ?
		AND (c.requester_id = ? OR c.target_agent_name = ?)
		ORDER BY c.created_at DESC`,
		now, agentID.String(), self.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending connections: %w", err)
	}
	defer rows.Close()

	var out []PendingConnection
	for rows.Next() {
		var id, requesterID string
		var targetID sql.NullString
		var message sql.NullString
		var createdAt, updatedAt, expiresAt int64
		var requesterName string
		var c domain.Connection

		if err := rows.Scan(&id, &requesterID, &targetID, &c.TargetAgentName, &c.Status,
			&c.VerificationCode, &message, &createdAt, &updatedAt, &expiresAt, &requesterName); err != nil {
			return nil, fmt.Errorf("scan pending connection: %w", err)
		}
		c.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse connection id: %w", err)
		}
		c.RequesterID, err = uuid.Parse(requesterID)
		if err != nil {
			return nil, fmt.Errorf("parse requester id: %w", err)
		}
		if targetID.Valid {
			tid, err := uuid.Parse(targetID.String)
			if err != nil {
				return nil, fmt.Errorf("parse target id: %w", err)
			}
			c.TargetID = &tid
		}
		c.Message = message.String
		c.CreatedAt = time.Unix(createdAt, 0)
		c.UpdatedAt = time.Unix(updatedAt, 0)
		c.ExpiresAt = time.Unix(expiresAt, 0)

		pc := PendingConnection{Connection: c}
		if c.RequesterID == agentID {
			pc.Direction = DirectionOutgoing
			pc.OtherName = c.TargetAgentName
		} else {
			pc.Direction = DirectionIncoming
			pc.OtherName = requesterName
		}
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending connections: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) HasActiveConnection(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return activeConnectionExists(ctx, s.db, a, b)
}

// ---- Sessions and messages ----

func (s *SQLiteStore) FindOrCreateSession(ctx context.Context, subject string, initiatorID, participantID uuid.UUID) (*domain.Session, error) {
	fold := strings.ToLower(subject)
	pairA, pairB := orderedPair(initiatorID, participantID)

	var session *domain.Session
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		existing, err := scanSessionRow(tx.QueryRowContext(ctx, `
			SELECT id, subject, initiator_id, participant_id, created_at, last_message_at
			FROM sessions WHERE subject_fold = ? AND pair_a = ? AND pair_b = ?`, fold, pairA, pairB))
		if err == nil {
			session = existing
			return tx.Commit()
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		now := time.Now()
		newSession := &domain.Session{
			ID:            uuid.New(),
			Subject:       subject,
			InitiatorID:   initiatorID,
			ParticipantID: participantID,
			CreatedAt:     now,
			LastMessageAt: now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, subject, subject_fold, initiator_id, participant_id, pair_a, pair_b, created_at, last_message_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			newSession.ID.String(), newSession.Subject, fold,
			newSession.InitiatorID.String(), newSession.ParticipantID.String(),
			pairA, pairB, newSession.CreatedAt.Unix(), newSession.LastMessageAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		session = newSession
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func orderedPair(a, b uuid.UUID) (string, string) {
	as, bs := a.String(), b.String()
	pair := []string{as, bs}
	sort.Strings(pair)
	return pair[0], pair[1]
}

func scanSessionRow(row *sql.Row) (*domain.Session, error) {
	var s domain.Session
	var id, initiatorID, participantID string
	var createdAt, lastMessageAt int64

	err := row.Scan(&id, &s.Subject, &initiatorID, &participantID, &createdAt, &lastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	s.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	s.InitiatorID, err = uuid.Parse(initiatorID)
	if err != nil {
		return nil, fmt.Errorf("parse initiator id: %w", err)
	}
	s.ParticipantID, err = uuid.Parse(participantID)
	if err != nil {
		return nil, fmt.Errorf("parse participant id: %w", err)
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	s.LastMessageAt = time.Unix(lastMessageAt, 0)
	return &s, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return scanSessionRow(s.db.QueryRowContext(ctx, `
		SELECT id, subject, initiator_id, participant_id, created_at, last_message_at
		FROM sessions WHERE id = ?`, id.String()))
}

func (s *SQLiteStore) SendMessage(ctx context.Context, sessionID, senderID uuid.UUID, content, replyToSessionKey, room string) (*domain.Message, error) {
	var msg *domain.Message
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		now := time.Now()
		m := &domain.Message{
			ID:                uuid.New(),
			SessionID:         sessionID,
			SenderID:          senderID,
			Content:           content,
			ReplyToSessionKey: replyToSessionKey,
			Room:              room,
			CreatedAt:         now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, sender_id, content, is_read, reply_to_session_key, room, created_at)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
			m.ID.String(), m.SessionID.String(), m.SenderID.String(), m.Content,
			nullableString(m.ReplyToSessionKey), nullableString(m.Room), m.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET last_message_at = ? WHERE id = ?`,
			now.Unix(), sessionID.String()); err != nil {
			return fmt.Errorf("update session last_message_at: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) ListInbox(ctx context.Context, agentID uuid.UUID, unreadOnly bool) ([]InboxSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, initiator_id, participant_id, created_at, last_message_at
		FROM sessions
		WHERE initiator_id = ? OR participant_id = ?
		ORDER BY last_message_at DESC`, agentID.String(), agentID.String())
	if err != nil {
		return nil, fmt.Errorf("query inbox sessions: %w", err)
	}

	var sessions []domain.Session
	for rows.Next() {
		var sess domain.Session
		var id, initiatorID, participantID string
		var createdAt, lastMessageAt int64
		if err := rows.Scan(&id, &sess.Subject, &initiatorID, &participantID, &createdAt, &lastMessageAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan inbox session: %w", err)
		}
		sess.ID, err = uuid.Parse(id)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse session id: %w", err)
		}
		sess.InitiatorID, err = uuid.Parse(initiatorID)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse initiator id: %w", err)
		}
		sess.ParticipantID, err = uuid.Parse(participantID)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse participant id: %w", err)
		}
		sess.CreatedAt = time.Unix(createdAt, 0)
		sess.LastMessageAt = time.Unix(lastMessageAt, 0)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate inbox sessions: %w", err)
	}
	rows.Close()

	if len(sessions) == 0 {
		return nil, nil
	}

	otherIDs := make(map[uuid.UUID]struct{}, len(sessions))
	for _, sess := range sessions {
		otherIDs[sess.OtherParticipant(agentID)] = struct{}{}
	}
	names, err := s.batchAgentNames(ctx, otherIDs)
	if err != nil {
		return nil, err
	}

	out := make([]InboxSession, 0, len(sessions))
	for _, sess := range sessions {
		unread, err := s.unreadCount(ctx, sess.ID, agentID)
		if err != nil {
			return nil, err
		}
		if unreadOnly && unread == 0 {
			continue
		}
		recent, err := s.recentMessages(ctx, sess.ID, 3)
		if err != nil {
			return nil, err
		}
		out = append(out, InboxSession{
			Session:     sess,
			OtherName:   names[sess.OtherParticipant(agentID)],
			UnreadCount: unread,
			Recent:      recent,
		})
	}
	return out, nil
}

func (s *SQLiteStore) batchAgentNames(ctx context.Context, ids map[uuid.UUID]struct{}) (map[uuid.UUID]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, 0, len(ids))
	args := make([]interface{}, 0, len(ids))
	for id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id.String())
	}
	query := fmt.Sprintf(`SELECT id, name FROM agents WHERE id IN (%s)`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch resolve agent names: %w", err)
	}
	defer rows.Close()

	names := make(map[uuid.UUID]string, len(ids))
	for rows.Next() {
		var idStr, name string
		if err := rows.Scan(&idStr, &name); err != nil {
			return nil, fmt.Errorf("scan agent name: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse agent id: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent names: %w", err)
	}
	return names, nil
}

func (s *SQLiteStore) unreadCount(ctx context.Context, sessionID, agentID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE session_id = ? AND sender_id != ? AND is_read = 0`,
		sessionID.String(), agentID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) recentMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender_id, content, is_read, reply_to_session_key, room, created_at
		FROM (
			SELECT * FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`, sessionID.String(), n)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

func scanMessageRows(rows *sql.Rows) ([]domain.Message, error) {
	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var id, sessionID, senderID string
		var isRead int
		var replyTo, room sql.NullString
		var createdAt int64

		if err := rows.Scan(&id, &sessionID, &senderID, &m.Content, &isRead, &replyTo, &room, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var err error
		m.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse message id: %w", err)
		}
		m.SessionID, err = uuid.Parse(sessionID)
		if err != nil {
			return nil, fmt.Errorf("parse session id: %w", err)
		}
		m.SenderID, err = uuid.Parse(senderID)
		if err != nil {
			return nil, fmt.Errorf("parse sender id: %w", err)
		}
		m.IsRead = isRead != 0
		m.ReplyToSessionKey = replyTo.String
		m.Room = room.String
		m.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SessionHistory(ctx context.Context, sessionID, agentID uuid.UUID, limit int) ([]domain.Message, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasParticipant(agentID) {
		return nil, domain.ErrNotParticipant
	}

	var messages []domain.Message
	err = withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, `
			SELECT id, session_id, sender_id, content, is_read, reply_to_session_key, room, created_at
			FROM (
				SELECT * FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
			) ORDER BY created_at ASC`, sessionID.String(), limit)
		if err != nil {
			return fmt.Errorf("query history: %w", err)
		}
		got, err := scanMessageRows(rows)
		rows.Close()
		if err != nil {
			return err
		}

		var toMarkRead []string
		for _, m := range got {
			if m.SenderID != agentID && !m.IsRead {
				toMarkRead = append(toMarkRead, m.ID.String())
			}
		}
		if len(toMarkRead) > 0 {
			placeholders := make([]string, len(toMarkRead))
			args := make([]interface{}, len(toMarkRead))
			for i, id := range toMarkRead {
				placeholders[i] = "?"
				args[i] = id
			}
			query := fmt.Sprintf(`UPDATE messages SET is_read = 1 WHERE id IN (%s)`, strings.Join(placeholders, ","))
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("mark messages read: %w", err)
			}
			for i := range got {
				if got[i].SenderID != agentID {
					got[i].IsRead = true
				}
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		messages = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ---- Maintenance ----

func (s *SQLiteStore) ExpirePendingConnections(ctx context.Context, grace time.Duration) (int64, error) {
	threshold := time.Now().Add(-grace).Unix()
	var n int64
	err := withRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `
			DELETE FROM connections WHERE status = 'PENDING' AND expires_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("expire pending connections: %w", err)
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueConstraintOn(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") && strings.Contains(err.Error(), column)
}
