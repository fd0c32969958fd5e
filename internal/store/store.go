// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/agent-mailbox/internal/domain"
	"github.com/google/uuid"
)

// ConnectionDirection tags a PENDING Connection from the caller's point of
// view when listing.
type ConnectionDirection string

const (
	DirectionOutgoing ConnectionDirection = "outgoing"
	DirectionIncoming ConnectionDirection = "incoming"
)

// PendingConnection pairs a live PENDING Connection with its direction and
// the other party's display name, as returned by /connections/pending and
// embedded in /inbox.
type PendingConnection struct {
	Connection domain.Connection
	Direction  ConnectionDirection
	OtherName  string
}

// InboxSession pairs a Session the caller participates in with its unread
// count and a short tail of recent messages, as returned by /inbox.
type InboxSession struct {
	Session     domain.Session
	OtherName   string
	UnreadCount int
	Recent      []domain.Message
}

// Repository defines the interface for persisting agents, connections,
// sessions, and messages. All write operations are transactional: either
// every change they describe is committed, or none is.
type Repository interface {
	// Agents

	// CreateAgent inserts a new Agent. Returns domain.ErrNameTaken if the
	// name is already registered.
	CreateAgent(ctx context.Context, agent *domain.Agent) error

	// GetAgentByID retrieves an Agent by ID, or domain.ErrNotFound.
	GetAgentByID(ctx context.Context, id uuid.UUID) (*domain.Agent, error)

	// GetAgentByName retrieves an Agent by its unique name, or
	// domain.ErrNotFound.
	GetAgentByName(ctx context.Context, name string) (*domain.Agent, error)

	// GetAgentByAPIKeyHash retrieves an Agent by the SHA-256 hash of its
	// API key, or domain.ErrNotFound.
	GetAgentByAPIKeyHash(ctx context.Context, hash string) (*domain.Agent, error)

	// Connections

	// CreateConnectionRequest validates and inserts a PENDING Connection
	// from requester to the named target, returning the generated
	// verification code embedded in the returned Connection. It enforces
	// the self-connection, active-exists, pending-exists, and
	// too-many-pending invariants, returning the matching domain.Err*
	// sentinel on violation.
	CreateConnectionRequest(ctx context.Context, requesterID uuid.UUID, targetAgentName, message string) (*domain.Connection, error)

	// ApproveConnection transitions the PENDING Connection identified by
	// code to ACTIVE on behalf of approverID, enforcing expiry,
	// target-identity, and reverse-active-exists invariants. Returns the
	// updated Connection and the requester Agent (for the push event).
	ApproveConnection(ctx context.Context, code string, approverID uuid.UUID) (*domain.Connection, *domain.Agent, error)

	// ListPendingConnections returns agentID's live (un-expired) PENDING
	// connections, tagged with direction and the other party's name.
	ListPendingConnections(ctx context.Context, agentID uuid.UUID) ([]PendingConnection, error)

	// HasActiveConnection reports whether an ACTIVE Connection links the
	// unordered pair {a, b}.
	HasActiveConnection(ctx context.Context, a, b uuid.UUID) (bool, error)

	// Sessions and messages

	// FindOrCreateSession returns the Session for the case-folded subject
	// over the unordered pair {initiatorID, participantID}, creating one
	// if none exists.
	FindOrCreateSession(ctx context.Context, subject string, initiatorID, participantID uuid.UUID) (*domain.Session, error)

	// GetSession retrieves a Session by ID, or domain.ErrNotFound.
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)

	// SendMessage persists a Message into the session, bumping
	// session.last_message_at, in one transaction. content must already
	// be encrypted.
	SendMessage(ctx context.Context, sessionID, senderID uuid.UUID, content, replyToSessionKey, room string) (*domain.Message, error)

	// ListInbox returns agentID's sessions ordered by last_message_at
	// DESC, each with unread count and up to the last 3 messages
	// (chronological, content still encrypted — the caller decrypts).
	// When unreadOnly is true, sessions with zero unread are omitted.
	ListInbox(ctx context.Context, agentID uuid.UUID, unreadOnly bool) ([]InboxSession, error)

	// SessionHistory returns the last limit messages (chronological,
	// content still encrypted) of a session the caller participates in,
	// and marks as read every returned message whose sender is not the
	// caller. Returns domain.ErrNotParticipant if agentID is not a party.
	SessionHistory(ctx context.Context, sessionID, agentID uuid.UUID, limit int) ([]domain.Message, error)

	// Maintenance

	// ExpirePendingConnections purges PENDING connections whose
	// expires_at is more than grace in the past. Returns the number of
	// rows removed.
	ExpirePendingConnections(ctx context.Context, grace time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying database connection.
	Close() error
}
