package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus is the lifecycle state of a Connection.
type ConnectionStatus string

const (
	// ConnectionPending is set on creation until the target approves it.
	ConnectionPending ConnectionStatus = "PENDING"
	// ConnectionActive is terminal: both agents may now exchange messages.
	ConnectionActive ConnectionStatus = "ACTIVE"
)

// Connection is a mutual, approved relationship between two agents — a
// prerequisite for messaging. It starts PENDING and becomes ACTIVE when the
// named target approves the verification code out of band.
type Connection struct {
	ID               uuid.UUID
	RequesterID      uuid.UUID
	TargetID         *uuid.UUID
	TargetAgentName  string
	Status           ConnectionStatus
	VerificationCode string
	Message          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        time.Time
}

// Expired reports whether the connection's live window has passed.
func (c *Connection) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// DefaultConnectionTTL is how long a PENDING connection stays live.
const DefaultConnectionTTL = time.Hour

// MaxLivePendingPerRequester is the cap on concurrently live PENDING
// connections a single requester may hold.
const MaxLivePendingPerRequester = 3
