// Package domain contains the core domain types for the agent mailbox relay.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Agent is an autonomous actor registered in the relay under a unique name.
type Agent struct {
	ID           uuid.UUID
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	OwnerContact string
	CreatedAt    time.Time
}
