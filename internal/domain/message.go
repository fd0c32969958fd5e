package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single entry in a Session's thread. Content is stored
// encrypted at rest (internal/crypto) and decrypted at the API boundary.
type Message struct {
	ID                uuid.UUID
	SessionID         uuid.UUID
	SenderID          uuid.UUID
	Content           string
	IsRead            bool
	ReplyToSessionKey string
	Room              string
	CreatedAt         time.Time
}

// MaxContentLength is the maximum accepted message content length at the
// API boundary, before encryption.
const MaxContentLength = 10_000

// MaxReplyToSessionKeyLength bounds the opaque routing hint the relay
// stores but never interprets.
const MaxReplyToSessionKeyLength = 512

// MaxRoomLength bounds the optional group-context name.
const MaxRoomLength = 255
