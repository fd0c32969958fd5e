package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is a message thread between two agents, keyed on case-folded
// subject within the unordered pair. It is created implicitly on first send
// and never deleted.
type Session struct {
	ID            uuid.UUID
	Subject       string
	InitiatorID   uuid.UUID
	ParticipantID uuid.UUID
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// Participants returns the unordered pair of agent IDs in the session.
func (s *Session) Participants() (uuid.UUID, uuid.UUID) {
	return s.InitiatorID, s.ParticipantID
}

// HasParticipant reports whether agentID is a party to the session.
func (s *Session) HasParticipant(agentID uuid.UUID) bool {
	return s.InitiatorID == agentID || s.ParticipantID == agentID
}

// OtherParticipant returns the counterpart of agentID within the session.
// Behavior is undefined if agentID is not a participant.
func (s *Session) OtherParticipant(agentID uuid.UUID) uuid.UUID {
	if s.InitiatorID == agentID {
		return s.ParticipantID
	}
	return s.InitiatorID
}

// MaxSubjectLength is the maximum accepted subject length at the API
// boundary.
const MaxSubjectLength = 255
