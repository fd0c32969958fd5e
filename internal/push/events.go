package push

import "time"

// EventConnectionRequest is pushed to a target agent when another agent
// requests a connection.
type EventConnectionRequest struct {
	Type             string `json:"type"`
	ConnectionID     string `json:"connection_id"`
	FromAgent        string `json:"from_agent"`
	VerificationCode string `json:"verification_code"`
	Message          string `json:"message,omitempty"`
}

// NewConnectionRequestEvent builds the connection_request push payload.
func NewConnectionRequestEvent(connectionID, fromAgent, code, message string) EventConnectionRequest {
	return EventConnectionRequest{
		Type:             "connection_request",
		ConnectionID:     connectionID,
		FromAgent:        fromAgent,
		VerificationCode: code,
		Message:          message,
	}
}

// EventConnectionApproved is pushed to the requester when the target
// approves a connection.
type EventConnectionApproved struct {
	Type           string `json:"type"`
	ConnectionID   string `json:"connection_id"`
	ConnectedAgent string `json:"connected_agent"`
}

// NewConnectionApprovedEvent builds the connection_approved push payload.
func NewConnectionApprovedEvent(connectionID, connectedAgent string) EventConnectionApproved {
	return EventConnectionApproved{Type: "connection_approved", ConnectionID: connectionID, ConnectedAgent: connectedAgent}
}

// EventNewMessage is pushed to the recipient of a message. Content is
// plaintext — the hub has no knowledge of at-rest encryption.
type EventNewMessage struct {
	Type              string    `json:"type"`
	SessionID         string    `json:"session_id"`
	Subject           string    `json:"subject"`
	FromAgent         string    `json:"from_agent"`
	Content           string    `json:"content"`
	MessageID         string    `json:"message_id"`
	CreatedAt         time.Time `json:"created_at"`
	ReplyToSessionKey string    `json:"reply_to_session_key,omitempty"`
	Room              string    `json:"room,omitempty"`
}

// NewMessageEvent builds the new_message push payload.
func NewMessageEvent(sessionID, subject, fromAgent, content, messageID string, createdAt time.Time, replyToSessionKey, room string) EventNewMessage {
	return EventNewMessage{
		Type:              "new_message",
		SessionID:         sessionID,
		Subject:           subject,
		FromAgent:         fromAgent,
		Content:           content,
		MessageID:         messageID,
		CreatedAt:         createdAt,
		ReplyToSessionKey: replyToSessionKey,
		Room:              room,
	}
}
