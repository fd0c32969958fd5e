package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ashureev/agent-mailbox/internal/authmw"
	"github.com/ashureev/agent-mailbox/internal/domain"
	"github.com/ashureev/agent-mailbox/internal/metrics"
	"github.com/ashureev/agent-mailbox/internal/push"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// MessageHandler implements /messages/send, /inbox, and
// /sessions/{id}/history.
type MessageHandler struct {
	*Handler
}

// NewMessageHandler builds a MessageHandler over base.
func NewMessageHandler(base *Handler) *MessageHandler {
	return &MessageHandler{Handler: base}
}

type sendMessageRequest struct {
	To                string `json:"to" validate:"required"`
	Content           string `json:"content" validate:"required,max=10000"`
	Subject           string `json:"subject" validate:"omitempty,max=255"`
	SessionID         string `json:"session_id" validate:"omitempty,uuid4"`
	ReplyToSessionKey string `json:"reply_to_session_key" validate:"omitempty,max=512"`
	Room              string `json:"room" validate:"omitempty,max=255,safename"`
}

// Send handles POST /messages/send.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	caller := authmw.AgentFromContext(r.Context())

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	target, err := h.repo.GetAgentByName(r.Context(), req.To)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	active, err := h.repo.HasActiveConnection(r.Context(), caller.ID, target.ID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to check connection")
		return
	}
	if !active {
		writeDomainError(w, domain.ErrNoConnection)
		return
	}

	session, err := h.resolveSession(r, caller.ID, target.ID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ciphertext, err := h.encrypt(req.Content)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to encrypt message")
		return
	}

	msg, err := h.repo.SendMessage(r.Context(), session.ID, caller.ID, ciphertext, req.ReplyToSessionKey, req.Room)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.hub.Send(r.Context(), target.ID, push.NewMessageEvent(
		session.ID.String(), session.Subject, caller.Name, req.Content, msg.ID.String(),
		msg.CreatedAt, msg.ReplyToSessionKey, msg.Room,
	))
	metrics.MessagesSentTotal.Inc()

	JSON(w, http.StatusCreated, map[string]string{
		"message_id": msg.ID.String(),
		"session_id": session.ID.String(),
	})
}

func (h *MessageHandler) resolveSession(r *http.Request, callerID, targetID uuid.UUID, req sendMessageRequest) (*domain.Session, error) {
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			return nil, domain.ErrValidation
		}
		session, err := h.repo.GetSession(r.Context(), id)
		if err != nil {
			return nil, err
		}
		if !session.HasParticipant(callerID) || !session.HasParticipant(targetID) {
			return nil, domain.ErrNotParticipant
		}
		return session, nil
	}

	if req.Subject == "" {
		return nil, domain.ErrValidation
	}
	return h.repo.FindOrCreateSession(r.Context(), req.Subject, callerID, targetID)
}

type inboxResponse struct {
	Sessions []inboxSessionResponse      `json:"sessions"`
	Pending  []pendingConnectionResponse `json:"pending"`
}

type inboxSessionResponse struct {
	SessionID     string                  `json:"session_id"`
	Subject       string                  `json:"subject"`
	OtherAgent    string                  `json:"other_agent"`
	UnreadCount   int                     `json:"unread_count"`
	LastMessageAt string                  `json:"last_message_at"`
	Recent        []messageResponse       `json:"recent"`
}

type messageResponse struct {
	ID                string `json:"id"`
	Content           string `json:"content"`
	SenderID          string `json:"sender_id"`
	IsRead            bool   `json:"is_read"`
	ReplyToSessionKey string `json:"reply_to_session_key,omitempty"`
	Room              string `json:"room,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// Inbox handles GET /inbox?unread_only=bool.
func (h *MessageHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	caller := authmw.AgentFromContext(r.Context())
	unreadOnly := r.URL.Query().Get("unread_only") == "true"

	sessions, err := h.repo.ListInbox(r.Context(), caller.ID, unreadOnly)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list inbox")
		return
	}

	pending, err := h.repo.ListPendingConnections(r.Context(), caller.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		Error(w, http.StatusInternalServerError, "failed to list pending connections")
		return
	}

	resp := inboxResponse{
		Sessions: make([]inboxSessionResponse, 0, len(sessions)),
		Pending:  toPendingResponses(pending),
	}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, inboxSessionResponse{
			SessionID:     s.Session.ID.String(),
			Subject:       s.Session.Subject,
			OtherAgent:    s.OtherName,
			UnreadCount:   s.UnreadCount,
			LastMessageAt: s.Session.LastMessageAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Recent:        toMessageResponses(h, s.Recent),
		})
	}
	JSON(w, http.StatusOK, resp)
}

// History handles GET /sessions/{id}/history?limit=N.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	caller := authmw.AgentFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusUnprocessableEntity, "malformed session id")
		return
	}

	limit := 3
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 || n > 50 {
			Error(w, http.StatusUnprocessableEntity, "limit must be between 1 and 50")
			return
		}
		limit = n
	}

	messages, err := h.repo.SessionHistory(r.Context(), id, caller.ID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string][]messageResponse{
		"messages": toMessageResponses(h, messages),
	})
}

func toMessageResponses(h *MessageHandler, messages []domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageResponse{
			ID:                m.ID.String(),
			Content:           h.decrypt(m.Content),
			SenderID:          m.SenderID.String(),
			IsRead:            m.IsRead,
			ReplyToSessionKey: m.ReplyToSessionKey,
			Room:              m.Room,
			CreatedAt:         m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out
}
