package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/agent-mailbox/internal/authmw"
	"github.com/ashureev/agent-mailbox/internal/domain"
	"github.com/ashureev/agent-mailbox/internal/metrics"
	"github.com/ashureev/agent-mailbox/internal/push"
	"github.com/ashureev/agent-mailbox/internal/store"
)

// ConnectionHandler implements /connections/request, /connections/approve,
// and /connections/pending.
type ConnectionHandler struct {
	*Handler
}

// NewConnectionHandler builds a ConnectionHandler over base.
func NewConnectionHandler(base *Handler) *ConnectionHandler {
	return &ConnectionHandler{Handler: base}
}

type connectionRequestBody struct {
	TargetAgentName string `json:"target_agent_name" validate:"required"`
	Message         string `json:"message" validate:"omitempty,max=500"`
}

// Request handles POST /connections/request.
func (h *ConnectionHandler) Request(w http.ResponseWriter, r *http.Request) {
	caller := authmw.AgentFromContext(r.Context())

	var req connectionRequestBody
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	conn, err := h.repo.CreateConnectionRequest(r.Context(), caller.ID, req.TargetAgentName, req.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	target, err := h.repo.GetAgentByName(r.Context(), req.TargetAgentName)
	if err == nil {
		h.hub.Send(r.Context(), target.ID, push.NewConnectionRequestEvent(
			conn.ID.String(), caller.Name, conn.VerificationCode, conn.Message,
		))
	}
	metrics.ConnectionsTotal.WithLabelValues("requested").Inc()

	JSON(w, http.StatusCreated, map[string]string{
		"id":                conn.ID.String(),
		"status":            string(conn.Status),
		"verification_code": conn.VerificationCode,
	})
}

type connectionApproveBody struct {
	VerificationCode string `json:"verification_code" validate:"required"`
}

// Approve handles POST /connections/approve.
func (h *ConnectionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller := authmw.AgentFromContext(r.Context())

	var req connectionApproveBody
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	conn, requester, err := h.repo.ApproveConnection(r.Context(), req.VerificationCode, caller.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.hub.Send(r.Context(), requester.ID, push.NewConnectionApprovedEvent(conn.ID.String(), caller.Name))
	metrics.ConnectionsTotal.WithLabelValues("approved").Inc()

	JSON(w, http.StatusOK, map[string]string{
		"id":                   conn.ID.String(),
		"status":               string(conn.Status),
		"connected_agent_name": requester.Name,
	})
}

type pendingConnectionResponse struct {
	ID               string `json:"id"`
	Direction        string `json:"direction"`
	OtherAgent       string `json:"other_agent"`
	Message          string `json:"message,omitempty"`
	VerificationCode string `json:"verification_code,omitempty"`
	CreatedAt        string `json:"created_at"`
	ExpiresAt        string `json:"expires_at"`
}

// Pending handles GET /connections/pending.
func (h *ConnectionHandler) Pending(w http.ResponseWriter, r *http.Request) {
	caller := authmw.AgentFromContext(r.Context())

	pending, err := h.repo.ListPendingConnections(r.Context(), caller.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			Error(w, http.StatusInternalServerError, "failed to list pending connections")
			return
		}
	}

	JSON(w, http.StatusOK, map[string][]pendingConnectionResponse{
		"pending": toPendingResponses(pending),
	})
}

func toPendingResponses(pending []store.PendingConnection) []pendingConnectionResponse {
	out := make([]pendingConnectionResponse, 0, len(pending))
	for _, p := range pending {
		resp := pendingConnectionResponse{
			ID:         p.Connection.ID.String(),
			Direction:  string(p.Direction),
			OtherAgent: p.OtherName,
			Message:    p.Connection.Message,
			CreatedAt:  p.Connection.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			ExpiresAt:  p.Connection.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		resp.VerificationCode = p.Connection.VerificationCode
		out = append(out, resp)
	}
	return out
}
