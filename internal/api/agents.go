package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/agent-mailbox/internal/auth"
	"github.com/ashureev/agent-mailbox/internal/authmw"
	"github.com/ashureev/agent-mailbox/internal/domain"
	"github.com/google/uuid"
)

// AgentHandler implements /agents/register and /agents/me.
type AgentHandler struct {
	*Handler
}

// NewAgentHandler builds an AgentHandler over base.
func NewAgentHandler(base *Handler) *AgentHandler {
	return &AgentHandler{Handler: base}
}

type registerAgentRequest struct {
	Name         string `json:"name" validate:"required,min=3,max=100,safename"`
	OwnerContact string `json:"owner_contact" validate:"omitempty,max=255"`
}

type registerAgentResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

// Register handles POST /agents/register.
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	issued, err := auth.Issue()
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to issue api key")
		return
	}

	agent := &domain.Agent{
		ID:           uuid.New(),
		Name:         req.Name,
		APIKeyHash:   issued.Hash,
		APIKeyPrefix: issued.Prefix,
		OwnerContact: req.OwnerContact,
		CreatedAt:    time.Now(),
	}

	if err := h.repo.CreateAgent(r.Context(), agent); err != nil {
		if errors.Is(err, domain.ErrNameTaken) {
			writeDomainError(w, err)
			return
		}
		Error(w, http.StatusInternalServerError, "failed to register agent")
		return
	}

	JSON(w, http.StatusCreated, registerAgentResponse{
		ID:     agent.ID.String(),
		Name:   agent.Name,
		APIKey: issued.Plaintext,
	})
}

type meResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	OwnerContact string `json:"owner_contact,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// Me handles GET /agents/me.
func (h *AgentHandler) Me(w http.ResponseWriter, r *http.Request) {
	agent := authmw.AgentFromContext(r.Context())
	JSON(w, http.StatusOK, meResponse{
		ID:           agent.ID.String(),
		Name:         agent.Name,
		OwnerContact: agent.OwnerContact,
		CreatedAt:    agent.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}
