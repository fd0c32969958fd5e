//nolint:revive // "api" package name is intentionally concise for this layer.
// Package api provides HTTP handlers for the agent mailbox relay.
package api

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/ashureev/agent-mailbox/internal/crypto"
	"github.com/ashureev/agent-mailbox/internal/push"
	"github.com/ashureev/agent-mailbox/internal/store"
	"github.com/go-playground/validator/v10"
)

// safenamePattern bounds the charset allowed in agent names and room names:
// letters, digits, underscore, and hyphen.
var safenamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Handler provides common handler dependencies shared across endpoint groups.
type Handler struct {
	repo     store.Repository
	hub      *push.Hub
	envelope *crypto.Envelope // nil disables at-rest encryption
	validate *validator.Validate
}

// NewHandler creates a new Handler with common dependencies. envelope may be
// nil, in which case message content is stored as plaintext.
func NewHandler(repo store.Repository, hub *push.Hub, envelope *crypto.Envelope) *Handler {
	validate := validator.New()
	validate.RegisterValidation("safename", func(fl validator.FieldLevel) bool {
		return safenamePattern.MatchString(fl.Field().String())
	})

	return &Handler{
		repo:     repo,
		hub:      hub,
		envelope: envelope,
		validate: validate,
	}
}

// encrypt returns plaintext unchanged if envelope encryption is disabled.
func (h *Handler) encrypt(plaintext string) (string, error) {
	if h.envelope == nil {
		return plaintext, nil
	}
	return h.envelope.Encrypt(plaintext)
}

// decrypt returns ciphertext unchanged if encryption is disabled; Envelope's
// own Decrypt also falls back to passthrough on legacy plaintext.
func (h *Handler) decrypt(ciphertext string) string {
	if h.envelope == nil {
		return ciphertext
	}
	return h.envelope.Decrypt(ciphertext)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
