package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/agent-mailbox/internal/domain"
)

// writeDomainError maps a domain.Err* sentinel to the status code and error
// code spec §7 assigns it, falling back to 500 for anything unrecognized.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeCode(w, http.StatusNotFound, "NOT_FOUND", err)
	case errors.Is(err, domain.ErrNameTaken):
		writeCode(w, http.StatusConflict, "NAME_TAKEN", err)
	case errors.Is(err, domain.ErrSelfConnection):
		writeCode(w, http.StatusUnprocessableEntity, "SELF", err)
	case errors.Is(err, domain.ErrActiveExists):
		writeCode(w, http.StatusConflict, "ACTIVE_EXISTS", err)
	case errors.Is(err, domain.ErrPendingExists):
		writeCode(w, http.StatusConflict, "PENDING_EXISTS", err)
	case errors.Is(err, domain.ErrTooManyPending):
		writeCode(w, http.StatusTooManyRequests, "TOO_MANY_PENDING", err)
	case errors.Is(err, domain.ErrExpired):
		writeCode(w, http.StatusGone, "EXPIRED", err)
	case errors.Is(err, domain.ErrNotTarget):
		writeCode(w, http.StatusForbidden, "NOT_TARGET", err)
	case errors.Is(err, domain.ErrNoConnection):
		writeCode(w, http.StatusForbidden, "NO_CONNECTION", err)
	case errors.Is(err, domain.ErrNotParticipant):
		writeCode(w, http.StatusForbidden, "NOT_PARTICIPANT", err)
	case errors.Is(err, domain.ErrCodeExhausted):
		writeCode(w, http.StatusInternalServerError, "CODE_EXHAUSTED", err)
	case errors.Is(err, domain.ErrValidation):
		writeCode(w, http.StatusUnprocessableEntity, "VALIDATION", err)
	default:
		writeCode(w, http.StatusInternalServerError, "INTERNAL", err)
	}
}

func writeCode(w http.ResponseWriter, status int, code string, err error) {
	JSON(w, status, map[string]string{"error": code, "detail": err.Error()})
}
