package authmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/agent-mailbox/internal/domain"
	"github.com/google/uuid"
)

type fakeLookup struct {
	agent *domain.Agent
	err   error
}

func (f *fakeLookup) GetAgentByAPIKeyHash(ctx context.Context, hash string) (*domain.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.agent, nil
}

func TestMiddlewareRejectsMissingKey(t *testing.T) {
	mw := Middleware(&fakeLookup{err: domain.ErrNotFound})
	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/agents/me", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Error("handler should not be reached without an API key")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsInvalidKey(t *testing.T) {
	mw := Middleware(&fakeLookup{err: domain.ErrNotFound})
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/agents/me", nil)
	req.Header.Set(APIKeyHeader, "amb_bogus")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareInjectsAgent(t *testing.T) {
	agent := &domain.Agent{ID: uuid.New(), Name: "alice"}
	mw := Middleware(&fakeLookup{agent: agent})

	var seen *domain.Agent
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AgentFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/agents/me", nil)
	req.Header.Set(APIKeyHeader, "amb_valid")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.ID != agent.ID {
		t.Error("expected agent to be injected into context")
	}
}
