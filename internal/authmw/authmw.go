// Package authmw authenticates requests by API key and injects the
// resolved agent into the request context.
package authmw

import (
	"context"
	"errors"
	"net/http"

	"github.com/ashureev/agent-mailbox/internal/auth"
	"github.com/ashureev/agent-mailbox/internal/domain"
)

const APIKeyHeader = "X-API-Key"

type contextKey int

const agentKey contextKey = iota

// AgentLookup resolves a hashed API key to its owning agent.
type AgentLookup interface {
	GetAgentByAPIKeyHash(ctx context.Context, hash string) (*domain.Agent, error)
}

// AgentFromContext extracts the authenticated agent from the request
// context. It panics if called outside Middleware's scope, mirroring the
// assumption every handler makes that auth has already run.
func AgentFromContext(ctx context.Context) *domain.Agent {
	v, ok := ctx.Value(agentKey).(*domain.Agent)
	if !ok || v == nil {
		panic("authmw: agent missing from context; Middleware did not run")
	}
	return v
}

// Middleware requires a valid X-API-Key header on every request it wraps
// and injects the resolved domain.Agent into the request context.
func Middleware(agents AgentLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				writeUnauthorized(w, "missing "+APIKeyHeader+" header")
				return
			}

			agent, err := agents.GetAgentByAPIKeyHash(r.Context(), auth.Hash(key))
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					writeUnauthorized(w, "authentication failed")
					return
				}
				writeUnauthorized(w, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), agentKey, agent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
