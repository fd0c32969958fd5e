package api

import (
	"net/http"

	"github.com/ashureev/agent-mailbox/internal/authmw"
	"github.com/ashureev/agent-mailbox/internal/push"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the relay's chi router: ambient /health and /metrics,
// the /ws push endpoint, and the authenticated agent-mailbox API.
func NewRouter(base *Handler, endpoint *push.Endpoint, allowedOrigins []string, chain ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range chain {
		r.Use(mw)
	}

	health := NewHealthHandler(base.repo)
	health.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws", endpoint.ServeHTTP)

	agents := NewAgentHandler(base)
	connections := NewConnectionHandler(base)
	messages := NewMessageHandler(base)

	// /agents/register is the only endpoint that precedes authentication.
	r.Post("/agents/register", agents.Register)

	r.Group(func(r chi.Router) {
		r.Use(authmw.Middleware(base.repo))

		r.Get("/agents/me", agents.Me)

		r.Post("/connections/request", connections.Request)
		r.Post("/connections/approve", connections.Approve)
		r.Get("/connections/pending", connections.Pending)

		r.Post("/messages/send", messages.Send)
		r.Get("/inbox", messages.Inbox)
		r.Get("/sessions/{id}/history", messages.History)
	})

	return r
}
