package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/agent-mailbox/internal/auth"
	"github.com/ashureev/agent-mailbox/internal/domain"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const authDeadline = 5 * time.Second

// close codes for the first-message auth handshake.
const (
	closeAuthTimeout = websocket.StatusCode(4000)
	closeInvalidAuth = websocket.StatusCode(4001)
)

// AgentLookup resolves an API key hash to an Agent, mirroring
// authmw.AgentLookup so the endpoint does not depend on the store package
// directly.
type AgentLookup interface {
	GetAgentByAPIKeyHash(ctx context.Context, hash string) (*domain.Agent, error)
}

type authFrame struct {
	Type   string `json:"type"`
	APIKey string `json:"api_key"`
}

type clientFrame struct {
	Type string `json:"type"`
}

// Endpoint implements the /ws upgrade: accept, authenticate via the first
// text frame, then attach into the Hub and loop on ping/pong until the
// client disconnects.
type Endpoint struct {
	hub           *Hub
	agents        AgentLookup
	allowedOrigin string
}

// NewEndpoint builds an Endpoint backed by hub and agents.
func NewEndpoint(hub *Hub, agents AgentLookup, allowedOrigin string) *Endpoint {
	return &Endpoint{hub: hub, agents: agents, allowedOrigin: allowedOrigin}
}

// ServeHTTP implements http.Handler.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origins := []string{"*"}
	if e.allowedOrigin != "" && e.allowedOrigin != "*" {
		origins = []string{e.allowedOrigin}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		slog.Error("push endpoint failed to accept websocket", "error", err)
		return
	}

	agentID, ok := e.authenticate(r.Context(), conn)
	if !ok {
		return
	}

	handle := NewHandle(conn)
	e.hub.Attach(agentID, handle)
	defer e.hub.Detach(agentID, handle)

	e.readLoop(r.Context(), conn, agentID)
}

func (e *Endpoint) authenticate(ctx context.Context, conn *websocket.Conn) (uuid.UUID, bool) {
	authCtx, cancel := context.WithTimeout(ctx, authDeadline)
	defer cancel()

	_, message, err := conn.Read(authCtx)
	if err != nil {
		slog.Debug("push endpoint auth timed out or failed", "error", err)
		conn.Close(closeAuthTimeout, "auth timeout")
		return uuid.Nil, false
	}

	var frame authFrame
	if err := json.Unmarshal(message, &frame); err != nil || frame.Type != "auth" || frame.APIKey == "" {
		conn.Close(closeInvalidAuth, "invalid auth frame")
		return uuid.Nil, false
	}

	agent, err := e.agents.GetAgentByAPIKeyHash(ctx, auth.Hash(frame.APIKey))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("push endpoint auth lookup failed", "error", err)
		}
		conn.Close(closeInvalidAuth, "invalid api key")
		return uuid.Nil, false
	}

	if err := writeJSON(ctx, conn, map[string]string{"type": "auth_ok", "agent": agent.Name}); err != nil {
		slog.Debug("push endpoint failed to send auth_ok", "error", err)
		return uuid.Nil, false
	}
	return agent.ID, true
}

func (e *Endpoint) readLoop(ctx context.Context, conn *websocket.Conn, agentID uuid.UUID) {
	for {
		_, message, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("push endpoint closed by client", "agent_id", agentID)
			} else {
				slog.Warn("push endpoint read error", "agent_id", agentID, "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Debug("push endpoint dropped unparseable frame", "agent_id", agentID)
			continue
		}

		switch frame.Type {
		case "ping":
			if err := writeJSON(ctx, conn, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("push endpoint failed to send pong", "agent_id", agentID, "error", err)
			}
		default:
			slog.Debug("push endpoint dropped frame", "agent_id", agentID, "type", frame.Type)
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
