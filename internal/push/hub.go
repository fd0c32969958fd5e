// Package push holds the live connection registry (the push hub) and the
// WebSocket endpoint agents attach to for real-time event delivery.
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/agent-mailbox/internal/metrics"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Handle is the live transport for one agent's attached connection.
type Handle struct {
	conn *websocket.Conn
}

// NewHandle wraps a coder/websocket connection for use with a Hub.
func NewHandle(conn *websocket.Conn) *Handle {
	return &Handle{conn: conn}
}

func (h *Handle) close(code websocket.StatusCode, reason string) {
	_ = h.conn.Close(code, reason)
}

func (h *Handle) write(ctx context.Context, payload []byte) error {
	return h.conn.Write(ctx, websocket.MessageText, payload)
}

// Hub tracks at most one live Handle per agent. A single hub-wide mutex
// serializes every map lookup and mutation; Send writes outside that lock,
// so writes to distinct agents proceed concurrently.
type Hub struct {
	mu      sync.Mutex
	handles map[uuid.UUID]*Handle
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{handles: make(map[uuid.UUID]*Handle)}
}

// Attach installs handle as the live connection for agentID. If a handle is
// already present it is removed from the map first, then closed — in that
// order, so a concurrent identity-checked Detach of the old handle observes
// that it is no longer current and becomes a no-op instead of evicting the
// new handle.
func (h *Hub) Attach(agentID uuid.UUID, handle *Handle) {
	h.mu.Lock()
	old, existed := h.handles[agentID]
	h.handles[agentID] = handle
	h.mu.Unlock()

	if existed && old != handle {
		old.close(websocket.StatusNormalClosure, "session replaced")
	} else {
		metrics.ConnectedAgents.Inc()
	}
	slog.Info("push hub attached", "agent_id", agentID)
}

// Detach removes the entry for agentID only if it currently equals handle.
// A stale reader unwinding after a reconnect calls this with its own,
// already-superseded handle and safely no-ops.
func (h *Hub) Detach(agentID uuid.UUID, handle *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.handles[agentID]; ok && current == handle {
		delete(h.handles, agentID)
		metrics.ConnectedAgents.Dec()
		slog.Info("push hub detached", "agent_id", agentID)
	}
}

// ForceDetach removes whatever entry is present for agentID, regardless of
// identity, for forced eviction paths (e.g. agent deletion).
func (h *Hub) ForceDetach(agentID uuid.UUID) {
	h.mu.Lock()
	_, existed := h.handles[agentID]
	delete(h.handles, agentID)
	h.mu.Unlock()
	if existed {
		metrics.ConnectedAgents.Dec()
	}
}

// Send serializes event as JSON and writes it to agentID's live handle, if
// any. It reports whether delivery was attempted and succeeded; callers
// treat push delivery as best-effort and never fail a write because Send
// returned false. On write error the handle is unconditionally detached.
func (h *Hub) Send(ctx context.Context, agentID uuid.UUID, event any) bool {
	h.mu.Lock()
	handle, ok := h.handles[agentID]
	h.mu.Unlock()
	if !ok {
		metrics.PushDeliveryTotal.WithLabelValues("no_handle").Inc()
		return false
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("push hub marshal failed", "agent_id", agentID, "error", err)
		metrics.PushDeliveryTotal.WithLabelValues("marshal_error").Inc()
		return false
	}

	if err := handle.write(ctx, payload); err != nil {
		slog.Warn("push hub write failed, detaching", "agent_id", agentID, "error", err)
		h.ForceDetach(agentID)
		metrics.PushDeliveryTotal.WithLabelValues("write_error").Inc()
		return false
	}
	metrics.PushDeliveryTotal.WithLabelValues("delivered").Inc()
	return true
}

// Len reports the number of currently attached agents. The /metrics gauge
// is maintained separately by Attach, Detach and ForceDetach.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handles)
}
