package push

import (
	"testing"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

func TestHubAttach(t *testing.T) {
	hub := NewHub()
	agentID := uuid.New()
	handle := NewHandle(&websocket.Conn{})

	hub.Attach(agentID, handle)

	if hub.Len() != 1 {
		t.Errorf("expected 1 attached agent, got %d", hub.Len())
	}
}

func TestHubDetachIdentityChecked(t *testing.T) {
	hub := NewHub()
	agentID := uuid.New()
	oldHandle := NewHandle(&websocket.Conn{})
	newHandle := NewHandle(&websocket.Conn{})

	hub.mu.Lock()
	hub.handles[agentID] = newHandle
	hub.mu.Unlock()

	// A stale reader for oldHandle detaches after the map already moved on
	// to newHandle; this must be a no-op.
	hub.Detach(agentID, oldHandle)

	hub.mu.Lock()
	current := hub.handles[agentID]
	hub.mu.Unlock()
	if current != newHandle {
		t.Error("stale detach evicted the current handle")
	}
}

func TestHubDetachMatchingHandle(t *testing.T) {
	hub := NewHub()
	agentID := uuid.New()
	handle := NewHandle(&websocket.Conn{})

	hub.mu.Lock()
	hub.handles[agentID] = handle
	hub.mu.Unlock()

	hub.Detach(agentID, handle)

	if hub.Len() != 0 {
		t.Errorf("expected the matching handle to be removed, Len() = %d", hub.Len())
	}
}

func TestHubForceDetach(t *testing.T) {
	hub := NewHub()
	agentID := uuid.New()
	hub.mu.Lock()
	hub.handles[agentID] = NewHandle(&websocket.Conn{})
	hub.mu.Unlock()

	hub.ForceDetach(agentID)

	if hub.Len() != 0 {
		t.Errorf("expected ForceDetach to remove the entry regardless of identity, Len() = %d", hub.Len())
	}
}

func TestHubSendWithNoHandle(t *testing.T) {
	hub := NewHub()
	agentID := uuid.New()

	ok := hub.Send(nil, agentID, map[string]string{"type": "ping"})
	if ok {
		t.Error("expected Send to report false when no handle is attached")
	}
}
