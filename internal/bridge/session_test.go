package bridge

import "testing"

func TestSessionRouterReusesMapping(t *testing.T) {
	r := newSessionRouter()
	first := r.resolve("sess-1", "alice", "")
	second := r.resolve("sess-1", "alice", "")
	if first != second {
		t.Errorf("expected stable mapping, got %q then %q", first, second)
	}
}

func TestSessionRouterRoomTakesPriority(t *testing.T) {
	r := newSessionRouter()
	key := r.resolve("sess-1", "alice", "ops")
	if key != "agent:main:dm:mailbox-room-ops" {
		t.Errorf("expected room-scoped key, got %q", key)
	}
}

func TestSessionRouterPerThreadFallback(t *testing.T) {
	r := newSessionRouter()
	key := r.resolve("sess-12345678-long", "alice", "")
	if key != "agent:main:dm:mailbox-alice-sess-123" {
		t.Errorf("expected per-thread key, got %q", key)
	}
}

func TestSessionRouterForget(t *testing.T) {
	r := newSessionRouter()
	first := r.resolve("sess-1", "alice", "ops")
	r.forget("sess-1")
	second := r.resolve("sess-1", "alice", "")
	if first == second {
		t.Error("expected a fresh mapping after forget")
	}
}
