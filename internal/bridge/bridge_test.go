package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/agent-mailbox/internal/config"
	"github.com/ashureev/agent-mailbox/internal/push"
)

type fakeAdapter struct {
	reply        string
	ok           bool
	localSession string
	delivered    []string
}

func (f *fakeAdapter) InjectAndWait(_ context.Context, _, _ string) (string, bool) {
	return f.reply, f.ok
}

func (f *fakeAdapter) IsLocalSession(_ context.Context, sessionKey string) bool {
	return sessionKey == f.localSession
}

func (f *fakeAdapter) DeliverToLocal(_ context.Context, sessionKey, message string) {
	f.delivered = append(f.delivered, sessionKey+":"+message)
}

func newTestBridge(t *testing.T, relayURL string, adapter *fakeAdapter) *Bridge {
	t.Helper()
	cfg := &config.BridgeConfig{
		ServerURL:         relayURL + "/ws",
		APIKey:            "test-key",
		GatewayURL:        "http://unused",
		TrustedAgents:     []string{"alice"},
		AgentReplyTimeout: time.Second,
		HeartbeatInterval: time.Second,
		PongTimeout:       time.Second,
		ReconnectMinDelay: time.Second,
		ReconnectMaxDelay: time.Second,
	}
	return New(cfg, adapter)
}

func TestHandleNewMessagePostsReply(t *testing.T) {
	var posted sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&posted)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	adapter := &fakeAdapter{reply: "pong", ok: true}
	b := newTestBridge(t, srv.URL, adapter)

	ev := push.EventNewMessage{
		SessionID: "sess-1", FromAgent: "alice", Subject: "ping", Content: "ping",
	}
	b.handleNewMessage(context.Background(), ev)

	if posted.To != "alice" || posted.Content != "pong" {
		t.Errorf("unexpected reply posted: %+v", posted)
	}
	if posted.Subject != "Re: ping" {
		t.Errorf("expected Re:-prefixed subject, got %q", posted.Subject)
	}
}

func TestHandleNewMessageFallsBackToDeliveryOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not post a reply when the executor doesn't respond")
	}))
	defer srv.Close()

	adapter := &fakeAdapter{ok: false}
	b := newTestBridge(t, srv.URL, adapter)

	ev := push.EventNewMessage{SessionID: "sess-1", FromAgent: "bob", Subject: "hi", Content: "hi"}
	b.handleNewMessage(context.Background(), ev)

	if len(adapter.delivered) != 1 {
		t.Fatalf("expected one delivered fallback, got %d", len(adapter.delivered))
	}
}

func TestHandleNewMessageBreaksEchoLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not act on an echoed reply event")
	}))
	defer srv.Close()

	adapter := &fakeAdapter{localSession: "agent:main:dm:mailbox-bob-sess1234"}
	b := newTestBridge(t, srv.URL, adapter)

	ev := push.EventNewMessage{
		SessionID:         "sess-1",
		FromAgent:         "bob",
		Content:           "echo",
		ReplyToSessionKey: "agent:main:dm:mailbox-bob-sess1234",
	}
	b.handleNewMessage(context.Background(), ev)

	if len(adapter.delivered) != 1 {
		t.Fatalf("expected the echoed reply to be surfaced to the owner, got %d deliveries", len(adapter.delivered))
	}
	if adapter.delivered[0] != "agent:main:dm:mailbox-bob-sess1234:echo" {
		t.Errorf("unexpected delivery: %q", adapter.delivered[0])
	}
}
