//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ashureev/agent-mailbox/internal/push"
	"github.com/ashureev/agent-mailbox/internal/store"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	base := NewHandler(repo, push.NewHub(), nil)
	endpoint := push.NewEndpoint(push.NewHub(), repo, "*")
	return NewRouter(base, endpoint, []string{"*"})
}

func registerAgent(t *testing.T, r http.Handler, name string) string {
	t.Helper()
	body, _ := json.Marshal(registerAgentRequest{Name: name})
	req := httptest.NewRequest(http.MethodPost, "/agents/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s failed: status %d body %s", name, rec.Code, rec.Body.String())
	}
	var resp registerAgentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.APIKey
}

func authed(req *http.Request, apiKey string) *http.Request {
	req.Header.Set("X-API-Key", apiKey)
	return req
}

func TestRegisterAndMe(t *testing.T) {
	r := newTestRouter(t)
	key := registerAgent(t, r, "alice")

	req := authed(httptest.NewRequest(http.MethodGet, "/agents/me", nil), key)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp meResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode /agents/me: %v", err)
	}
	if resp.Name != "alice" {
		t.Errorf("expected name alice, got %q", resp.Name)
	}
}

func TestMeRejectsMissingKey(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/agents/me", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestFullConnectionAndMessageFlow(t *testing.T) {
	r := newTestRouter(t)
	aliceKey := registerAgent(t, r, "alice")
	bobKey := registerAgent(t, r, "bob")

	// alice requests a connection to bob.
	reqBody, _ := json.Marshal(connectionRequestBody{TargetAgentName: "bob"})
	req := authed(httptest.NewRequest(http.MethodPost, "/connections/request", bytes.NewReader(reqBody)), aliceKey)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("connection request failed: %d %s", rec.Code, rec.Body.String())
	}
	var connResp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &connResp)
	code := connResp["verification_code"]
	if code == "" {
		t.Fatal("expected a verification code")
	}

	// bob approves.
	approveBody, _ := json.Marshal(connectionApproveBody{VerificationCode: code})
	req = authed(httptest.NewRequest(http.MethodPost, "/connections/approve", bytes.NewReader(approveBody)), bobKey)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve failed: %d %s", rec.Code, rec.Body.String())
	}

	// alice sends bob a message.
	sendBody, _ := json.Marshal(sendMessageRequest{To: "bob", Content: "hello", Subject: "greetings"})
	req = authed(httptest.NewRequest(http.MethodPost, "/messages/send", bytes.NewReader(sendBody)), aliceKey)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send failed: %d %s", rec.Code, rec.Body.String())
	}

	// bob's inbox shows one unread session.
	req = authed(httptest.NewRequest(http.MethodGet, "/inbox", nil), bobKey)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("inbox failed: %d %s", rec.Code, rec.Body.String())
	}
	var inbox inboxResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &inbox); err != nil {
		t.Fatalf("decode inbox: %v", err)
	}
	if len(inbox.Sessions) != 1 || inbox.Sessions[0].UnreadCount != 1 {
		t.Fatalf("expected one unread session, got %+v", inbox.Sessions)
	}
	if inbox.Sessions[0].Recent[0].Content != "hello" {
		t.Errorf("expected decrypted content 'hello', got %q", inbox.Sessions[0].Recent[0].Content)
	}
}

func TestSendMessageRequiresActiveConnection(t *testing.T) {
	r := newTestRouter(t)
	aliceKey := registerAgent(t, r, "alice")
	registerAgent(t, r, "bob")

	sendBody, _ := json.Marshal(sendMessageRequest{To: "bob", Content: "hello", Subject: "greetings"})
	req := authed(httptest.NewRequest(http.MethodPost, "/messages/send", bytes.NewReader(sendBody)), aliceKey)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a connection, got %d: %s", rec.Code, rec.Body.String())
	}
}
