package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractReply(t *testing.T) {
	cases := map[string]string{
		"%%\nhello there\n%%":          "hello there",
		"preamble\n%%\nhi\n%%\ntrailer": "hi",
		"no markers here":              "no markers here",
	}
	for in, want := range cases {
		if got := extractReply(in); got != want {
			t.Errorf("extractReply(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInjectAndWaitSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req invokeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Tool != "sessions_send" {
			t.Errorf("expected sessions_send, got %s", req.Tool)
		}
		resp := invokeResult{}
		resp.Result.Details = map[string]any{"status": "ok", "reply": "%%\nsure thing\n%%"}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "tok", "", "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, ok := gw.InjectAndWait(ctx, "agent:main:dm:x", "hi")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if reply != "sure thing" {
		t.Errorf("expected extracted reply, got %q", reply)
	}
}

func TestInjectAndWaitTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := invokeResult{}
		resp.Result.Details = map[string]any{"status": "timeout"}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "tok", "", "")
	_, ok := gw.InjectAndWait(context.Background(), "agent:main:dm:x", "hi")
	if ok {
		t.Fatal("expected ok=false on timeout status")
	}
}

func TestIsLocalSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := invokeResult{}
		resp.Result.Details = map[string]any{
			"sessions": []any{
				map[string]any{"key": "agent:main:dm:known"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "tok", "", "")
	if !gw.IsLocalSession(context.Background(), "agent:main:dm:known") {
		t.Error("expected known session key to be local")
	}
	if gw.IsLocalSession(context.Background(), "agent:main:dm:unknown") {
		t.Error("expected unknown session key to not be local")
	}
}

func TestDeliverToLocalPrefersHook(t *testing.T) {
	var hookHit, invokeHit bool
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hookHit = true
		if r.Header.Get("Authorization") != "Bearer hooktok" {
			t.Errorf("expected bearer hook token, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hookSrv.Close()

	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invokeHit = true
		_ = json.NewEncoder(w).Encode(invokeResult{})
	}))
	defer gatewaySrv.Close()

	gw := NewHTTPGateway(gatewaySrv.URL, "tok", hookSrv.URL, "hooktok")
	gw.DeliverToLocal(context.Background(), "agent:main:dm:x", "fyi")

	if !hookHit {
		t.Error("expected hooks/wake to be called")
	}
	if invokeHit {
		t.Error("expected tools/invoke fallback to be skipped when wake succeeds")
	}
}

func TestDeliverToLocalFallsBackWithoutHook(t *testing.T) {
	var invokeHit bool
	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invokeHit = true
		var req invokeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Tool != "sessions_send" {
			t.Errorf("expected sessions_send fallback, got %s", req.Tool)
		}
		_ = json.NewEncoder(w).Encode(invokeResult{})
	}))
	defer gatewaySrv.Close()

	gw := NewHTTPGateway(gatewaySrv.URL, "tok", "", "")
	gw.DeliverToLocal(context.Background(), "agent:main:dm:x", "fyi")

	if !invokeHit {
		t.Error("expected tools/invoke fallback to fire without a hook configured")
	}
}
