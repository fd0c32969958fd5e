package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// DefaultReplyTimeout is used when the bridge does not override it.
const DefaultReplyTimeout = 300 * time.Second

// deliveryHTTPTimeout bounds the fire-and-forget /hooks/wake and
// sessions_send(timeout_seconds=0) calls used by DeliverToLocal.
const deliveryHTTPTimeout = 10 * time.Second

// HTTPGateway drives an OpenClaw-compatible gateway over
// POST {gatewayURL}/tools/invoke (sessions_send, sessions_list), with an
// optional POST {hookURL}/hooks/wake fast path for direct delivery.
type HTTPGateway struct {
	gatewayURL string
	gatewayTok string
	hookURL    string
	hookTok    string
	client     *http.Client
}

// NewHTTPGateway builds an HTTPGateway. hookURL/hookTok may be empty, in
// which case DeliverToLocal always falls back to sessions_send.
func NewHTTPGateway(gatewayURL, gatewayToken, hookURL, hookToken string) *HTTPGateway {
	return &HTTPGateway{
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		gatewayTok: gatewayToken,
		hookURL:    strings.TrimRight(hookURL, "/"),
		hookTok:    hookToken,
		client:     &http.Client{},
	}
}

type invokeRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type invokeResult struct {
	Result struct {
		Details map[string]any   `json:"details"`
		Content []json.RawMessage `json:"content"`
	} `json:"result"`
}

var replyMarkers = regexp.MustCompile(`(?s)%%\s*\n(.*?)\n\s*%%`)

// extractReply returns the text between the first %%-delimited pair of
// lines, or raw unchanged if no such pair is found.
func extractReply(raw string) string {
	if m := replyMarkers.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return raw
}

// InjectAndWait calls sessions_send with timeoutSeconds set to the time left
// until ctx's deadline (DefaultReplyTimeout when ctx has none). The HTTP call
// is bounded by that timeout plus 15s, but it runs under ctx, so when ctx
// carries a deadline the call ends at that deadline and the extra 15s of
// transport budget does not apply.
func (g *HTTPGateway) InjectAndWait(ctx context.Context, sessionKey, message string) (string, bool) {
	timeout := DefaultReplyTimeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 {
			timeout = remaining
		}
	}

	body := invokeRequest{
		Tool: "sessions_send",
		Args: map[string]any{
			"sessionKey":     sessionKey,
			"message":        message,
			"timeoutSeconds": int(timeout.Seconds()),
		},
	}

	result, err := g.invoke(ctx, body, timeout+15*time.Second)
	if err != nil {
		slog.Warn("executor inject_and_wait failed", "session_key", sessionKey, "error", err)
		return "", false
	}

	status, _ := result.Result.Details["status"].(string)
	reply, _ := result.Result.Details["reply"].(string)
	if status == "ok" && reply != "" {
		return extractReply(reply), true
	}
	if status == "timeout" {
		slog.Warn("executor agent did not reply in time", "session_key", sessionKey)
	}
	return "", false
}

// IsLocalSession calls sessions_list and checks whether sessionKey is among
// the returned session keys.
func (g *HTTPGateway) IsLocalSession(ctx context.Context, sessionKey string) bool {
	body := invokeRequest{Tool: "sessions_list", Args: map[string]any{"limit": 200}}

	result, err := g.invoke(ctx, body, 5*time.Second)
	if err != nil {
		slog.Debug("executor is_local_session check failed", "session_key", sessionKey, "error", err)
		return false
	}

	sessions, _ := result.Result.Details["sessions"].([]any)
	for _, s := range sessions {
		entry, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if key, _ := entry["key"].(string); key == sessionKey {
			return true
		}
		if key, _ := entry["sessionKey"].(string); key == sessionKey {
			return true
		}
	}
	return false
}

// DeliverToLocal prefers POST /hooks/wake when a hook URL and token are
// configured, falling back to a fire-and-forget sessions_send.
func (g *HTTPGateway) DeliverToLocal(ctx context.Context, sessionKey, message string) {
	if g.hookURL != "" && g.hookTok != "" {
		if err := g.wake(ctx, sessionKey, message); err == nil {
			return
		}
	}

	deliverCtx, cancel := context.WithTimeout(ctx, deliveryHTTPTimeout)
	defer cancel()
	body := invokeRequest{
		Tool: "sessions_send",
		Args: map[string]any{
			"sessionKey":     sessionKey,
			"message":        message,
			"timeoutSeconds": 0,
		},
	}
	if _, err := g.invoke(deliverCtx, body, deliveryHTTPTimeout); err != nil {
		slog.Error("executor deliver_to_local fallback failed", "session_key", sessionKey, "error", err)
	}
}

func (g *HTTPGateway) wake(ctx context.Context, sessionKey, message string) error {
	wakeCtx, cancel := context.WithTimeout(ctx, deliveryHTTPTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"text":       message,
		"mode":       "now",
		"sessionKey": sessionKey,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(wakeCtx, http.MethodPost, g.hookURL+"/hooks/wake", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.hookTok)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("hooks/wake: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (g *HTTPGateway) invoke(ctx context.Context, body invokeRequest, timeout time.Duration) (*invokeResult, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(invokeCtx, http.MethodPost, g.gatewayURL+"/tools/invoke", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.gatewayTok)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("tool %q blocked by gateway (404); add it to gateway.tools.allow", body.Tool)
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tools/invoke: unexpected status %d: %s", resp.StatusCode, data)
	}

	var result invokeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode tools/invoke response: %w", err)
	}
	if result.Result.Details == nil && len(result.Result.Content) > 0 {
		var textFrame struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(result.Result.Content[0], &textFrame); err == nil && textFrame.Text != "" {
			var fromText map[string]any
			if err := json.Unmarshal([]byte(textFrame.Text), &fromText); err == nil {
				result.Result.Details = fromText
			}
		}
	}
	return &result, nil
}
