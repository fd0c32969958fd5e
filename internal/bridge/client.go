package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// relayClient is a thin HTTP client over the relay's authenticated REST API,
// used by the bridge daemon to post replies back onto the relay.
type relayClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newRelayClient(wsURL, apiKey string) *relayClient {
	return &relayClient{
		baseURL: httpBaseURL(wsURL),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// httpBaseURL rewrites a ws(s):// relay URL, as used for the push endpoint,
// into the http(s):// origin the REST API lives on.
func httpBaseURL(wsURL string) string {
	origin := strings.TrimSuffix(wsURL, "/ws")
	origin = strings.Replace(origin, "wss://", "https://", 1)
	origin = strings.Replace(origin, "ws://", "http://", 1)
	return strings.TrimRight(origin, "/")
}

type sendMessageRequest struct {
	To                string `json:"to"`
	Content           string `json:"content"`
	Subject           string `json:"subject,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	ReplyToSessionKey string `json:"reply_to_session_key,omitempty"`
	Room              string `json:"room,omitempty"`
}

// sendMessage posts a reply to /messages/send, passing reply_to_session_key
// through unchanged (the value from the inbound event, not the bridge's own
// local session key) so the original sender's bridge can recognize the
// reply as bound to one of its local sessions.
func (c *relayClient) sendMessage(to, content, subject, sessionID, replyToSessionKey, room string) error {
	body, err := json.Marshal(sendMessageRequest{
		To:                to,
		Content:           content,
		Subject:           subject,
		SessionID:         sessionID,
		ReplyToSessionKey: replyToSessionKey,
		Room:              room,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/messages/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("messages/send: unexpected status %d", resp.StatusCode)
	}
	return nil
}
