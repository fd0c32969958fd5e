// Package bridge implements the daemon that dials the relay's push
// endpoint, routes incoming messages into a local agent executor, and
// posts the executor's replies back onto the relay.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/agent-mailbox/internal/config"
	"github.com/ashureev/agent-mailbox/internal/executor"
	"github.com/ashureev/agent-mailbox/internal/push"
	"github.com/coder/websocket"
)

// Bridge drives a single reconnecting websocket session against the relay.
type Bridge struct {
	cfg     *config.BridgeConfig
	adapter executor.Adapter
	relay   *relayClient
	router  *sessionRouter
}

// New builds a Bridge over cfg and adapter.
func New(cfg *config.BridgeConfig, adapter executor.Adapter) *Bridge {
	return &Bridge{
		cfg:     cfg,
		adapter: adapter,
		relay:   newRelayClient(cfg.ServerURL, cfg.APIKey),
		router:  newSessionRouter(),
	}
}

// Run dials the relay and processes events until ctx is canceled,
// reconnecting with exponential backoff on any connection failure.
func (b *Bridge) Run(ctx context.Context) {
	delay := b.cfg.ReconnectMinDelay

	for ctx.Err() == nil {
		authenticated, err := b.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("bridge connection ended", "error", err, "retry_in", delay)
		}

		if authenticated {
			delay = b.cfg.ReconnectMinDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if !authenticated {
			delay *= 2
			if delay > b.cfg.ReconnectMaxDelay {
				delay = b.cfg.ReconnectMaxDelay
			}
		}
	}
}

// connectAndServe dials once and serves until the connection drops. The
// returned bool reports whether authentication succeeded, so Run knows
// whether to reset its backoff delay.
func (b *Bridge) connectAndServe(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, b.cfg.ServerURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	if err := b.authenticate(ctx, conn); err != nil {
		return false, fmt.Errorf("authenticate: %w", err)
	}
	slog.Info("bridge connected", "server_url", b.cfg.ServerURL)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go b.heartbeatLoop(heartbeatCtx, conn)

	return true, b.readLoop(ctx, conn)
}

func (b *Bridge) authenticate(ctx context.Context, conn *websocket.Conn) error {
	authCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	frame, err := json.Marshal(map[string]string{"type": "auth", "api_key": b.cfg.APIKey})
	if err != nil {
		return err
	}
	if err := conn.Write(authCtx, websocket.MessageText, frame); err != nil {
		return err
	}

	_, message, err := conn.Read(authCtx)
	if err != nil {
		return err
	}

	var ack struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &ack); err != nil || ack.Type != "auth_ok" {
		return errors.New("relay rejected authentication")
	}
	return nil
}

func (b *Bridge) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	send := func() {
		hbCtx, cancel := context.WithTimeout(ctx, b.cfg.PongTimeout)
		defer cancel()
		frame, _ := json.Marshal(map[string]string{"type": "ping"})
		if err := conn.Write(hbCtx, websocket.MessageText, frame); err != nil {
			slog.Debug("bridge heartbeat write failed", "error", err)
		}
	}

	// First heartbeat fires immediately so the relay sees activity before
	// the idle interval elapses, rather than waiting for the first tick.
	send()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()

			pingCtx, cancel := context.WithTimeout(ctx, b.cfg.PongTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Warn("bridge protocol ping failed", "error", err)
				conn.Close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, message, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &head); err != nil {
			slog.Debug("bridge dropped unparseable frame")
			continue
		}

		switch head.Type {
		case "new_message":
			var ev push.EventNewMessage
			if err := json.Unmarshal(message, &ev); err != nil {
				slog.Warn("bridge failed to decode new_message event", "error", err)
				continue
			}
			go b.handleNewMessage(ctx, ev)
		case "connection_request":
			var ev push.EventConnectionRequest
			_ = json.Unmarshal(message, &ev)
			slog.Info("bridge observed connection request", "from_agent", ev.FromAgent)
		case "connection_approved":
			var ev push.EventConnectionApproved
			_ = json.Unmarshal(message, &ev)
			slog.Info("bridge observed connection approved", "connected_agent", ev.ConnectedAgent)
		case "auth_ok", "pong":
			// keepalive acknowledgements, nothing to act on.
		default:
			slog.Debug("bridge dropped unrecognized frame", "type", head.Type)
		}
	}
}

func (b *Bridge) handleNewMessage(ctx context.Context, ev push.EventNewMessage) {
	if ev.ReplyToSessionKey != "" && b.adapter.IsLocalSession(ctx, ev.ReplyToSessionKey) {
		// This event is our own reply echoed back through the relay;
		// acting on it again would ping-pong forever. Surface it to the
		// owning session instead of asking the executor to respond.
		b.adapter.DeliverToLocal(ctx, ev.ReplyToSessionKey, ev.Content)
		return
	}

	fromAgent := sanitizeFromAgent(ev.FromAgent)
	subject := sanitizeSubject(ev.Subject)
	room := sanitizeRoom(ev.Room)

	localKey := b.router.resolve(ev.SessionID, fromAgent, room)
	trusted := b.cfg.IsTrusted(fromAgent)
	framed := frame(fromAgent, subject, ev.SessionID, room, ev.Content, trusted)

	injectCtx, cancel := context.WithTimeout(ctx, b.cfg.AgentReplyTimeout)
	defer cancel()

	reply, ok := b.adapter.InjectAndWait(injectCtx, localKey, framed)
	if !ok || reply == "" {
		b.adapter.DeliverToLocal(ctx, localKey, framed)
		return
	}

	replySubject := subject
	if replySubject != "" {
		replySubject = "Re: " + replySubject
	}
	if err := b.relay.sendMessage(fromAgent, reply, replySubject, ev.SessionID, ev.ReplyToSessionKey, room); err != nil {
		slog.Error("bridge failed to post reply", "to", fromAgent, "error", err)
	}
}
