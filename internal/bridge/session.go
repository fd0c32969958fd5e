package bridge

import (
	"fmt"
	"sync"
)

// sessionRouter maps relay session IDs to local executor session keys,
// using the three-tier routing policy: reuse a previously seen mapping,
// fall back to a shared room context, or isolate per sender-thread.
type sessionRouter struct {
	mu  sync.Mutex
	byID map[string]string // relay session id -> local session key
}

func newSessionRouter() *sessionRouter {
	return &sessionRouter{byID: make(map[string]string)}
}

// resolve returns the local session key for an incoming relay message,
// recording the mapping for subsequent messages in the same session.
func (s *sessionRouter) resolve(sessionID, fromAgent, room string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.byID[sessionID]; ok {
		return key
	}

	var key string
	if room != "" {
		key = fmt.Sprintf("agent:main:dm:mailbox-room-%s", room)
	} else {
		shortID := sessionID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		key = fmt.Sprintf("agent:main:dm:mailbox-%s-%s", fromAgent, shortID)
	}

	s.byID[sessionID] = key
	return key
}

// forget drops a session mapping, so the next message for sessionID is
// routed afresh.
func (s *sessionRouter) forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, sessionID)
}
