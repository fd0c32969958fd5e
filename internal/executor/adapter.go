// Package executor adapts the bridge daemon to a local agent executor
// (the OpenClaw gateway) through three capabilities: injecting a message
// and waiting for a reply, checking whether a session key is local, and
// delivering a notification into the owner's active session.
package executor

import "context"

// Adapter is the abstract capability set the bridge daemon drives. Any
// implementation that preserves these semantics is acceptable; the bridge
// must never block its read loop on these calls.
type Adapter interface {
	// InjectAndWait injects message into sessionKey and waits, until ctx is
	// done, for the agent turn to complete, returning the agent's textual
	// reply, or "", false on timeout or error.
	InjectAndWait(ctx context.Context, sessionKey, message string) (reply string, ok bool)

	// IsLocalSession reports whether sessionKey names a session known to
	// this bridge's executor.
	IsLocalSession(ctx context.Context, sessionKey string) bool

	// DeliverToLocal performs a side-effect-free delivery of message into
	// the owner's active session. It never returns a reply.
	DeliverToLocal(ctx context.Context, sessionKey, message string)
}
