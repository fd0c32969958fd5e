package domain

import "errors"

// Sentinel errors returned by internal/store. The HTTP
// layer (internal/api) maps each to the status codes in spec §7; nothing
// below this package should encode an HTTP status directly.
var (
	// ErrNotFound is returned when a lookup by ID/code/name finds nothing.
	ErrNotFound = errors.New("not found")
	// ErrNameTaken is returned on a duplicate Agent.Name.
	ErrNameTaken = errors.New("name already taken")
	// ErrSelfConnection is returned when an agent targets itself.
	ErrSelfConnection = errors.New("cannot connect to self")
	// ErrActiveExists is returned when an ACTIVE connection already links
	// the unordered pair.
	ErrActiveExists = errors.New("active connection already exists")
	// ErrPendingExists is returned when a PENDING connection already links
	// the unordered pair.
	ErrPendingExists = errors.New("pending connection already exists")
	// ErrTooManyPending is returned when the requester already holds
	// MaxLivePendingPerRequester live PENDING connections.
	ErrTooManyPending = errors.New("too many pending connection requests")
	// ErrExpired is returned when acting on an expired Connection.
	ErrExpired = errors.New("connection code has expired")
	// ErrNotTarget is returned when the approver is not the named target.
	ErrNotTarget = errors.New("not the target agent")
	// ErrNoConnection is returned when no ACTIVE connection links two
	// agents attempting to exchange a message.
	ErrNoConnection = errors.New("no active connection with target agent")
	// ErrNotParticipant is returned when an agent that is not a party to a
	// Session attempts to read or post to it.
	ErrNotParticipant = errors.New("not a participant of this session")
	// ErrCodeExhausted is returned when unique verification code generation
	// fails after the retry budget.
	ErrCodeExhausted = errors.New("could not generate a unique verification code")
	// ErrValidation is returned for request shape/pattern violations.
	ErrValidation = errors.New("validation failed")
	// ErrAuthInvalid is returned when an API key does not resolve to an
	// Agent.
	ErrAuthInvalid = errors.New("invalid api key")
)
