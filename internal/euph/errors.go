package euph

import "errors"

// Error kinds surfaced directly to callers (spec.md §7, §9). Transport,
// Protocol, InvalidRoom, InvalidIdentity and InvalidNick are instead
// reflected through Status transitions, not returned from calls, except
// that a user-initiated Room.Nick returns its InvalidNick rejection as
// an error.
var (
	// ErrNotConnected is returned by a command call issued while the FSM
	// has no active connection.
	ErrNotConnected = errors.New("euph: not connected")
	// ErrNotPresent is returned by a command that requires Nominal state
	// when issued outside it.
	ErrNotPresent = errors.New("euph: not present in room")
	// ErrIncorrectReplyType is returned when the server answers a command
	// with a reply variant that doesn't match the request.
	ErrIncorrectReplyType = errors.New("euph: incorrect reply type")
	// ErrConnectionLost is returned by an in-flight command whose
	// connection died before a reply arrived.
	ErrConnectionLost = errors.New("euph: connection lost")
	// ErrClosed is returned by any command call issued after Close.
	// Send checks for Nominal state first, so it reports ErrNotPresent
	// instead when the room was not Nominal at Close.
	ErrClosed = errors.New("euph: room closed")
)
