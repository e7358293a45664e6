package euph

import "fmt"

// StatusKind names a Room Session FSM state (spec.md §4.C).
type StatusKind int

const (
	StatusConnecting StatusKind = iota
	StatusReconnecting
	StatusIdentifying
	StatusNickRequired
	StatusNominal
	StatusStopped
)

func (k StatusKind) String() string {
	switch k {
	case StatusConnecting:
		return "connecting"
	case StatusReconnecting:
		return "reconnecting"
	case StatusIdentifying:
		return "identifying"
	case StatusNickRequired:
		return "nick_required"
	case StatusNominal:
		return "nominal"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReasonKind names why a room stopped for good.
type StopReasonKind int

const (
	StopInvalidRoom StopReasonKind = iota
	StopInvalidIdentity
	StopCouldNotConnect
)

func (k StopReasonKind) String() string {
	switch k {
	case StopInvalidRoom:
		return "invalid_room"
	case StopInvalidIdentity:
		return "invalid_identity"
	case StopCouldNotConnect:
		return "could_not_connect"
	default:
		return "unknown"
	}
}

// StopReason is carried by the terminal Stopped status.
type StopReason struct {
	Kind   StopReasonKind
	Reason string // server-supplied reason, present for InvalidRoom/InvalidIdentity
}

func (r StopReason) String() string {
	if r.Reason == "" {
		return r.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", r.Kind, r.Reason)
}

// Status is the Room Session FSM's current state, as observed by a caller.
type Status struct {
	Kind StatusKind

	// NickErr is set only when Kind == StatusNickRequired and the nick
	// requirement follows a rejected Nick attempt rather than the room's
	// initial join.
	NickErr error

	// Stop is set only when Kind == StatusStopped.
	Stop StopReason
}

func (s Status) String() string {
	switch s.Kind {
	case StatusNickRequired:
		if s.NickErr != nil {
			return fmt.Sprintf("nick_required(%v)", s.NickErr)
		}
		return "nick_required"
	case StatusStopped:
		return fmt.Sprintf("stopped(%s)", s.Stop)
	default:
		return s.Kind.String()
	}
}
