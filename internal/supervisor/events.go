package supervisor

import "fmt"

// State tracks where the supervisor is in its lifecycle:
// NotStarted → Starting → Running → (Restarting → Running)* → Stopped,
// with Failed reachable from Starting or Running on a fatal error.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateRestarting
	StateStopped
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EventKind identifies the type of supervisor event.
type EventKind int

const (
	// EventReady is emitted at most once, when the child first reports its
	// listening address.
	EventReady EventKind = iota
	// EventRestarting is emitted each time the child is respawned after an
	// unexpected exit.
	EventRestarting
	// EventError carries errors arising after startup has resolved.
	EventError
)

// String returns a human-readable event kind name.
func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventRestarting:
		return "restarting"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is a notification from the supervisor. Address is set for EventReady,
// Cause for EventRestarting, Err for EventError.
type Event struct {
	Kind    EventKind
	Address *ListeningAddress
	Cause   string
	Err     error
}
