package rsp

import "fmt"

// RunState is the lifecycle state of a server as reported by the remote. Transitions are
// driven entirely by the remote; the client only classifies what it observes.
type RunState int

// PublishState describes whether a server or deployable is in sync with its sources.
type PublishState int

const (
	RunStateUnknown RunState = iota
	RunStateStarting
	RunStateStarted
	RunStateStopping
	RunStateStopped
)

const (
	PublishStateNone PublishState = iota + 1
	PublishStateIncremental
	PublishStateFull
	PublishStateAdd
	PublishStateRemove
	PublishStateUnknown
)

func (s RunState) String() string {
	switch s {
	case RunStateUnknown:
		return "UNKNOWN"
	case RunStateStarting:
		return "STARTING"
	case RunStateStarted:
		return "STARTED"
	case RunStateStopping:
		return "STOPPING"
	case RunStateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// IsTransitional reports whether the state is expected to change without further requests.
func (s RunState) IsTransitional() bool {
	return s == RunStateStarting || s == RunStateStopping
}

// IsTerminal reports whether the state is one a start or stop request settles in.
func (s RunState) IsTerminal() bool {
	return s == RunStateStarted || s == RunStateStopped
}

func (s PublishState) String() string {
	switch s {
	case PublishStateNone:
		return "NONE"
	case PublishStateIncremental:
		return "INCREMENTAL"
	case PublishStateFull:
		return "FULL"
	case PublishStateAdd:
		return "ADD"
	case PublishStateRemove:
		return "REMOVE"
	case PublishStateUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("PublishState(%d)", int(s))
	}
}

// NeedsPublish reports whether the remote has pending changes to push.
func (s PublishState) NeedsPublish() bool {
	switch s {
	case PublishStateIncremental, PublishStateFull, PublishStateAdd, PublishStateRemove:
		return true
	default:
		return false
	}
}

// StateReached returns a predicate matching serverStateChanged payloads of the server with
// the given id once it is in the wanted state. Any other server or state is ignored.
func StateReached(id string, want RunState) func(ServerState) bool {
	return func(st ServerState) bool {
		return st.Server.ID == id && st.State == want
	}
}
