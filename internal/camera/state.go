package camera

import (
	"fmt"
	"time"
)

// State is the coordinator's camera ownership state.
type State string

const (
	StateIdle      State = "idle"
	StateAcquiring State = "acquiring"
	StateStreaming State = "streaming"
	StateReleasing State = "releasing"
	StateFaulted   State = "faulted"
)

// transitions is the complete set of legal edges. A hand-off between two
// holders therefore always goes Streaming → Releasing → Idle → Acquiring.
var transitions = map[State][]State{
	StateIdle:      {StateAcquiring},
	StateAcquiring: {StateStreaming, StateFaulted},
	StateStreaming: {StateReleasing},
	StateReleasing: {StateIdle},
	StateFaulted:   {StateIdle},
}

// States lists every state in declaration order.
func States() []State {
	return []State{StateIdle, StateAcquiring, StateStreaming, StateReleasing, StateFaulted}
}

func (s State) CanTransition(to State) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Holding reports whether the state counts as someone owning the camera.
func (s State) Holding() bool {
	return s == StateAcquiring || s == StateStreaming
}

// Ownership is a point-in-time view of who holds the camera.
type Ownership struct {
	State       State     `json:"state"`
	HolderID    string    `json:"holder_id,omitempty"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	Warning     string    `json:"warning,omitempty"`
	Fault       string    `json:"fault,omitempty"`
}

func (o Ownership) String() string {
	if o.HolderID == "" {
		return string(o.State)
	}
	return fmt.Sprintf("%s(%s)", o.State, o.HolderID)
}

// ResourceRequest is one screen's ask to operate on the camera. It lives only
// until the coordinator has resolved it; its ID is stamped on every
// transition it causes.
type ResourceRequest struct {
	ID           string
	RequesterID  string
	DesiredState State
	IssuedAt     time.Time

	granted chan struct{}
}
