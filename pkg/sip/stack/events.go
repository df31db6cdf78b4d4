package stack

import (
	"fmt"
	"time"

	"github.com/arzzra/sip_client/pkg/media"
	"github.com/arzzra/sip_client/pkg/sip/dialog"
	"github.com/arzzra/sip_client/pkg/sip/registration"
)

// EventType identifies the kind of engine event
type EventType int

const (
	// EventRegistrationState reports a registration state transition
	EventRegistrationState EventType = iota

	// EventCallState reports a call state transition
	EventCallState

	// EventCallFailed reports a call that ended with a failure response
	EventCallFailed
)

func (t EventType) String() string {
	switch t {
	case EventRegistrationState:
		return "RegistrationStateChanged"
	case EventCallState:
		return "CallStateChanged"
	case EventCallFailed:
		return "CallFailed"
	default:
		return "Unknown"
	}
}

// Event is a single entry of the engine event stream. Events are
// delivered in transition order per call and per registration.
type Event struct {
	Type EventType
	Time time.Time

	// CallID is set for call events
	CallID string

	// Call state transition, valid for EventCallState
	PrevCallState dialog.State
	CallState     dialog.State

	// Registration state transition, valid for EventRegistrationState
	PrevRegState registration.State
	RegState     registration.State

	// Failure details, valid for EventCallFailed
	StatusCode int
	Reason     string

	// Media carries the negotiated media descriptor when the call
	// reaches Connected and the answer SDP parsed successfully
	Media *media.Descriptor
}

func (e Event) String() string {
	switch e.Type {
	case EventRegistrationState:
		return fmt.Sprintf("%s %s -> %s", e.Type, e.PrevRegState, e.RegState)
	case EventCallState:
		return fmt.Sprintf("%s call=%s %s -> %s", e.Type, e.CallID, e.PrevCallState, e.CallState)
	case EventCallFailed:
		return fmt.Sprintf("%s call=%s %d %s", e.Type, e.CallID, e.StatusCode, e.Reason)
	default:
		return "unknown event"
	}
}

// CallInfo is a point-in-time snapshot of a single call
type CallInfo struct {
	CallID      string
	RemoteURI   string
	State       dialog.State
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
	Duration    time.Duration
}
