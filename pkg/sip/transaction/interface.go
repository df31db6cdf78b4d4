package transaction

import (
	"github.com/arzzra/sip_client/pkg/sip/message"
)

// State represents client transaction state
type State int

const (
	StateCalling State = iota // INVITE: initial
	StateTrying               // non-INVITE: initial
	StateProceeding
	StateCompleted
	StateTerminated
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateCalling:
		return "Calling"
	case StateTrying:
		return "Trying"
	case StateProceeding:
		return "Proceeding"
	case StateCompleted:
		return "Completed"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ClientTransaction is the interface of an outgoing transaction
type ClientTransaction interface {
	// ID returns the transaction key string
	ID() string

	// Branch returns the branch parameter of the transaction
	Branch() string

	// State returns current state
	State() State

	// Request returns the original request
	Request() *message.Request

	// IsInvite returns true for INVITE transactions
	IsInvite() bool

	// Responses returns the channel of incoming responses. Provisional
	// responses may be delivered multiple times, the final response is
	// delivered exactly once. The channel is closed on termination.
	Responses() <-chan *message.Response

	// Errors returns the channel of terminal errors (timeout or
	// transport failure). At most one error is ever delivered.
	Errors() <-chan error

	// Done is closed when the transaction reaches Terminated
	Done() <-chan struct{}

	// Terminate force-terminates the transaction
	Terminate()

	// handleResponse routes a matched response into the FSM
	handleResponse(resp *message.Response)
}
