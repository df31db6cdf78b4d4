package dialog

// State состояние вызова
type State int

const (
	StateIdle State = iota
	StateCalling
	StateRinging
	StateConnected
	StateDisconnected
	StateFailed
)

// String возвращает строковое представление состояния
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCalling:
		return "Calling"
	case StateRinging:
		return "Ringing"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// имена состояний и событий FSM
const (
	fsmIdle         = "idle"
	fsmCalling      = "calling"
	fsmRinging      = "ringing"
	fsmConnected    = "connected"
	fsmDisconnected = "disconnected"
	fsmFailed       = "failed"

	eventCalling    = "calling"
	eventRinging    = "ringing"
	eventConnect    = "connect"
	eventDisconnect = "disconnect"
	eventFail       = "fail"
)

func stateFromFSM(name string) State {
	switch name {
	case fsmIdle:
		return StateIdle
	case fsmCalling:
		return StateCalling
	case fsmRinging:
		return StateRinging
	case fsmConnected:
		return StateConnected
	case fsmDisconnected:
		return StateDisconnected
	case fsmFailed:
		return StateFailed
	default:
		return StateIdle
	}
}

// StateChangeHandler уведомление о смене состояния вызова
type StateChangeHandler func(d *Dialog, oldState, newState State)

// FailureHandler уведомление о неуспешном завершении вызова
type FailureHandler func(d *Dialog, statusCode int, reason string)
