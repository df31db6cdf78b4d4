package transaction

import (
	"fmt"
	"sync"

	"github.com/arzzra/sip_client/pkg/sip/message"
	"github.com/arzzra/sip_client/pkg/sip/transport"
)

const responseChannelDepth = 8

// baseTransaction общая часть клиентских транзакций. Все переходы FSM
// выполняются под мьютексом: ответы приходят из транспортной горутины,
// таймеры срабатывают в своих горутинах.
type baseTransaction struct {
	key         Key
	request     *message.Request
	destination string // адрес назначения host:port

	mu    sync.Mutex
	state State

	tr       transport.Transport
	reliable bool

	timers       Timers
	timerManager *TimerManager

	respCh chan *message.Response
	errCh  chan error
	done   chan struct{}

	// вызывается после перехода в Terminated, менеджер снимает
	// транзакцию с учета
	onTerminate func(Key)
}

func newBaseTransaction(
	key Key,
	req *message.Request,
	destination string,
	tr transport.Transport,
	timers Timers,
	initial State,
	onTerminate func(Key),
) *baseTransaction {
	if tr.Reliable() {
		timers = timers.AdjustForReliableTransport()
	}

	return &baseTransaction{
		key:          key,
		request:      req,
		destination:  destination,
		state:        initial,
		tr:           tr,
		reliable:     tr.Reliable(),
		timers:       timers,
		timerManager: NewTimerManager(),
		respCh:       make(chan *message.Response, responseChannelDepth),
		errCh:        make(chan error, 1),
		done:         make(chan struct{}),
		onTerminate:  onTerminate,
	}
}

func (t *baseTransaction) ID() string     { return t.key.String() }
func (t *baseTransaction) Branch() string { return t.key.Branch }

func (t *baseTransaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *baseTransaction) Request() *message.Request { return t.request }

func (t *baseTransaction) Responses() <-chan *message.Response { return t.respCh }
func (t *baseTransaction) Errors() <-chan error                { return t.errCh }
func (t *baseTransaction) Done() <-chan struct{}               { return t.done }

// send отправляет сообщение на адрес назначения транзакции
func (t *baseTransaction) send(msg message.Message) error {
	if err := t.tr.Send(msg, t.destination); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	return nil
}

// changeStateLocked меняет состояние, mu должен быть захвачен
func (t *baseTransaction) changeStateLocked(newState State) {
	if t.state == newState || t.state == StateTerminated {
		return
	}
	t.state = newState
	if newState == StateTerminated {
		t.terminateLocked()
	}
}

// terminateLocked завершает транзакцию, mu должен быть захвачен
func (t *baseTransaction) terminateLocked() {
	t.state = StateTerminated
	t.timerManager.StopAll()
	select {
	case <-t.done:
		// уже закрыт
	default:
		close(t.done)
		close(t.respCh)
	}
	if t.onTerminate != nil {
		// Снимаем с учета вне мьютекса: менеджер берет свой лок
		go t.onTerminate(t.key)
	}
}

// Terminate принудительно завершает транзакцию
func (t *baseTransaction) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateTerminated {
		t.terminateLocked()
	}
}

// deliverResponseLocked кладет ответ в канал, mu должен быть захвачен.
// Канал буферизован; если потребитель не читает, ответ отбрасывается
// вместо блокировки FSM.
func (t *baseTransaction) deliverResponseLocked(resp *message.Response) {
	if t.state == StateTerminated {
		return
	}
	select {
	case t.respCh <- resp:
	default:
	}
}

// deliverErrorLocked сообщает терминальную ошибку, mu должен быть захвачен
func (t *baseTransaction) deliverErrorLocked(err error) {
	select {
	case t.errCh <- err:
	default:
	}
}

// startTimerLocked запускает таймер из набора, mu должен быть захвачен
func (t *baseTransaction) startTimerLocked(id TimerID, callback func()) {
	duration := t.timers.GetTimerDuration(id)
	if duration > 0 {
		t.timerManager.Start(id, duration, callback)
	}
}
