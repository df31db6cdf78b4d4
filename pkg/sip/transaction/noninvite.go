package transaction

import (
	"fmt"
	"time"

	"github.com/arzzra/sip_client/pkg/sip/message"
	"github.com/arzzra/sip_client/pkg/sip/transport"
)

// nonInviteTransaction реализует non-INVITE client transaction
// (RFC 3261 17.1.2)
//
//	Trying -> Proceeding -> Completed -> Terminated
type nonInviteTransaction struct {
	*baseTransaction
}

func newNonInviteTransaction(
	key Key,
	req *message.Request,
	destination string,
	tr transport.Transport,
	timers Timers,
	onTerminate func(Key),
) *nonInviteTransaction {
	return &nonInviteTransaction{
		baseTransaction: newBaseTransaction(key, req, destination, tr, timers, StateTrying, onTerminate),
	}
}

func (t *nonInviteTransaction) IsInvite() bool { return false }

// start отправляет запрос и запускает таймеры состояния Trying
func (t *nonInviteTransaction) start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.send(t.request); err != nil {
		t.deliverErrorLocked(err)
		t.terminateLocked()
		return err
	}

	if !t.reliable && t.timers.TimerE > 0 {
		t.timerManager.Start(TimerE, t.timers.TimerE, t.makeTimerE(t.timers.TimerE))
	}

	t.startTimerLocked(TimerF, t.handleTimerF)

	return nil
}

// makeTimerE возвращает callback ретрансмиссии с текущим интервалом.
// Интервал удваивается до T2; в состоянии Proceeding ретрансмиссии
// идут каждые T2 (RFC 3261 17.1.2.2).
func (t *nonInviteTransaction) makeTimerE(current time.Duration) func() {
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		if t.state != StateTrying && t.state != StateProceeding {
			return
		}

		if err := t.send(t.request); err != nil {
			t.deliverErrorLocked(err)
			t.terminateLocked()
			return
		}

		next := NextRetransmitInterval(current, t.timers.T2)
		if t.state == StateProceeding {
			next = t.timers.T2
		}
		t.timerManager.Start(TimerE, next, t.makeTimerE(next))
	}
}

// handleTimerF таймаут транзакции
func (t *nonInviteTransaction) handleTimerF() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateTrying || t.state == StateProceeding {
		t.deliverErrorLocked(fmt.Errorf("%w: Timer F", ErrTimeout))
		t.terminateLocked()
	}
}

// handleTimerK выдержка в Completed для поглощения повторов ответа
func (t *nonInviteTransaction) handleTimerK() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateCompleted {
		t.terminateLocked()
	}
}

func (t *nonInviteTransaction) handleResponse(resp *message.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()

	code := resp.StatusCode

	switch t.state {
	case StateTrying, StateProceeding:
		if code < 200 {
			t.changeStateLocked(StateProceeding)
			t.deliverResponseLocked(resp)
			return
		}

		// Финальный ответ: Completed, Timer K поглощает повторы
		t.timerManager.Stop(TimerE)
		t.timerManager.Stop(TimerF)
		t.deliverResponseLocked(resp)
		t.changeStateLocked(StateCompleted)
		if t.timers.TimerK > 0 {
			t.startTimerLocked(TimerK, t.handleTimerK)
		} else {
			t.terminateLocked()
		}

	case StateCompleted, StateTerminated:
		// Повторы финального ответа поглощаются
	}
}
