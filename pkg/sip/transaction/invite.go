package transaction

import (
	"fmt"
	"time"

	"github.com/arzzra/sip_client/pkg/sip/message"
	"github.com/arzzra/sip_client/pkg/sip/transport"
)

// inviteTransaction реализует INVITE client transaction (RFC 3261 17.1.1)
//
//	Calling -> Proceeding -> Completed -> Terminated
//
// 2xx ответ переводит транзакцию сразу в Terminated: ACK для 2xx
// строится на уровне диалога, не транзакции.
type inviteTransaction struct {
	*baseTransaction

	retransmitCount   int
	currentRetransmit time.Duration

	// ACK, отправленный на не-2xx финальный ответ; ретранслируется
	// при повторах финального ответа в состоянии Completed
	ack *message.Request
}

func newInviteTransaction(
	key Key,
	req *message.Request,
	destination string,
	tr transport.Transport,
	timers Timers,
	onTerminate func(Key),
) *inviteTransaction {
	t := &inviteTransaction{
		baseTransaction: newBaseTransaction(key, req, destination, tr, timers, StateCalling, onTerminate),
	}
	t.currentRetransmit = t.timers.TimerA
	return t
}

func (t *inviteTransaction) IsInvite() bool { return true }

// start отправляет запрос и запускает таймеры состояния Calling
func (t *inviteTransaction) start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.send(t.request); err != nil {
		t.deliverErrorLocked(err)
		t.terminateLocked()
		return err
	}

	// Timer A - ретрансмиссии только для ненадежного транспорта
	if !t.reliable && t.timers.TimerA > 0 {
		t.startTimerLocked(TimerA, t.handleTimerA)
	}

	// Timer B - общий таймаут транзакции
	t.startTimerLocked(TimerB, t.handleTimerB)

	return nil
}

// handleTimerA ретранслирует INVITE, интервал удваивается без
// ограничения сверху (RFC 3261 17.1.1.2)
func (t *inviteTransaction) handleTimerA() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateCalling {
		return
	}

	if err := t.send(t.request); err != nil {
		t.deliverErrorLocked(err)
		t.terminateLocked()
		return
	}

	t.retransmitCount++
	t.currentRetransmit *= 2
	t.timerManager.Start(TimerA, t.currentRetransmit, t.handleTimerA)
}

// handleTimerB таймаут: финальный ответ так и не пришел в Calling.
// После 1xx (Proceeding) транзакция ждет финальный ответ, Timer B
// не применяется (RFC 3261 17.1.1.2)
func (t *inviteTransaction) handleTimerB() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateCalling {
		return
	}
	t.deliverErrorLocked(fmt.Errorf("%w: Timer B", ErrTimeout))
	t.terminateLocked()
}

// handleTimerD выдержка в Completed для поглощения повторов ответа
func (t *inviteTransaction) handleTimerD() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateCompleted {
		t.terminateLocked()
	}
}

func (t *inviteTransaction) handleResponse(resp *message.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()

	code := resp.StatusCode

	switch t.state {
	case StateCalling, StateProceeding:
		switch {
		case code < 200:
			// 1xx: переходим в Proceeding, ретрансмиссии прекращаются
			t.timerManager.Stop(TimerA)
			t.changeStateLocked(StateProceeding)
			t.deliverResponseLocked(resp)

		case code < 300:
			// 2xx: доставляем и сразу Terminated
			t.timerManager.StopAll()
			t.deliverResponseLocked(resp)
			t.terminateLocked()

		default:
			// 3xx-6xx: ACK в рамках транзакции, Completed, Timer D
			t.timerManager.Stop(TimerA)
			t.timerManager.Stop(TimerB)
			t.deliverResponseLocked(resp)
			t.sendACKLocked(resp)
			t.changeStateLocked(StateCompleted)
			if t.timers.TimerD > 0 {
				t.startTimerLocked(TimerD, t.handleTimerD)
			} else {
				t.terminateLocked()
			}
		}

	case StateCompleted:
		// Повтор финального ответа: ретранслируем ACK, наверх не отдаем
		if code >= 300 {
			t.sendACKLocked(resp)
		}

	case StateTerminated:
		// Поздние ответы поглощаются
	}
}

// sendACKLocked строит и отправляет ACK на не-2xx финальный ответ
// (RFC 3261 17.1.1.3): та же транзакция, тот же branch, To из ответа
func (t *inviteTransaction) sendACKLocked(resp *message.Response) {
	if t.ack == nil {
		t.ack = buildACKForNon2xx(t.request, resp)
	}
	if err := t.send(t.ack); err != nil {
		t.deliverErrorLocked(err)
		t.terminateLocked()
	}
}

// buildACKForNon2xx создает ACK в рамках INVITE транзакции
func buildACKForNon2xx(invite *message.Request, resp *message.Response) *message.Request {
	ack := &message.Request{
		Method:     message.MethodACK,
		RequestURI: invite.RequestURI.Clone(),
		Headers:    message.NewHeaders(),
	}

	ack.SetHeader("Via", invite.GetHeader("Via"))
	ack.SetHeader("From", invite.GetHeader("From"))
	// To из ответа: содержит tag назначенный сервером
	ack.SetHeader("To", resp.GetHeader("To"))
	ack.SetHeader("Call-ID", invite.GetHeader("Call-ID"))
	if seq, _, err := message.ParseCSeq(invite.GetHeader("CSeq")); err == nil {
		ack.SetHeader("CSeq", fmt.Sprintf("%d %s", seq, message.MethodACK))
	}
	if route := invite.GetHeader("Route"); route != "" {
		ack.SetHeader("Route", route)
	}
	ack.SetHeader("Max-Forwards", "70")

	return ack
}
