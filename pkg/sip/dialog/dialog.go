package dialog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/sip_client/pkg/sip/message"
)

// Dialog представляет исходящий вызов и его SIP диалог.
// Call-ID и локальный tag фиксируются при создании, удаленный tag
// запоминается из первого ответа с tag и больше не меняется.
type Dialog struct {
	id       string // Call-ID
	localTag string

	// Параметры локальной стороны для построения запросов
	localURI    *message.URI
	displayName string
	localHost   string
	localPort   int
	proto       string // "UDP" или "TCP" для Via

	remoteURI *message.URI

	mu        sync.RWMutex
	remoteTag string
	localSeq  uint32
	remoteSeq uint32

	// Маршрутизация внутри диалога (RFC 3261 12.1.2): route set это
	// Record-Route из ответа в обратном порядке, remote target это
	// Contact удаленной стороны
	routeSet     []string
	remoteTarget *message.URI

	invite    *message.Request
	remoteSDP []byte

	createdAt   time.Time
	connectedAt time.Time
	endedAt     time.Time

	// Статус финального ответа для завершившихся вызовов
	finalStatus int

	cancelRequested bool
	finalReceived   bool

	ctx    context.Context
	cancel context.CancelFunc

	sm           *fsm.FSM
	stateHandler StateChangeHandler
}

func newDialog(callID string, localURI, remoteURI *message.URI, displayName, localHost string, localPort int, proto string) *Dialog {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dialog{
		id:          callID,
		localTag:    message.GenerateTag(),
		localURI:    localURI,
		displayName: displayName,
		localHost:   localHost,
		localPort:   localPort,
		proto:       proto,
		remoteURI:   remoteURI,
		localSeq:    0,
		createdAt:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	d.sm = fsm.NewFSM(
		fsmIdle,
		fsm.Events{
			{Name: eventCalling, Src: []string{fsmIdle}, Dst: fsmCalling},
			{Name: eventRinging, Src: []string{fsmCalling}, Dst: fsmRinging},
			{Name: eventConnect, Src: []string{fsmCalling, fsmRinging}, Dst: fsmConnected},
			// disconnect покрывает и отмененные вызовы: CANCEL до
			// финального ответа завершает вызов без перехода в failed
			{Name: eventDisconnect, Src: []string{fsmConnected, fsmCalling, fsmRinging}, Dst: fsmDisconnected},
			{Name: eventFail, Src: []string{fsmIdle, fsmCalling, fsmRinging}, Dst: fsmFailed},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				d.handleStateChange(e)
			},
		},
	)

	return d
}

func (d *Dialog) handleStateChange(e *fsm.Event) {
	d.mu.RLock()
	handler := d.stateHandler
	d.mu.RUnlock()

	if handler != nil && e.Src != e.Dst {
		handler(d, stateFromFSM(e.Src), stateFromFSM(e.Dst))
	}
}

// applyEvent выполняет переход FSM, недопустимые переходы игнорируются
func (d *Dialog) applyEvent(event string) {
	err := d.sm.Event(d.ctx, event)
	if err != nil {
		// NoTransitionError и InvalidEventError здесь не ошибки:
		// повторные события приходят из сети
		return
	}

	switch event {
	case eventConnect:
		d.mu.Lock()
		if d.connectedAt.IsZero() {
			d.connectedAt = time.Now()
		}
		d.mu.Unlock()
	case eventDisconnect, eventFail:
		d.mu.Lock()
		if d.endedAt.IsZero() {
			d.endedAt = time.Now()
		}
		d.mu.Unlock()
		d.cancel()
	}
}

// OnStateChange устанавливает обработчик смены состояния
func (d *Dialog) OnStateChange(handler StateChangeHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateHandler = handler
}

// ID возвращает Call-ID вызова
func (d *Dialog) ID() string { return d.id }

// State возвращает текущее состояние вызова
func (d *Dialog) State() State {
	return stateFromFSM(d.sm.Current())
}

// LocalTag возвращает локальный tag
func (d *Dialog) LocalTag() string { return d.localTag }

// RemoteTag возвращает удаленный tag, пустая строка до первого ответа
func (d *Dialog) RemoteTag() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.remoteTag
}

// RemoteURI возвращает URI удаленной стороны
func (d *Dialog) RemoteURI() *message.URI { return d.remoteURI }

// RemoteSDP возвращает тело последнего ответа с SDP
func (d *Dialog) RemoteSDP() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.remoteSDP
}

// FinalStatus возвращает код финального ответа на INVITE,
// 0 если финальный ответ еще не получен
func (d *Dialog) FinalStatus() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.finalStatus
}

// StartTime время создания вызова
func (d *Dialog) StartTime() time.Time { return d.createdAt }

// ConnectedTime время ответа на вызов, нулевое если не отвечен
func (d *Dialog) ConnectedTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connectedAt
}

// EndTime время завершения вызова, нулевое для активного
func (d *Dialog) EndTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.endedAt
}

// Duration длительность разговора от ответа до завершения
func (d *Dialog) Duration() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.connectedAt.IsZero() {
		return 0
	}
	if d.endedAt.IsZero() {
		return time.Since(d.connectedAt)
	}
	return d.endedAt.Sub(d.connectedAt)
}

// IsActive сообщает, идет ли вызов
func (d *Dialog) IsActive() bool {
	switch d.State() {
	case StateCalling, StateRinging, StateConnected:
		return true
	}
	return false
}

// IsFinished сообщает, завершен ли вызов
func (d *Dialog) IsFinished() bool {
	switch d.State() {
	case StateDisconnected, StateFailed:
		return true
	}
	return false
}

// Done закрывается при завершении вызова
func (d *Dialog) Done() <-chan struct{} { return d.ctx.Done() }

// nextCSeq выдает следующий номер CSeq для запросов внутри диалога
func (d *Dialog) nextCSeq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localSeq++
	return d.localSeq
}

// remoteTagMatches проверяет, что To tag ответа согласуется с уже
// зафиксированным remote tag. Пока tag не зафиксирован или ответ
// без tag, любой ответ проходит.
func (d *Dialog) remoteTagMatches(resp *message.Response) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.remoteTag == "" {
		return true
	}
	tag := message.ExtractTag(resp.GetHeader("To"))
	return tag == "" || tag == d.remoteTag
}

// updateFromResponse запоминает параметры диалога из ответа:
// remote tag (однократно), route set и remote target (RFC 3261 12.1.2)
func (d *Dialog) updateFromResponse(resp *message.Response) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.remoteTag == "" {
		if tag := message.ExtractTag(resp.GetHeader("To")); tag != "" {
			d.remoteTag = tag
		}
	}

	// Route set строится из Record-Route в обратном порядке и после
	// установки не пересматривается
	if len(d.routeSet) == 0 {
		rr := resp.GetHeaders("Record-Route")
		for i := len(rr) - 1; i >= 0; i-- {
			d.routeSet = append(d.routeSet, rr[i])
		}
	}

	if contact := resp.GetHeader("Contact"); contact != "" {
		if uri, err := message.ExtractURI(contact); err == nil {
			d.remoteTarget = uri
		}
	}

	if len(resp.Body()) > 0 {
		d.remoteSDP = resp.Body()
	}
}

// localAddress значение From для запросов этого диалога
func (d *Dialog) localAddress() string {
	addr := fmt.Sprintf("<%s>;tag=%s", d.localURI.String(), d.localTag)
	if d.displayName != "" {
		addr = fmt.Sprintf("%q %s", d.displayName, addr)
	}
	return addr
}

// remoteAddress значение To для запросов внутри диалога
func (d *Dialog) remoteAddress() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	addr := fmt.Sprintf("<%s>", d.remoteURI.String())
	if d.remoteTag != "" {
		addr += ";tag=" + d.remoteTag
	}
	return addr
}

// requestTarget возвращает Request-URI для запросов внутри диалога:
// remote target если известен, иначе исходный URI
func (d *Dialog) requestTarget() *message.URI {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.remoteTarget != nil {
		return d.remoteTarget.Clone()
	}
	return d.remoteURI.Clone()
}

// buildInDialogRequest строит запрос внутри диалога: BYE или ACK
func (d *Dialog) buildInDialogRequest(method string, seq uint32) *message.Request {
	req := &message.Request{
		Method:     method,
		RequestURI: d.requestTarget(),
		Headers:    message.NewHeaders(),
	}

	branch := message.GenerateBranch()
	via := &message.Via{
		Transport: d.proto,
		Host:      d.localHost,
		Port:      d.localPort,
		Branch:    branch,
	}
	req.SetHeader("Via", via.String())
	req.SetHeader("From", d.localAddress())
	req.SetHeader("To", d.remoteAddress())
	req.SetHeader("Call-ID", d.id)
	req.SetHeader("CSeq", fmt.Sprintf("%d %s", seq, method))
	req.SetHeader("Max-Forwards", "70")

	d.mu.RLock()
	for _, route := range d.routeSet {
		req.AddHeader("Route", route)
	}
	d.mu.RUnlock()

	return req
}

// buildACK строит ACK на 2xx ответ (RFC 3261 13.2.2.4): отдельное
// сообщение вне INVITE транзакции, с новым branch и CSeq номером INVITE
func (d *Dialog) buildACK() *message.Request {
	d.mu.RLock()
	inviteSeq := uint32(1)
	if d.invite != nil {
		if seq, _, err := message.ParseCSeq(d.invite.GetHeader("CSeq")); err == nil {
			inviteSeq = seq
		}
	}
	d.mu.RUnlock()

	return d.buildInDialogRequest(message.MethodACK, inviteSeq)
}

// buildBYE строит BYE для завершения вызова
func (d *Dialog) buildBYE() *message.Request {
	return d.buildInDialogRequest(message.MethodBYE, d.nextCSeq())
}
