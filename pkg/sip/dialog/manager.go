package dialog

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/arzzra/sip_client/pkg/sip/auth"
	"github.com/arzzra/sip_client/pkg/sip/message"
	"github.com/arzzra/sip_client/pkg/sip/transaction"
	"github.com/arzzra/sip_client/pkg/sip/transport"
)

// Config параметры локальной стороны для всех вызовов
type Config struct {
	LocalURI    *message.URI // адрес пользователя (From)
	Contact     *message.URI // Contact для запросов
	DisplayName string
	LocalHost   string
	LocalPort   int
	Transport   string // "UDP" или "TCP" для Via
	UserAgent   string
}

// Manager управляет вызовами, диалоги индексируются по Call-ID
type Manager struct {
	cfg    Config
	txMgr  *transaction.Manager
	tports *transport.Manager
	authn  *auth.Authenticator
	logger *slog.Logger

	mu      sync.RWMutex
	dialogs map[string]*Dialog
	closed  bool

	stateHandler   StateChangeHandler
	failureHandler FailureHandler

	// транзакции INVITE по Call-ID для отправки CANCEL
	inviteTx map[string]transaction.ClientTransaction
}

// NewManager создает менеджер вызовов
func NewManager(cfg Config, txMgr *transaction.Manager, tports *transport.Manager, authn *auth.Authenticator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Transport == "" {
		cfg.Transport = "UDP"
	}
	return &Manager{
		cfg:      cfg,
		txMgr:    txMgr,
		tports:   tports,
		authn:    authn,
		logger:   logger,
		dialogs:  make(map[string]*Dialog),
		inviteTx: make(map[string]transaction.ClientTransaction),
	}
}

// OnStateChange устанавливает обработчик смены состояния вызовов
func (m *Manager) OnStateChange(handler StateChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateHandler = handler
}

// OnFailure устанавливает обработчик неуспешных вызовов
func (m *Manager) OnFailure(handler FailureHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureHandler = handler
}

// Get возвращает диалог по Call-ID
func (m *Manager) Get(callID string) (*Dialog, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dialogs[callID]
	return d, ok
}

// All возвращает все диалоги
func (m *Manager) All() []*Dialog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Dialog, 0, len(m.dialogs))
	for _, d := range m.dialogs {
		out = append(out, d)
	}
	return out
}

// Call инициирует исходящий вызов. Возвращает диалог сразу после
// отправки INVITE, дальнейшие переходы приходят через обработчики.
func (m *Manager) Call(target *message.URI, sdp []byte) (*Dialog, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrManagerClosed
	}
	m.mu.RUnlock()

	callID := message.GenerateCallID(m.cfg.LocalHost)
	d := newDialog(callID, m.cfg.LocalURI, target, m.cfg.DisplayName, m.cfg.LocalHost, m.cfg.LocalPort, m.cfg.Transport)

	m.mu.RLock()
	d.stateHandler = m.stateHandler
	m.mu.RUnlock()

	invite, err := m.buildInvite(d, target, sdp)
	if err != nil {
		return nil, err
	}
	d.invite = invite

	tr, err := m.tports.ForURI(target)
	if err != nil {
		return nil, err
	}
	destination := transaction.DestinationFromURI(target)

	m.mu.Lock()
	m.dialogs[callID] = d
	m.mu.Unlock()

	d.applyEvent(eventCalling)

	tx, err := m.txMgr.CreateClientTransaction(invite, tr, destination)
	if err != nil {
		d.applyEvent(eventFail)
		m.remove(callID)
		return nil, err
	}

	m.mu.Lock()
	m.inviteTx[callID] = tx
	m.mu.Unlock()

	go m.monitorInvite(d, tx, invite, tr, destination, false)

	return d, nil
}

// buildInvite строит начальный INVITE вызова
func (m *Manager) buildInvite(d *Dialog, target *message.URI, sdp []byte) (*message.Request, error) {
	b := message.NewRequest(message.MethodINVITE, target.Clone()).
		Via(m.cfg.Transport, m.cfg.LocalHost, m.cfg.LocalPort, message.GenerateBranch()).
		From(m.cfg.LocalURI, m.cfg.DisplayName, d.localTag).
		To(target, "").
		CallID(d.id).
		CSeq(d.nextCSeq(), message.MethodINVITE).
		Contact(m.cfg.Contact)

	if m.cfg.UserAgent != "" {
		b.Header("User-Agent", m.cfg.UserAgent)
	}
	if len(sdp) > 0 {
		b.Body("application/sdp", sdp)
	}

	return b.Build()
}

// monitorInvite следит за INVITE транзакцией до финального ответа
func (m *Manager) monitorInvite(d *Dialog, tx transaction.ClientTransaction, invite *message.Request, tr transport.Transport, destination string, authRetried bool) {
	for {
		select {
		case resp, ok := <-tx.Responses():
			if !ok {
				return
			}
			if m.handleInviteResponse(d, tx, invite, tr, destination, resp, &authRetried) {
				return
			}

		case err := <-tx.Errors():
			m.logger.Warn("call failed",
				slog.String("call_id", d.ID()),
				slog.Any("error", err))
			m.finishInvite(d)
			d.applyEvent(eventFail)
			m.notifyFailure(d, 0, err.Error())
			return
		}
	}
}

// handleInviteResponse обрабатывает ответ на INVITE, возвращает true
// когда мониторинг этой транзакции закончен
func (m *Manager) handleInviteResponse(d *Dialog, tx transaction.ClientTransaction, invite *message.Request, tr transport.Transport, destination string, resp *message.Response, authRetried *bool) bool {
	code := resp.StatusCode

	// Remote tag зафиксирован первым ответом с tag; ответ с другим
	// tag нарушает протокол и игнорируется целиком
	if !d.remoteTagMatches(resp) {
		m.logger.Warn("response To tag does not match dialog, ignored",
			slog.String("call_id", d.ID()),
			slog.Int("status", code),
			slog.String("to", resp.GetHeader("To")))
		return false
	}

	switch {
	case code < 200:
		// Ранний диалог: запоминаем remote tag из 1xx с tag
		d.updateFromResponse(resp)
		if code == message.StatusRinging || code == message.StatusSessionProgress {
			d.applyEvent(eventRinging)
		}
		return false

	case code < 300:
		d.mu.Lock()
		d.finalReceived = true
		d.finalStatus = code
		canceled := d.cancelRequested
		d.mu.Unlock()

		d.updateFromResponse(resp)

		// ACK на 2xx идет отдельным сообщением вне транзакции
		ack := d.buildACK()
		if err := tr.Send(ack, m.destinationFor(d)); err != nil {
			m.logger.Error("failed to send ACK",
				slog.String("call_id", d.ID()),
				slog.Any("error", err))
		}

		d.applyEvent(eventConnect)

		// Гонка CANCEL/200 OK: вызов уже отвечен, завершаем его BYE
		if canceled {
			m.logger.Debug("canceled call was answered, sending BYE",
				slog.String("call_id", d.ID()))
			m.sendBye(d)
			d.applyEvent(eventDisconnect)
		}

		m.finishInvite(d)
		return true

	case auth.IsChallenge(resp) && !*authRetried && m.authn != nil:
		retry, err := m.retryWithAuth(d, invite, resp)
		if err != nil {
			m.logger.Warn("authentication failed",
				slog.String("call_id", d.ID()),
				slog.Any("error", err))
			break
		}

		newTx, err := m.txMgr.CreateClientTransaction(retry, tr, destination)
		if err != nil {
			break
		}

		m.mu.Lock()
		m.inviteTx[d.ID()] = newTx
		m.mu.Unlock()

		*authRetried = true
		go m.monitorInvite(d, newTx, retry, tr, destination, true)
		return true
	}

	// Финальный не-2xx ответ
	d.mu.Lock()
	d.finalReceived = true
	d.finalStatus = code
	canceled := d.cancelRequested
	d.mu.Unlock()

	m.finishInvite(d)

	if canceled && code == message.StatusRequestTerminated {
		// Отмененный вызов завершился штатно
		d.applyEvent(eventDisconnect)
	} else {
		d.applyEvent(eventFail)
		m.notifyFailure(d, code, resp.ReasonPhrase)
	}
	return true
}

// retryWithAuth готовит повтор запроса с credentials: новый branch,
// увеличенный CSeq, заголовок Authorization
func (m *Manager) retryWithAuth(d *Dialog, req *message.Request, resp *message.Response) (*message.Request, error) {
	retry := req.Clone()

	via := &message.Via{
		Transport: m.cfg.Transport,
		Host:      m.cfg.LocalHost,
		Port:      m.cfg.LocalPort,
		Branch:    message.GenerateBranch(),
	}
	retry.SetHeader("Via", via.String())
	retry.SetHeader("CSeq", fmt.Sprintf("%d %s", d.nextCSeq(), req.Method))

	if err := m.authn.Authorize(retry, resp); err != nil {
		return nil, err
	}
	return retry, nil
}

// Hangup завершает отвеченный вызов отправкой BYE
func (m *Manager) Hangup(d *Dialog) error {
	if d.State() != StateConnected {
		return fmt.Errorf("%w: hangup in state %s", ErrInvalidState, d.State())
	}

	if err := m.sendBye(d); err != nil {
		return err
	}

	d.applyEvent(eventDisconnect)
	return nil
}

// sendBye отправляет BYE внутри диалога через non-INVITE транзакцию
func (m *Manager) sendBye(d *Dialog) error {
	bye := d.buildBYE()

	target := d.requestTarget()
	tr, err := m.tports.ForURI(target)
	if err != nil {
		return err
	}
	destination := m.destinationFor(d)

	tx, err := m.txMgr.CreateClientTransaction(bye, tr, destination)
	if err != nil {
		return err
	}

	// Ответ на BYE дожидаемся в фоне: вызов завершен в любом случае
	go func() {
		authRetried := false
		for {
			select {
			case resp, ok := <-tx.Responses():
				if !ok {
					return
				}
				if resp.StatusCode < 200 {
					continue
				}
				if auth.IsChallenge(resp) && !authRetried && m.authn != nil {
					retry, err := m.retryWithAuth(d, bye, resp)
					if err != nil {
						return
					}
					newTx, err := m.txMgr.CreateClientTransaction(retry, tr, destination)
					if err != nil {
						return
					}
					tx, bye = newTx, retry
					authRetried = true
					continue
				}
				return
			case <-tx.Errors():
				return
			}
		}
	}()

	return nil
}

// Cancel отменяет неотвеченный вызов. После финального ответа
// отмена невозможна и вызов не является ошибкой: исход определяется
// уже полученным ответом.
func (m *Manager) Cancel(d *Dialog) error {
	d.mu.Lock()
	if d.finalReceived || d.cancelRequested {
		d.mu.Unlock()
		return nil
	}
	d.cancelRequested = true
	d.mu.Unlock()

	m.mu.RLock()
	tx := m.inviteTx[d.ID()]
	m.mu.RUnlock()
	if tx == nil {
		return fmt.Errorf("%w: no INVITE transaction", ErrInvalidState)
	}

	target := d.RemoteURI()
	tr, err := m.tports.ForURI(target)
	if err != nil {
		return err
	}

	_, err = m.txMgr.Cancel(tx, tr, transaction.DestinationFromURI(target))
	return err
}

// HandleRequest обрабатывает входящие запросы: BYE завершает вызов,
// остальные методы отклоняются stateless ответом
func (m *Manager) HandleRequest(req *message.Request, addr net.Addr, tr transport.Transport) {
	callID := req.GetHeader("Call-ID")

	switch req.Method {
	case message.MethodBYE:
		d, ok := m.Get(callID)
		if !ok || d.IsFinished() {
			m.respondStateless(req, addr, tr, message.StatusTransactionNotExist)
			return
		}

		// Запоминаем CSeq удаленной стороны
		if seq, _, err := message.ParseCSeq(req.GetHeader("CSeq")); err == nil {
			d.mu.Lock()
			d.remoteSeq = seq
			d.mu.Unlock()
		}

		m.respondStateless(req, addr, tr, message.StatusOK)
		m.logger.Info("call ended by remote side", slog.String("call_id", callID))
		d.applyEvent(eventDisconnect)

	case message.MethodACK:
		// ACK не требует ответа

	case message.MethodINVITE:
		// Входящие вызовы не поддерживаются
		m.respondStateless(req, addr, tr, message.StatusMethodNotAllowed)

	default:
		if _, ok := m.Get(callID); !ok {
			m.respondStateless(req, addr, tr, message.StatusTransactionNotExist)
		} else {
			m.respondStateless(req, addr, tr, message.StatusMethodNotAllowed)
		}
	}
}

// respondStateless отправляет ответ без создания серверной транзакции
func (m *Manager) respondStateless(req *message.Request, addr net.Addr, tr transport.Transport, code int) {
	resp := message.NewResponse(req, code, "")
	if code != message.StatusOK && message.ExtractTag(resp.GetHeader("To")) == "" {
		resp.SetToTag(message.GenerateTag())
	}

	dest := ""
	if addr != nil {
		dest = addr.String()
	}
	if err := tr.Send(resp, dest); err != nil {
		m.logger.Warn("failed to send response",
			slog.Int("status", code),
			slog.Any("error", err))
	}
}

// destinationFor возвращает адрес отправки запросов внутри диалога:
// первый элемент route set или remote target
func (m *Manager) destinationFor(d *Dialog) string {
	d.mu.RLock()
	routeSet := d.routeSet
	d.mu.RUnlock()

	if len(routeSet) > 0 {
		if uri, err := message.ExtractURI(routeSet[0]); err == nil {
			return transaction.DestinationFromURI(uri)
		}
	}
	return transaction.DestinationFromURI(d.requestTarget())
}

// finishInvite снимает INVITE транзакцию с учета
func (m *Manager) finishInvite(d *Dialog) {
	m.mu.Lock()
	delete(m.inviteTx, d.ID())
	m.mu.Unlock()
}

func (m *Manager) notifyFailure(d *Dialog, code int, reason string) {
	m.mu.RLock()
	handler := m.failureHandler
	m.mu.RUnlock()
	if handler != nil {
		handler(d, code, reason)
	}
}

func (m *Manager) remove(callID string) {
	m.mu.Lock()
	delete(m.dialogs, callID)
	delete(m.inviteTx, callID)
	m.mu.Unlock()
}

// Close завершает все активные вызовы
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	active := make([]*Dialog, 0, len(m.dialogs))
	for _, d := range m.dialogs {
		active = append(active, d)
	}
	m.mu.Unlock()

	for _, d := range active {
		switch d.State() {
		case StateConnected:
			_ = m.sendBye(d)
			d.applyEvent(eventDisconnect)
		case StateCalling, StateRinging:
			_ = m.Cancel(d)
			d.applyEvent(eventDisconnect)
		}
	}
	return nil
}
