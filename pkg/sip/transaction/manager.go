package transaction

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/arzzra/sip_client/pkg/sip/message"
	"github.com/arzzra/sip_client/pkg/sip/transport"
)

// RequestHandler вызывается для входящих запросов, не относящихся
// к клиентским транзакциям (например BYE от удаленной стороны)
type RequestHandler func(req *message.Request, addr net.Addr, tr transport.Transport)

// Manager таблица активных клиентских транзакций. Входящие ответы
// сопоставляются с транзакциями по branch + метод из CSeq.
type Manager struct {
	mu           sync.RWMutex
	transactions map[string]ClientTransaction
	closed       bool

	timers Timers
	logger *slog.Logger

	requestHandler RequestHandler
}

// NewManager создает менеджер транзакций и подписывается на входящие
// сообщения транспортного менеджера
func NewManager(transports *transport.Manager, timers Timers, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		transactions: make(map[string]ClientTransaction),
		timers:       timers,
		logger:       logger,
	}

	if transports != nil {
		transports.OnMessage(m.HandleMessage)
	}

	return m
}

// OnRequest устанавливает обработчик входящих запросов
func (m *Manager) OnRequest(handler RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHandler = handler
}

// CreateClientTransaction создает и запускает клиентскую транзакцию.
// Запрос отправляется немедленно, ретрансмиссии и таймауты ведет FSM.
func (m *Manager) CreateClientTransaction(req *message.Request, tr transport.Transport, destination string) (ClientTransaction, error) {
	key, err := KeyFromRequest(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if _, exists := m.transactions[key.String()]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTransactionExists, key)
	}

	var tx ClientTransaction
	var start func() error

	if req.Method == message.MethodINVITE {
		ict := newInviteTransaction(key, req, destination, tr, m.timers, m.remove)
		tx, start = ict, ict.start
	} else {
		nict := newNonInviteTransaction(key, req, destination, tr, m.timers, m.remove)
		tx, start = nict, nict.start
	}

	m.transactions[key.String()] = tx
	m.mu.Unlock()

	m.logger.Debug("client transaction created",
		slog.String("key", key.String()),
		slog.String("method", req.Method),
		slog.String("destination", destination))

	if err := start(); err != nil {
		return nil, err
	}

	return tx, nil
}

// Cancel отправляет CANCEL для INVITE транзакции. CANCEL образует
// собственную non-INVITE транзакцию с тем же branch (RFC 3261 9.1).
// Допустим только пока финальный ответ не получен; в состоянии
// Calling до первого provisional ответа CANCEL по RFC следует
// откладывать, здесь он отправляется сразу.
func (m *Manager) Cancel(tx ClientTransaction, tr transport.Transport, destination string) (ClientTransaction, error) {
	if !tx.IsInvite() {
		return nil, fmt.Errorf("%w: CANCEL is only valid for INVITE", ErrInvalidState)
	}
	switch tx.State() {
	case StateCompleted, StateTerminated:
		return nil, fmt.Errorf("%w: transaction already has final response", ErrInvalidState)
	}

	cancel := buildCANCEL(tx.Request())
	return m.CreateClientTransaction(cancel, tr, destination)
}

// FindTransaction находит транзакцию по ключу
func (m *Manager) FindTransaction(key Key) (ClientTransaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[key.String()]
	return tx, ok
}

// Count возвращает число активных транзакций
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transactions)
}

// HandleMessage маршрутизирует входящее сообщение: ответы в
// соответствующую транзакцию, запросы в обработчик запросов
func (m *Manager) HandleMessage(msg message.Message, addr net.Addr, tr transport.Transport) {
	if resp, ok := msg.(*message.Response); ok {
		m.handleResponse(resp)
		return
	}

	req, ok := msg.(*message.Request)
	if !ok {
		return
	}

	m.mu.RLock()
	handler := m.requestHandler
	m.mu.RUnlock()

	if handler != nil {
		handler(req, addr, tr)
	} else {
		m.logger.Debug("incoming request dropped, no handler",
			slog.String("method", req.Method))
	}
}

func (m *Manager) handleResponse(resp *message.Response) {
	key, err := KeyFromResponse(resp)
	if err != nil {
		m.logger.Debug("response without transaction key", slog.Any("error", err))
		return
	}

	tx, ok := m.FindTransaction(key)
	if !ok {
		// Поздний ответ завершенной транзакции или чужое сообщение
		m.logger.Debug("response does not match any transaction",
			slog.String("key", key.String()),
			slog.Int("status", resp.StatusCode))
		return
	}

	tx.handleResponse(resp)
}

// remove снимает завершенную транзакцию с учета
func (m *Manager) remove(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transactions, key.String())
}

// Close завершает все активные транзакции
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	active := make([]ClientTransaction, 0, len(m.transactions))
	for _, tx := range m.transactions {
		active = append(active, tx)
	}
	m.mu.Unlock()

	for _, tx := range active {
		tx.Terminate()
	}
	return nil
}

// buildCANCEL создает CANCEL запрос для INVITE (RFC 3261 9.1):
// Request-URI, Call-ID, From, To и branch копируются из INVITE,
// номер CSeq тот же, метод CANCEL
func buildCANCEL(invite *message.Request) *message.Request {
	cancel := &message.Request{
		Method:     message.MethodCANCEL,
		RequestURI: invite.RequestURI.Clone(),
		Headers:    message.NewHeaders(),
	}

	cancel.SetHeader("Via", invite.GetHeader("Via"))
	cancel.SetHeader("From", invite.GetHeader("From"))
	cancel.SetHeader("To", invite.GetHeader("To"))
	cancel.SetHeader("Call-ID", invite.GetHeader("Call-ID"))
	if seq, _, err := message.ParseCSeq(invite.GetHeader("CSeq")); err == nil {
		cancel.SetHeader("CSeq", fmt.Sprintf("%d %s", seq, message.MethodCANCEL))
	}
	if route := invite.GetHeader("Route"); route != "" {
		cancel.SetHeader("Route", route)
	}
	cancel.SetHeader("Max-Forwards", "70")

	return cancel
}

// DestinationFromURI вычисляет адрес host:port для отправки запроса
func DestinationFromURI(uri *message.URI) string {
	host := uri.Host
	port := uri.Port
	if port == 0 {
		port = uri.DefaultPort()
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, port)
}
