// Package registration ведет регистрацию на SIP registrar: начальный
// REGISTER, периодическое обновление до истечения срока и снятие
// регистрации через Expires: 0.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/sip_client/pkg/sip/auth"
	"github.com/arzzra/sip_client/pkg/sip/message"
	"github.com/arzzra/sip_client/pkg/sip/transaction"
	"github.com/arzzra/sip_client/pkg/sip/transport"
)

// State состояние регистрации
type State int

const (
	StateUnregistered State = iota
	StateRegistering
	StateRegistered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "Unregistered"
	case StateRegistering:
		return "Registering"
	case StateRegistered:
		return "Registered"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

const (
	fsmUnregistered = "unregistered"
	fsmRegistering  = "registering"
	fsmRegistered   = "registered"
	fsmFailed       = "failed"

	eventRegister   = "register"
	eventOK         = "ok"
	eventRefresh    = "refresh"
	eventFail       = "fail"
	eventUnregister = "unregister"
)

func stateFromFSM(name string) State {
	switch name {
	case fsmRegistering:
		return StateRegistering
	case fsmRegistered:
		return StateRegistered
	case fsmFailed:
		return StateFailed
	default:
		return StateUnregistered
	}
}

// StateChangeHandler уведомление о смене состояния регистрации
type StateChangeHandler func(oldState, newState State)

var (
	// ErrNotRegistered снятие регистрации без активной регистрации
	ErrNotRegistered = errors.New("not registered")

	// ErrRegistrationClosed регистрация остановлена
	ErrRegistrationClosed = errors.New("registration closed")
)

// Config параметры регистрации
type Config struct {
	RegistrarURI *message.URI // sip:домен registrar
	AOR          *message.URI // address of record, он же From и To
	Contact      *message.URI
	DisplayName  string
	LocalHost    string
	LocalPort    int
	Transport    string // "UDP" или "TCP"
	UserAgent    string

	// Запрашиваемый срок регистрации в секундах
	ExpiresSeconds int

	// Интервал повтора после неуспешной регистрации,
	// ноль отключает повторы
	RetryInterval time.Duration
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Transport:      "UDP",
		ExpiresSeconds: 3600,
		RetryInterval:  30 * time.Second,
	}
}

// минимальный интервал до обновления регистрации
const minRefreshInterval = 30 * time.Second

// refreshFraction доля срока регистрации, после которой шлется
// обновление
const refreshFraction = 0.9

// Registration держит регистрацию на registrar. Call-ID фиксируется
// при создании и используется для всех REGISTER этой регистрации,
// CSeq монотонно растет (RFC 3261 10.2).
type Registration struct {
	cfg    Config
	txMgr  *transaction.Manager
	tports *transport.Manager
	authn  *auth.Authenticator
	logger *slog.Logger

	callID string

	mu        sync.Mutex
	cseq      uint32
	expiresAt time.Time
	closed    bool

	// только один REGISTER в полете; обновления, пришедшие во время
	// выполнения, не накладываются друг на друга
	inFlight bool

	refreshTimer *time.Timer
	retryTimer   *time.Timer

	sm           *fsm.FSM
	stateHandler StateChangeHandler
}

// New создает регистрацию
func New(cfg Config, txMgr *transaction.Manager, tports *transport.Manager, authn *auth.Authenticator, logger *slog.Logger) *Registration {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Transport == "" {
		cfg.Transport = "UDP"
	}
	if cfg.ExpiresSeconds <= 0 {
		cfg.ExpiresSeconds = 3600
	}

	r := &Registration{
		cfg:    cfg,
		txMgr:  txMgr,
		tports: tports,
		authn:  authn,
		logger: logger,
		callID: message.GenerateCallID(cfg.LocalHost),
	}

	r.sm = fsm.NewFSM(
		fsmUnregistered,
		fsm.Events{
			{Name: eventRegister, Src: []string{fsmUnregistered, fsmFailed}, Dst: fsmRegistering},
			{Name: eventOK, Src: []string{fsmRegistering}, Dst: fsmRegistered},
			{Name: eventRefresh, Src: []string{fsmRegistered}, Dst: fsmRegistering},
			{Name: eventFail, Src: []string{fsmRegistering, fsmRegistered}, Dst: fsmFailed},
			{Name: eventUnregister, Src: []string{fsmRegistered, fsmRegistering, fsmFailed}, Dst: fsmUnregistered},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				r.handleStateChange(e)
			},
		},
	)

	return r
}

func (r *Registration) handleStateChange(e *fsm.Event) {
	r.mu.Lock()
	handler := r.stateHandler
	r.mu.Unlock()

	if handler != nil && e.Src != e.Dst {
		handler(stateFromFSM(e.Src), stateFromFSM(e.Dst))
	}
}

func (r *Registration) applyEvent(event string) {
	_ = r.sm.Event(context.Background(), event)
}

// OnStateChange устанавливает обработчик смены состояния
func (r *Registration) OnStateChange(handler StateChangeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateHandler = handler
}

// State возвращает текущее состояние регистрации
func (r *Registration) State() State {
	return stateFromFSM(r.sm.Current())
}

// ExpiresAt возвращает момент истечения текущей регистрации
func (r *Registration) ExpiresAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expiresAt
}

// Register запускает регистрацию. Результат приходит асинхронно
// через обработчик состояния.
func (r *Registration) Register() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistrationClosed
	}
	if r.inFlight {
		r.mu.Unlock()
		return nil
	}
	r.inFlight = true
	r.mu.Unlock()

	switch r.State() {
	case StateRegistered:
		r.applyEvent(eventRefresh)
	default:
		r.applyEvent(eventRegister)
	}

	return r.sendRegister(r.cfg.ExpiresSeconds)
}

// Unregister снимает регистрацию отправкой REGISTER с Expires: 0
func (r *Registration) Unregister() error {
	if r.State() != StateRegistered {
		return ErrNotRegistered
	}

	r.mu.Lock()
	r.stopTimersLocked()
	if r.inFlight {
		r.mu.Unlock()
		return nil
	}
	r.inFlight = true
	r.mu.Unlock()

	return r.sendRegister(0)
}

// Close останавливает регистрацию, снимая ее при необходимости
func (r *Registration) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.stopTimersLocked()
	r.mu.Unlock()

	if r.State() == StateRegistered {
		r.mu.Lock()
		r.inFlight = true
		r.mu.Unlock()
		return r.sendRegister(0)
	}
	return nil
}

func (r *Registration) stopTimersLocked() {
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
		r.refreshTimer = nil
	}
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
}

// sendRegister строит и отправляет REGISTER с заданным Expires
func (r *Registration) sendRegister(expires int) error {
	req, err := r.buildRegister(expires)
	if err != nil {
		r.finishInFlight()
		return err
	}

	tr, err := r.tports.ForURI(r.cfg.RegistrarURI)
	if err != nil {
		r.finishInFlight()
		return err
	}
	destination := transaction.DestinationFromURI(r.cfg.RegistrarURI)

	tx, err := r.txMgr.CreateClientTransaction(req, tr, destination)
	if err != nil {
		r.finishInFlight()
		r.applyEvent(eventFail)
		r.scheduleRetry()
		return err
	}

	go r.monitor(tx, req, tr, destination, expires, false)
	return nil
}

func (r *Registration) buildRegister(expires int) (*message.Request, error) {
	r.mu.Lock()
	r.cseq++
	seq := r.cseq
	r.mu.Unlock()

	b := message.NewRequest(message.MethodREGISTER, r.cfg.RegistrarURI.Clone()).
		Via(r.cfg.Transport, r.cfg.LocalHost, r.cfg.LocalPort, message.GenerateBranch()).
		From(r.cfg.AOR, r.cfg.DisplayName, "reg-"+r.callID[:8]).
		To(r.cfg.AOR, "").
		CallID(r.callID).
		CSeq(seq, message.MethodREGISTER).
		Contact(r.cfg.Contact).
		Expires(expires)

	if r.cfg.UserAgent != "" {
		b.Header("User-Agent", r.cfg.UserAgent)
	}

	return b.Build()
}

// monitor ждет финального ответа на REGISTER
func (r *Registration) monitor(tx transaction.ClientTransaction, req *message.Request, tr transport.Transport, destination string, expires int, authRetried bool) {
	for {
		select {
		case resp, ok := <-tx.Responses():
			if !ok {
				return
			}
			if resp.StatusCode < 200 {
				continue
			}

			if auth.IsChallenge(resp) && !authRetried && r.authn != nil {
				retry, err := r.retryWithAuth(req, resp)
				if err != nil {
					r.logger.Warn("registration auth failed", slog.Any("error", err))
					r.handleFailure(expires)
					return
				}
				newTx, err := r.txMgr.CreateClientTransaction(retry, tr, destination)
				if err != nil {
					r.handleFailure(expires)
					return
				}
				go r.monitor(newTx, retry, tr, destination, expires, true)
				return
			}

			if resp.IsSuccess() {
				r.handleSuccess(resp, expires)
			} else {
				r.logger.Warn("registration rejected",
					slog.Int("status", resp.StatusCode),
					slog.String("reason", resp.ReasonPhrase))
				r.handleFailure(expires)
			}
			return

		case err := <-tx.Errors():
			r.logger.Warn("registration transport failure", slog.Any("error", err))
			r.handleFailure(expires)
			return
		}
	}
}

// retryWithAuth готовит повтор REGISTER с credentials
func (r *Registration) retryWithAuth(req *message.Request, resp *message.Response) (*message.Request, error) {
	retry := req.Clone()

	r.mu.Lock()
	r.cseq++
	seq := r.cseq
	r.mu.Unlock()

	via := &message.Via{
		Transport: r.cfg.Transport,
		Host:      r.cfg.LocalHost,
		Port:      r.cfg.LocalPort,
		Branch:    message.GenerateBranch(),
	}
	retry.SetHeader("Via", via.String())
	retry.SetHeader("CSeq", fmt.Sprintf("%d %s", seq, message.MethodREGISTER))

	if err := r.authn.Authorize(retry, resp); err != nil {
		return nil, err
	}
	return retry, nil
}

func (r *Registration) handleSuccess(resp *message.Response, requested int) {
	r.finishInFlight()

	if requested == 0 {
		r.mu.Lock()
		r.expiresAt = time.Time{}
		r.mu.Unlock()
		r.applyEvent(eventUnregister)
		r.logger.Info("unregistered", slog.String("aor", r.cfg.AOR.String()))
		return
	}

	granted := grantedExpires(resp, requested)
	r.mu.Lock()
	r.expiresAt = time.Now().Add(time.Duration(granted) * time.Second)
	r.mu.Unlock()

	r.applyEvent(eventOK)
	r.logger.Info("registered",
		slog.String("aor", r.cfg.AOR.String()),
		slog.Int("expires", granted))

	r.scheduleRefresh(granted)
}

func (r *Registration) handleFailure(requested int) {
	r.finishInFlight()

	if requested == 0 {
		// Снятие регистрации не удалось, локально считаем себя
		// незарегистрированными
		r.applyEvent(eventUnregister)
		return
	}

	r.applyEvent(eventFail)
	r.scheduleRetry()
}

func (r *Registration) finishInFlight() {
	r.mu.Lock()
	r.inFlight = false
	r.mu.Unlock()
}

// refreshInterval возвращает интервал до обновления регистрации:
// 90% выданного срока, не меньше minRefreshInterval
func refreshInterval(grantedSeconds int) time.Duration {
	interval := time.Duration(float64(grantedSeconds)*refreshFraction) * time.Second
	if interval < minRefreshInterval {
		interval = minRefreshInterval
	}
	return interval
}

// scheduleRefresh планирует обновление регистрации
func (r *Registration) scheduleRefresh(grantedSeconds int) {
	interval := refreshInterval(grantedSeconds)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
	}
	r.refreshTimer = time.AfterFunc(interval, func() {
		if err := r.Register(); err != nil {
			r.logger.Warn("registration refresh failed", slog.Any("error", err))
		}
	})
}

func (r *Registration) scheduleRetry() {
	if r.cfg.RetryInterval <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.retryTimer != nil {
		r.retryTimer.Stop()
	}
	r.retryTimer = time.AfterFunc(r.cfg.RetryInterval, func() {
		if err := r.Register(); err != nil {
			r.logger.Warn("registration retry failed", slog.Any("error", err))
		}
	})
}

// grantedExpires извлекает выданный сервером срок регистрации:
// сперва expires параметр Contact, затем заголовок Expires, иначе
// запрошенное значение
func grantedExpires(resp *message.Response, requested int) int {
	for _, contact := range resp.GetHeaders("Contact") {
		for _, part := range strings.Split(contact, ";") {
			part = strings.TrimSpace(part)
			if v, ok := strings.CutPrefix(part, "expires="); ok {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					return n
				}
			}
		}
	}

	if v := resp.GetHeader("Expires"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}

	return requested
}
