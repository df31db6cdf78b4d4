// Package stack assembles the SIP client engine: transport,
// transactions, dialogs, registration and digest authentication
// behind one façade with an ordered event stream.
package stack

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/sip_client/pkg/account"
	"github.com/arzzra/sip_client/pkg/media"
	"github.com/arzzra/sip_client/pkg/sip/auth"
	"github.com/arzzra/sip_client/pkg/sip/dialog"
	"github.com/arzzra/sip_client/pkg/sip/message"
	"github.com/arzzra/sip_client/pkg/sip/registration"
	"github.com/arzzra/sip_client/pkg/sip/transaction"
	"github.com/arzzra/sip_client/pkg/sip/transport"
)

const eventChannelDepth = 64

// Config tunes a Stack instance. The zero value plus an Account is
// enough for a working UDP client on an ephemeral port.
type Config struct {
	// LocalHost is the address to bind, empty means 0.0.0.0
	LocalHost string

	// LocalPort is the port to bind, 0 picks an ephemeral port
	LocalPort int

	// Transport is "udp" or "tcp", default "udp"
	Transport string

	// UserAgent header value for outgoing requests
	UserAgent string

	// Timers overrides the RFC 3261 transaction timer defaults
	Timers *transaction.Timers

	// ExpiresSeconds is the requested registration lifetime
	ExpiresSeconds int

	// RetryInterval between registration attempts after failure,
	// zero disables retries
	RetryInterval time.Duration

	// Registerer receives the engine metrics. Nil keeps metrics in
	// a private registry so multiple instances do not collide.
	Registerer prometheus.Registerer

	Logger *slog.Logger
}

// Stack is the SIP client engine. Create with New, then Start before
// calling any operation. All operations return without waiting for
// protocol completion; outcomes arrive on Events().
type Stack struct {
	acc *account.Account
	cfg Config

	tports  *transport.Manager
	txMgr   *transaction.Manager
	dialogs *dialog.Manager
	reg     *registration.Registration
	authn   *auth.Authenticator

	logger  *slog.Logger
	metrics *metrics

	events chan Event
	evMu   sync.RWMutex
	evDone bool

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates an engine for the given account. The network is not
// touched until Start.
func New(acc *account.Account, cfg Config) (*Stack, error) {
	if acc == nil {
		return nil, fmt.Errorf("account is required")
	}
	if err := acc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid account: %w", err)
	}

	if cfg.Transport == "" {
		cfg.Transport = "udp"
	}
	cfg.Transport = strings.ToLower(cfg.Transport)
	if cfg.Transport != "udp" && cfg.Transport != "tcp" {
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "sip_client/1.0"
	}
	if cfg.ExpiresSeconds <= 0 {
		cfg.ExpiresSeconds = 3600
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.NewRegistry()
	}

	return &Stack{
		acc: acc,
		cfg: cfg,
		authn: auth.New(auth.Credentials{
			Username: acc.Username,
			Password: acc.Password,
		}),
		logger:  cfg.Logger.With("component", "stack"),
		metrics: newMetrics(cfg.Registerer),
		events:  make(chan Event, eventChannelDepth),
	}, nil
}

// Start binds the transport and wires the protocol layers. It does
// not register; call Register explicitly.
func (s *Stack) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("stack already started")
	}
	if s.stopped {
		return fmt.Errorf("stack already stopped")
	}

	s.tports = transport.NewManager(s.cfg.Transport)

	var tr transport.Transport
	switch s.cfg.Transport {
	case "udp":
		tr = transport.NewUDPTransport(nil)
	case "tcp":
		tr = transport.NewTCPTransport(nil)
	}

	bindAddr := net.JoinHostPort(s.cfg.LocalHost, strconv.Itoa(s.cfg.LocalPort))
	if err := tr.Listen(bindAddr); err != nil {
		return fmt.Errorf("listen %s/%s: %w", s.cfg.Transport, bindAddr, err)
	}
	if err := s.tports.Register(tr); err != nil {
		tr.Close()
		return err
	}

	localHost, localPort := s.localEndpoint(tr)

	timers := transaction.DefaultTimers()
	if s.cfg.Timers != nil {
		timers = *s.cfg.Timers
	}
	if tr.Reliable() {
		timers = timers.AdjustForReliableTransport()
	}

	s.txMgr = transaction.NewManager(s.tports, timers, s.cfg.Logger)

	localURI := &message.URI{Scheme: "sip", User: s.acc.Username, Host: s.acc.Domain}
	contact := &message.URI{Scheme: "sip", User: s.acc.Username, Host: localHost, Port: localPort}
	viaProto := strings.ToUpper(s.cfg.Transport)

	s.dialogs = dialog.NewManager(dialog.Config{
		LocalURI:    localURI,
		Contact:     contact,
		DisplayName: s.acc.DisplayName,
		LocalHost:   localHost,
		LocalPort:   localPort,
		Transport:   viaProto,
		UserAgent:   s.cfg.UserAgent,
	}, s.txMgr, s.tports, s.authn, s.cfg.Logger)

	s.dialogs.OnStateChange(s.onCallStateChange)
	s.dialogs.OnFailure(s.onCallFailure)
	s.txMgr.OnRequest(s.dialogs.HandleRequest)

	s.reg = registration.New(registration.Config{
		RegistrarURI:   &message.URI{Scheme: "sip", Host: s.acc.Domain, Port: s.acc.Port},
		AOR:            localURI,
		Contact:        contact,
		DisplayName:    s.acc.DisplayName,
		LocalHost:      localHost,
		LocalPort:      localPort,
		Transport:      viaProto,
		UserAgent:      s.cfg.UserAgent,
		ExpiresSeconds: s.cfg.ExpiresSeconds,
		RetryInterval:  s.cfg.RetryInterval,
	}, s.txMgr, s.tports, s.authn, s.cfg.Logger)

	s.reg.OnStateChange(s.onRegistrationStateChange)

	s.started = true
	s.logger.Info("stack started",
		"transport", s.cfg.Transport,
		"local", net.JoinHostPort(localHost, strconv.Itoa(localPort)),
		"account", s.acc.URI())
	return nil
}

// Stop unregisters, tears down calls and closes the transport. The
// event channel is closed after the layers shut down.
func (s *Stack) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	// Registration first so the REGISTER with Expires: 0 still has
	// a live transaction layer underneath.
	if err := s.reg.Close(); err != nil {
		s.logger.Warn("unregister on shutdown failed", "error", err)
	}
	s.dialogs.Close()
	s.txMgr.Close()
	s.tports.Close()

	s.evMu.Lock()
	s.evDone = true
	close(s.events)
	s.evMu.Unlock()

	s.logger.Info("stack stopped")
	return nil
}

// Register starts registration with the account's registrar. The
// outcome arrives as RegistrationStateChanged events.
func (s *Stack) Register(ctx context.Context) error {
	if err := s.checkRunning(ctx); err != nil {
		return err
	}
	return s.reg.Register()
}

// Unregister sends REGISTER with Expires: 0.
func (s *Stack) Unregister(ctx context.Context) error {
	if err := s.checkRunning(ctx); err != nil {
		return err
	}
	return s.reg.Unregister()
}

// RegistrationState returns the current registration state.
func (s *Stack) RegistrationState() registration.State {
	return s.reg.State()
}

// Call places an outgoing call and returns its Call-ID. Progress is
// reported as CallStateChanged events carrying that ID.
func (s *Stack) Call(ctx context.Context, target *message.URI, sdp []byte) (string, error) {
	if err := s.checkRunning(ctx); err != nil {
		return "", err
	}

	d, err := s.dialogs.Call(target, sdp)
	if err != nil {
		return "", err
	}

	s.metrics.callsTotal.Inc()
	s.metrics.callsActive.Inc()
	return d.ID(), nil
}

// Hangup ends a connected call with BYE.
func (s *Stack) Hangup(callID string) error {
	if err := s.checkStarted(); err != nil {
		return err
	}
	d, ok := s.dialogs.Get(callID)
	if !ok {
		return dialog.ErrDialogNotFound
	}
	return s.dialogs.Hangup(d)
}

// Cancel aborts a call that has not been answered yet.
func (s *Stack) Cancel(callID string) error {
	if err := s.checkStarted(); err != nil {
		return err
	}
	d, ok := s.dialogs.Get(callID)
	if !ok {
		return dialog.ErrDialogNotFound
	}
	return s.dialogs.Cancel(d)
}

// Events returns the engine event stream. The channel is closed by
// Stop. Slow consumers lose events rather than block the engine.
func (s *Stack) Events() <-chan Event {
	return s.events
}

// Calls returns a snapshot of all known calls.
func (s *Stack) Calls() []CallInfo {
	dialogs := s.dialogs.All()
	infos := make([]CallInfo, 0, len(dialogs))
	for _, d := range dialogs {
		infos = append(infos, CallInfo{
			CallID:      d.ID(),
			RemoteURI:   d.RemoteURI().String(),
			State:       d.State(),
			StartedAt:   d.StartTime(),
			ConnectedAt: d.ConnectedTime(),
			EndedAt:     d.EndTime(),
			Duration:    d.Duration(),
		})
	}
	return infos
}

func (s *Stack) checkRunning(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.checkStarted()
}

func (s *Stack) checkStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("stack not started")
	}
	if s.stopped {
		return fmt.Errorf("stack stopped")
	}
	return nil
}

// localEndpoint resolves the bound address, falling back to the
// configured values when the socket reports a wildcard host.
func (s *Stack) localEndpoint(tr transport.Transport) (string, int) {
	host := s.cfg.LocalHost
	port := s.cfg.LocalPort

	if addr := tr.LocalAddr(); addr != nil {
		if h, p, err := net.SplitHostPort(addr.String()); err == nil {
			if pv, err := strconv.Atoi(p); err == nil {
				port = pv
			}
			if ip := net.ParseIP(h); ip != nil && !ip.IsUnspecified() {
				host = h
			}
		}
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port
}

func (s *Stack) onCallStateChange(d *dialog.Dialog, oldState, newState dialog.State) {
	if newState == dialog.StateDisconnected || newState == dialog.StateFailed {
		s.metrics.callsActive.Dec()
		if oldState == dialog.StateConnected {
			s.metrics.callDuration.Observe(d.Duration().Seconds())
		}
	}

	ev := Event{
		Type:          EventCallState,
		Time:          time.Now(),
		CallID:        d.ID(),
		PrevCallState: oldState,
		CallState:     newState,
	}

	if newState == dialog.StateConnected {
		if body := d.RemoteSDP(); len(body) > 0 {
			desc, err := media.ParseAnswer(body, nil)
			if err != nil {
				s.logger.Warn("answer SDP not usable", "call_id", d.ID(), "error", err)
			} else {
				ev.Media = desc
			}
		}
	}

	s.emit(ev)
}

func (s *Stack) onCallFailure(d *dialog.Dialog, statusCode int, reason string) {
	s.metrics.callFailures.WithLabelValues(strconv.Itoa(statusCode)).Inc()

	s.emit(Event{
		Type:       EventCallFailed,
		Time:       time.Now(),
		CallID:     d.ID(),
		StatusCode: statusCode,
		Reason:     reason,
	})
}

func (s *Stack) onRegistrationStateChange(oldState, newState registration.State) {
	s.metrics.registrationState.Set(float64(newState))

	s.emit(Event{
		Type:         EventRegistrationState,
		Time:         time.Now(),
		PrevRegState: oldState,
		RegState:     newState,
	})
}

func (s *Stack) emit(ev Event) {
	s.evMu.RLock()
	defer s.evMu.RUnlock()
	if s.evDone {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.metrics.eventsDropped.Inc()
		s.logger.Warn("event dropped, consumer too slow", "event", ev.String())
	}
}
