package transport

import (
	"fmt"
	"sync"

	"github.com/arzzra/sip_client/pkg/sip/message"
)

// Manager хранит зарегистрированные транспорты по имени сети и
// выбирает транспорт для отправки по transport-параметру URI
type Manager struct {
	mu         sync.RWMutex
	transports map[string]Transport
	defaultNet string
}

// NewManager создает менеджер транспортов. defaultNetwork используется
// когда URI не указывает transport-параметр.
func NewManager(defaultNetwork string) *Manager {
	if defaultNetwork == "" {
		defaultNetwork = "udp"
	}
	return &Manager{
		transports: make(map[string]Transport),
		defaultNet: defaultNetwork,
	}
}

// Register регистрирует транспорт
func (m *Manager) Register(t Transport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	network := t.Network()
	if _, exists := m.transports[network]; exists {
		return fmt.Errorf("transport %s already registered", network)
	}
	m.transports[network] = t
	return nil
}

// Get возвращает транспорт для сети
func (m *Manager) Get(network string) (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transports[network]
	return t, ok
}

// Default возвращает транспорт по умолчанию
func (m *Manager) Default() (Transport, bool) {
	return m.Get(m.defaultNet)
}

// ForURI выбирает транспорт по transport-параметру URI
func (m *Manager) ForURI(uri *message.URI) (Transport, error) {
	network := m.defaultNet
	if uri != nil && uri.Parameters != nil {
		if tp, ok := uri.Parameters["transport"]; ok && tp != "" {
			network = tp
		}
	}

	t, ok := m.Get(network)
	if !ok {
		return nil, fmt.Errorf("no transport registered for %s", network)
	}
	return t, nil
}

// OnMessage устанавливает обработчик на все транспорты
func (m *Manager) OnMessage(handler MessageHandler) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.transports {
		t.OnMessage(handler)
	}
}

// OnError устанавливает обработчик ошибок на все транспорты
func (m *Manager) OnError(handler ErrorHandler) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.transports {
		t.OnError(handler)
	}
}

// Close закрывает все транспорты
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, t := range m.transports {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.transports = make(map[string]Transport)
	return firstErr
}
