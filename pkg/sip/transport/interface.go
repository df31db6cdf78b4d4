package transport

import (
	"net"

	"github.com/arzzra/sip_client/pkg/sip/message"
)

// Transport представляет сетевой транспорт для SIP сообщений
type Transport interface {
	// Информация о транспорте
	Network() string // "udp", "tcp"
	Reliable() bool  // TCP является reliable, UDP нет

	// Жизненный цикл
	Listen(addr string) error
	Close() error

	// Отправка сообщения на адрес host:port
	Send(msg message.Message, addr string) error

	// Обработчики входящих сообщений и ошибок
	OnMessage(handler MessageHandler)
	OnError(handler ErrorHandler)

	// Статистика
	Stats() Stats

	// Локальный адрес (для тестов)
	LocalAddr() net.Addr
}

// Обработчики событий
type MessageHandler func(msg message.Message, addr net.Addr, transport Transport)
type ErrorHandler func(err error, transport Transport)

// Stats статистика транспорта
type Stats struct {
	MessagesReceived uint64
	MessagesSent     uint64
	BytesReceived    uint64
	BytesSent        uint64
	Errors           uint64
}

// Config настройки транспорта
type Config struct {
	ReadBufferSize int

	// TCP
	DialTimeout  int // секунды
	WriteTimeout int // секунды
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize: 65535,
		DialTimeout:    5,
		WriteTimeout:   10,
	}
}
