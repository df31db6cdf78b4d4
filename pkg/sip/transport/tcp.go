package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/sip_client/pkg/sip/message"
)

// TCPTransport TCP транспорт. Исходящие соединения открываются по
// требованию и переиспользуются по адресу назначения.
type TCPTransport struct {
	listener       net.Listener
	localAddr      net.Addr
	parser         *message.Parser
	messageHandler MessageHandler
	errorHandler   ErrorHandler
	closed         atomic.Bool
	stats          Stats
	statsMu        sync.RWMutex
	wg             sync.WaitGroup

	connsMu sync.Mutex
	conns   map[string]net.Conn // ключ - удаленный адрес host:port

	dialTimeout  time.Duration
	writeTimeout time.Duration
}

// NewTCPTransport создает новый TCP транспорт
func NewTCPTransport(cfg *Config) Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &TCPTransport{
		parser:       message.NewParser(false),
		conns:        make(map[string]net.Conn),
		dialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		writeTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
}

func (t *TCPTransport) Network() string { return "tcp" }
func (t *TCPTransport) Reliable() bool  { return true }

func (t *TCPTransport) Listen(addr string) error {
	if t.listener != nil && !t.closed.Load() {
		return fmt.Errorf("already listening")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &TransportError{
			Transport: "tcp",
			Operation: "listen",
			Err:       err,
		}
	}

	t.listener = ln
	t.localAddr = ln.Addr()
	t.closed.Store(false)

	t.wg.Add(1)
	go t.acceptLoop()

	return nil
}

func (t *TCPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	if t.listener != nil {
		t.listener.Close()
	}

	t.connsMu.Lock()
	for _, conn := range t.conns {
		conn.Close()
	}
	t.conns = make(map[string]net.Conn)
	t.connsMu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *TCPTransport) Send(msg message.Message, addr string) error {
	if t.closed.Load() {
		return &TransportError{
			Transport: "tcp",
			Operation: "send",
			Err:       ErrTransportClosed,
		}
	}

	conn, err := t.getConn(addr)
	if err != nil {
		return err
	}

	data := msg.Bytes()
	if t.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	n, err := conn.Write(data)
	if err != nil {
		t.dropConn(addr, conn)
		t.incrementErrors()
		return &TransportError{
			Transport: "tcp",
			Operation: "send",
			Err:       err,
			Temporary: isTemporaryError(err),
		}
	}

	t.incrementSent(uint64(n))
	return nil
}

func (t *TCPTransport) OnMessage(handler MessageHandler) {
	t.messageHandler = handler
}

func (t *TCPTransport) OnError(handler ErrorHandler) {
	t.errorHandler = handler
}

func (t *TCPTransport) Stats() Stats {
	t.statsMu.RLock()
	defer t.statsMu.RUnlock()
	return t.stats
}

func (t *TCPTransport) LocalAddr() net.Addr {
	return t.localAddr
}

// getConn возвращает существующее соединение или открывает новое
func (t *TCPTransport) getConn(addr string) (net.Conn, error) {
	t.connsMu.Lock()
	if conn, ok := t.conns[addr]; ok {
		t.connsMu.Unlock()
		return conn, nil
	}
	t.connsMu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, t.dialTimeout)
	if err != nil {
		return nil, &TransportError{
			Transport: "tcp",
			Operation: "dial",
			Err:       err,
			Temporary: isTemporaryError(err),
		}
	}

	t.connsMu.Lock()
	// Проверяем повторно: параллельный Send мог открыть соединение раньше
	if existing, ok := t.conns[addr]; ok {
		t.connsMu.Unlock()
		conn.Close()
		return existing, nil
	}
	t.conns[addr] = conn
	t.connsMu.Unlock()

	t.wg.Add(1)
	go t.readLoop(addr, conn)

	return conn, nil
}

func (t *TCPTransport) dropConn(addr string, conn net.Conn) {
	t.connsMu.Lock()
	if current, ok := t.conns[addr]; ok && current == conn {
		delete(t.conns, addr)
	}
	t.connsMu.Unlock()
	conn.Close()
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()

	for !t.closed.Load() {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.incrementErrors()
			if t.errorHandler != nil {
				t.errorHandler(err, t)
			}
			continue
		}

		addr := conn.RemoteAddr().String()
		t.connsMu.Lock()
		t.conns[addr] = conn
		t.connsMu.Unlock()

		t.wg.Add(1)
		go t.readLoop(addr, conn)
	}
}

// readLoop читает поток и извлекает сообщения через StreamDecoder,
// границы сообщений определяются по Content-Length
func (t *TCPTransport) readLoop(addr string, conn net.Conn) {
	defer t.wg.Done()
	defer t.dropConn(addr, conn)

	decoder := message.NewStreamDecoder(t.parser)
	buf := make([]byte, 65535)

	for !t.closed.Load() {
		n, err := conn.Read(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			if t.errorHandler != nil {
				t.errorHandler(err, t)
			}
			return
		}

		t.incrementReceived(uint64(n))

		msgs, err := decoder.Feed(buf[:n])
		if err != nil {
			// Поток рассинхронизирован, восстановить фрейминг нельзя
			t.incrementErrors()
			if t.errorHandler != nil {
				t.errorHandler(err, t)
			}
			return
		}

		for _, msg := range msgs {
			t.statsMu.Lock()
			t.stats.MessagesReceived++
			t.statsMu.Unlock()
			if t.messageHandler != nil {
				t.messageHandler(msg, conn.RemoteAddr(), t)
			}
		}
	}
}

func (t *TCPTransport) incrementSent(bytes uint64) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.MessagesSent++
	t.stats.BytesSent += bytes
}

func (t *TCPTransport) incrementReceived(bytes uint64) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.BytesReceived += bytes
}

func (t *TCPTransport) incrementErrors() {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.Errors++
}
