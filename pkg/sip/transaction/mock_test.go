package transaction

import (
	"net"
	"sync"
	"testing"

	"github.com/arzzra/sip_client/pkg/sip/message"
	"github.com/arzzra/sip_client/pkg/sip/transport"
)

// mockTransport записывает отправленные сообщения вместо сети
type mockTransport struct {
	mu       sync.Mutex
	sent     []message.Message
	reliable bool
	sendErr  error
}

func newMockTransport() *mockTransport {
	return &mockTransport{}
}

func (m *mockTransport) Network() string {
	if m.reliable {
		return "tcp"
	}
	return "udp"
}
func (m *mockTransport) Reliable() bool           { return m.reliable }
func (m *mockTransport) Listen(addr string) error { return nil }
func (m *mockTransport) Close() error             { return nil }

func (m *mockTransport) Send(msg message.Message, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockTransport) OnMessage(handler transport.MessageHandler) {}
func (m *mockTransport) OnError(handler transport.ErrorHandler)     {}
func (m *mockTransport) Stats() transport.Stats                     { return transport.Stats{} }
func (m *mockTransport) LocalAddr() net.Addr                        { return nil }

func (m *mockTransport) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockTransport) sentAt(i int) message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.sent) {
		return nil
	}
	return m.sent[i]
}

func (m *mockTransport) lastSent() message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

func buildTestInvite(t *testing.T, branch string) *message.Request {
	t.Helper()
	req, err := message.NewRequest(message.MethodINVITE, message.MustParseURI("sip:bob@biloxi.com")).
		Via("UDP", "atlanta.com", 5060, branch).
		From(message.MustParseURI("sip:alice@atlanta.com"), "", "fromtag1").
		To(message.MustParseURI("sip:bob@biloxi.com"), "").
		CallID("call1@atlanta.com").
		CSeq(1, message.MethodINVITE).
		Contact(message.MustParseURI("sip:alice@192.0.2.1")).
		Build()
	if err != nil {
		t.Fatalf("build INVITE: %v", err)
	}
	return req
}

func buildTestRegister(t *testing.T, branch string) *message.Request {
	t.Helper()
	req, err := message.NewRequest(message.MethodREGISTER, message.MustParseURI("sip:registrar.biloxi.com")).
		Via("UDP", "atlanta.com", 5060, branch).
		From(message.MustParseURI("sip:bob@biloxi.com"), "", "fromtag2").
		To(message.MustParseURI("sip:bob@biloxi.com"), "").
		CallID("reg1@atlanta.com").
		CSeq(1, message.MethodREGISTER).
		Contact(message.MustParseURI("sip:bob@192.0.2.4")).
		Build()
	if err != nil {
		t.Fatalf("build REGISTER: %v", err)
	}
	return req
}

// responseTo строит ответ на запрос транзакции
func responseTo(req *message.Request, code int, toTag string) *message.Response {
	resp := message.NewResponse(req, code, "")
	if toTag != "" {
		resp.SetToTag(toTag)
	}
	return resp
}
