package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/arzzra/sip_client/pkg/sip/message"
)

func testRequest(t *testing.T) *message.Request {
	t.Helper()
	req, err := message.NewRequest(message.MethodOPTIONS, message.MustParseURI("sip:bob@biloxi.com")).
		Via("UDP", "127.0.0.1", 5060, message.GenerateBranch()).
		From(message.MustParseURI("sip:alice@atlanta.com"), "", "tag1").
		To(message.MustParseURI("sip:bob@biloxi.com"), "").
		CallID("test@127.0.0.1").
		CSeq(1, message.MethodOPTIONS).
		Build()
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func TestUDPTransport_SendReceive(t *testing.T) {
	sender := NewUDPTransport(nil)
	receiver := NewUDPTransport(nil)

	if err := receiver.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("receiver listen: %v", err)
	}
	defer receiver.Close()

	if err := sender.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("sender listen: %v", err)
	}
	defer sender.Close()

	received := make(chan message.Message, 1)
	receiver.OnMessage(func(msg message.Message, addr net.Addr, tr Transport) {
		received <- msg
	})

	req := testRequest(t)
	if err := sender.Send(req, receiver.LocalAddr().String()); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-received:
		got, ok := msg.(*message.Request)
		if !ok {
			t.Fatalf("expected request, got %T", msg)
		}
		if got.Method != message.MethodOPTIONS {
			t.Errorf("method: %s", got.Method)
		}
		if got.GetHeader("Call-ID") != "test@127.0.0.1" {
			t.Errorf("call-id: %s", got.GetHeader("Call-ID"))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	stats := sender.Stats()
	if stats.MessagesSent != 1 {
		t.Errorf("sender stats: %+v", stats)
	}
}

func TestUDPTransport_SendAfterClose(t *testing.T) {
	tr := NewUDPTransport(nil)
	if err := tr.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	tr.Close()

	err := tr.Send(testRequest(t), "127.0.0.1:5060")
	if err == nil {
		t.Fatal("expected error after close")
	}
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransportError, got %T", err)
	}
}

func TestUDPTransport_DoubleCloseIsSafe(t *testing.T) {
	tr := NewUDPTransport(nil)
	if err := tr.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestTCPTransport_SendReceive(t *testing.T) {
	server := NewTCPTransport(nil)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("server listen: %v", err)
	}
	defer server.Close()

	received := make(chan message.Message, 2)
	server.OnMessage(func(msg message.Message, addr net.Addr, tr Transport) {
		received <- msg
	})

	client := NewTCPTransport(nil)
	defer client.Close()

	// Два сообщения через одно соединение проверяют фрейминг потока
	for i := 0; i < 2; i++ {
		if err := client.Send(testRequest(t), server.LocalAddr().String()); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			if !msg.IsRequest() {
				t.Errorf("message %d: not a request", i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestManager_ForURI(t *testing.T) {
	mgr := NewManager("udp")
	udp := NewUDPTransport(nil)
	tcp := NewTCPTransport(nil)

	if err := mgr.Register(udp); err != nil {
		t.Fatalf("register udp: %v", err)
	}
	if err := mgr.Register(tcp); err != nil {
		t.Fatalf("register tcp: %v", err)
	}
	if err := mgr.Register(NewUDPTransport(nil)); err == nil {
		t.Error("duplicate registration must fail")
	}

	got, err := mgr.ForURI(message.MustParseURI("sip:bob@biloxi.com"))
	if err != nil || got != udp {
		t.Errorf("default transport: %v, %v", got, err)
	}

	got, err = mgr.ForURI(message.MustParseURI("sip:bob@biloxi.com;transport=tcp"))
	if err != nil || got != tcp {
		t.Errorf("tcp transport: %v, %v", got, err)
	}

	if _, err := mgr.ForURI(message.MustParseURI("sip:bob@biloxi.com;transport=sctp")); err == nil {
		t.Error("unregistered network must fail")
	}
}
