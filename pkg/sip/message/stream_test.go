package message

import (
	"testing"
)

func sampleResponse(callID string, body string) string {
	msg := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP h;branch=z9hG4bK1\r\n" +
		"From: <sip:a@a.com>;tag=1\r\n" +
		"To: <sip:b@b.com>;tag=2\r\n" +
		"Call-ID: " + callID + "\r\n" +
		"CSeq: 1 INVITE\r\n"
	msg += "Content-Length: " + itoa(len(body)) + "\r\n\r\n" + body
	return msg
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestStreamDecoder_SplitAcrossSegments(t *testing.T) {
	dec := NewStreamDecoder(NewParser(false))
	wire := sampleResponse("one", "v=0\r\n")

	// Feed one byte at a time; exactly one message must come out.
	var got []Message
	for i := 0; i < len(wire); i++ {
		msgs, err := dec.Feed([]byte{wire[i]})
		if err != nil {
			t.Fatalf("Feed at byte %d: %v", i, err)
		}
		got = append(got, msgs...)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].GetHeader("Call-ID") != "one" {
		t.Errorf("Call-ID: got %q", got[0].GetHeader("Call-ID"))
	}
	if string(got[0].Body()) != "v=0\r\n" {
		t.Errorf("body: got %q", got[0].Body())
	}
}

func TestStreamDecoder_MultipleInOneSegment(t *testing.T) {
	dec := NewStreamDecoder(NewParser(false))
	wire := sampleResponse("first", "") + sampleResponse("second", "abc")

	msgs, err := dec.Feed([]byte(wire))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].GetHeader("Call-ID") != "first" || msgs[1].GetHeader("Call-ID") != "second" {
		t.Errorf("order wrong: %q, %q", msgs[0].GetHeader("Call-ID"), msgs[1].GetHeader("Call-ID"))
	}
	if string(msgs[1].Body()) != "abc" {
		t.Errorf("second body: %q", msgs[1].Body())
	}
}

func TestStreamDecoder_KeepAliveCRLF(t *testing.T) {
	dec := NewStreamDecoder(NewParser(false))

	msgs, err := dec.Feed([]byte("\r\n\r\n"))
	if err != nil {
		t.Fatalf("Feed keep-alive: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("keep-alive must produce no messages, got %d", len(msgs))
	}

	msgs, err = dec.Feed([]byte(sampleResponse("after-ka", "")))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after keep-alive, got %d", len(msgs))
	}
}

func TestStreamDecoder_IncompleteStaysBuffered(t *testing.T) {
	dec := NewStreamDecoder(NewParser(false))
	wire := sampleResponse("late", "xyz")

	msgs, err := dec.Feed([]byte(wire[:len(wire)-1]))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("message emitted before body complete")
	}

	msgs, err = dec.Feed([]byte(wire[len(wire)-1:]))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0].Body()) != "xyz" {
		t.Fatalf("final byte did not complete message: %v", msgs)
	}
}
