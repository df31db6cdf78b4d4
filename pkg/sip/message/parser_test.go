package message

import (
	"errors"
	"strings"
	"testing"
)

func TestParser_ValidRequest(t *testing.T) {
	parser := NewParser(true) // strict mode

	tests := []struct {
		name    string
		msg     string
		method  string
		uri     string
		headers map[string]string
	}{
		{
			name: "Basic INVITE",
			msg: "INVITE sip:bob@biloxi.com SIP/2.0\r\n" +
				"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
				"To: Bob <sip:bob@biloxi.com>\r\n" +
				"From: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
				"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
				"CSeq: 314159 INVITE\r\n" +
				"Max-Forwards: 70\r\n" +
				"Contact: <sip:alice@pc33.atlanta.com>\r\n" +
				"\r\n",
			method: "INVITE",
			uri:    "sip:bob@biloxi.com",
			headers: map[string]string{
				"Via":     "SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds",
				"To":      "Bob <sip:bob@biloxi.com>",
				"From":    "Alice <sip:alice@atlanta.com>;tag=1928301774",
				"Call-ID": "a84b4c76e66710@pc33.atlanta.com",
				"CSeq":    "314159 INVITE",
			},
		},
		{
			name: "REGISTER with body length",
			msg: "REGISTER sip:registrar.biloxi.com SIP/2.0\r\n" +
				"Via: SIP/2.0/UDP bobspc.biloxi.com:5060;branch=z9hG4bKnashds7\r\n" +
				"To: Bob <sip:bob@biloxi.com>\r\n" +
				"From: Bob <sip:bob@biloxi.com>;tag=456248\r\n" +
				"Call-ID: 843817637684230@998sdasdh09\r\n" +
				"CSeq: 1826 REGISTER\r\n" +
				"Max-Forwards: 70\r\n" +
				"Contact: <sip:bob@192.0.2.4>\r\n" +
				"Content-Length: 0\r\n" +
				"\r\n",
			method: "REGISTER",
			uri:    "sip:registrar.biloxi.com",
		},
		{
			name: "Compact form headers",
			msg: "BYE sip:bob@biloxi.com SIP/2.0\r\n" +
				"v: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
				"t: <sip:bob@biloxi.com>;tag=a6c85cf\r\n" +
				"f: <sip:alice@atlanta.com>;tag=1928301774\r\n" +
				"i: a84b4c76e66710@pc33.atlanta.com\r\n" +
				"CSeq: 231 BYE\r\n" +
				"Max-Forwards: 70\r\n" +
				"\r\n",
			method: "BYE",
			uri:    "sip:bob@biloxi.com",
			headers: map[string]string{
				"Via":     "SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds",
				"To":      "<sip:bob@biloxi.com>;tag=a6c85cf",
				"Call-ID": "a84b4c76e66710@pc33.atlanta.com",
			},
		},
		{
			name: "Folded header",
			msg: "OPTIONS sip:carol@chicago.com SIP/2.0\r\n" +
				"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
				"To: <sip:carol@chicago.com>\r\n" +
				"From: <sip:alice@atlanta.com>;tag=1928301774\r\n" +
				"Call-ID: a84b4c76e66710\r\n" +
				"CSeq: 63104 OPTIONS\r\n" +
				"Max-Forwards: 70\r\n" +
				"Subject: I know you're there,\r\n" +
				" pick up the phone\r\n" +
				"\r\n",
			method: "OPTIONS",
			uri:    "sip:carol@chicago.com",
			headers: map[string]string{
				"Subject": "I know you're there, pick up the phone",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := parser.ParseMessage([]byte(tt.msg))
			if err != nil {
				t.Fatalf("ParseMessage failed: %v", err)
			}

			req, ok := msg.(*Request)
			if !ok {
				t.Fatalf("expected *Request, got %T", msg)
			}

			if req.Method != tt.method {
				t.Errorf("method: got %s, want %s", req.Method, tt.method)
			}
			if req.RequestURI.String() != tt.uri {
				t.Errorf("uri: got %s, want %s", req.RequestURI.String(), tt.uri)
			}
			for name, want := range tt.headers {
				if got := req.GetHeader(name); got != want {
					t.Errorf("header %s: got %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestParser_ValidResponse(t *testing.T) {
	parser := NewParser(true)

	msg := "SIP/2.0 180 Ringing\r\n" +
		"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
		"To: Bob <sip:bob@biloxi.com>;tag=8321234356\r\n" +
		"From: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
		"Call-ID: a84b4c76e66710\r\n" +
		"CSeq: 314159 INVITE\r\n" +
		"\r\n"

	parsed, err := parser.ParseMessage([]byte(msg))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	resp, ok := parsed.(*Response)
	if !ok {
		t.Fatalf("expected *Response, got %T", parsed)
	}
	if resp.StatusCode != 180 {
		t.Errorf("status code: got %d, want 180", resp.StatusCode)
	}
	if resp.ReasonPhrase != "Ringing" {
		t.Errorf("reason: got %q, want Ringing", resp.ReasonPhrase)
	}
	if !resp.IsProvisional() || resp.IsFinal() {
		t.Error("180 must classify as provisional, not final")
	}
	if tag := ExtractTag(resp.GetHeader("To")); tag != "8321234356" {
		t.Errorf("to-tag: got %q", tag)
	}
}

func TestParser_ResponseClassification(t *testing.T) {
	parser := NewParser(false)

	for _, code := range []string{"100", "200", "302", "404", "503", "603"} {
		msg := "SIP/2.0 " + code + " Whatever\r\n" +
			"Via: SIP/2.0/UDP h;branch=z9hG4bK1\r\n" +
			"CSeq: 1 INVITE\r\n" +
			"\r\n"
		parsed, err := parser.ParseMessage([]byte(msg))
		if err != nil {
			t.Fatalf("status %s: %v", code, err)
		}
		if !parsed.IsResponse() {
			t.Errorf("status %s: not classified as response", code)
		}
	}
}

func TestParser_BodyHandling(t *testing.T) {
	parser := NewParser(false)

	t.Run("body from Content-Length", func(t *testing.T) {
		msg := "SIP/2.0 200 OK\r\n" +
			"CSeq: 1 INVITE\r\n" +
			"Content-Length: 5\r\n" +
			"\r\n" +
			"hellotrailing"
		parsed, err := parser.ParseMessage([]byte(msg))
		if err != nil {
			t.Fatalf("ParseMessage failed: %v", err)
		}
		if got := string(parsed.Body()); got != "hello" {
			t.Errorf("body: got %q, want hello", got)
		}
	})

	t.Run("body from remainder when no Content-Length", func(t *testing.T) {
		msg := "SIP/2.0 200 OK\r\n" +
			"CSeq: 1 INVITE\r\n" +
			"\r\n" +
			"v=0\r\no=test"
		parsed, err := parser.ParseMessage([]byte(msg))
		if err != nil {
			t.Fatalf("ParseMessage failed: %v", err)
		}
		if got := string(parsed.Body()); got != "v=0\r\no=test" {
			t.Errorf("body: got %q", got)
		}
	})

	t.Run("declared length exceeds input", func(t *testing.T) {
		msg := "SIP/2.0 200 OK\r\n" +
			"CSeq: 1 INVITE\r\n" +
			"Content-Length: 100\r\n" +
			"\r\n" +
			"short"
		_, err := parser.ParseMessage([]byte(msg))
		if !errors.Is(err, ErrContentLengthMismatch) {
			t.Errorf("expected ErrContentLengthMismatch, got %v", err)
		}
	})
}

func TestParser_Malformed(t *testing.T) {
	parser := NewParser(true)

	tests := []struct {
		name string
		msg  string
		want error
	}{
		{"empty", "", ErrInvalidMessage},
		{"garbage", "not a sip message at all", ErrInvalidMessage},
		{"bad request line", "INVITE sip:bob@b.com\r\n\r\n", ErrMalformedStartLine},
		{"bad status code", "SIP/2.0 abc OK\r\n\r\n", ErrInvalidStatusCode},
		{"status code out of range", "SIP/2.0 99 Low\r\n\r\n", ErrInvalidStatusCode},
		{"bad version", "INVITE sip:bob@b.com HTTP/1.1\r\n\r\n", ErrInvalidSIPVersion},
		{
			"missing mandatory header",
			"INVITE sip:bob@b.com SIP/2.0\r\n" +
				"Via: SIP/2.0/UDP h;branch=z9hG4bK1\r\n" +
				"From: <sip:a@a.com>;tag=1\r\n" +
				"To: <sip:bob@b.com>\r\n" +
				"CSeq: 1 INVITE\r\n" +
				"Max-Forwards: 70\r\n" +
				"\r\n",
			ErrMissingHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.ParseMessage([]byte(tt.msg))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParser_NeverPanics(t *testing.T) {
	parser := NewParser(true)

	inputs := []string{
		"\r\n\r\n",
		":\r\n\r\n",
		"SIP/2.0\r\n\r\n",
		"SIP/2.0 200\r\n\r\n",
		strings.Repeat("A", 70000),
		"INVITE\r\nVia\r\n\r\n",
	}

	for _, input := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("panic on input %q: %v", input, r)
				}
			}()
			_, _ = parser.ParseMessage([]byte(input))
		}()
	}
}

func TestSerialize_HeaderOrder(t *testing.T) {
	req, err := NewRequest("INVITE", MustParseURI("sip:bob@biloxi.com")).
		Header("User-Agent", "test/1.0").
		Via("UDP", "atlanta.com", 5060, "z9hG4bK74bf9").
		From(MustParseURI("sip:alice@atlanta.com"), "", "9fxced76sl").
		To(MustParseURI("sip:bob@biloxi.com"), "").
		CallID("3848276298220188511@atlanta.com").
		CSeq(1, "INVITE").
		Contact(MustParseURI("sip:alice@192.0.2.1:5060")).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	wire := req.String()
	lines := strings.Split(wire, "\r\n")

	// Via, From, To, Call-ID, CSeq, Contact lead regardless of the
	// order they were added in; the rest follows insertion order.
	wantPrefix := []string{"INVITE ", "Via:", "From:", "To:", "Call-ID:", "CSeq:", "Contact:", "User-Agent:"}
	for i, prefix := range wantPrefix {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("line %d: got %q, want prefix %q", i, lines[i], prefix)
		}
	}

	if !strings.Contains(wire, "Content-Length: 0\r\n") {
		t.Error("Content-Length must always be emitted")
	}
}

func TestSerialize_ContentLengthRecomputed(t *testing.T) {
	req, err := NewRequest("INVITE", MustParseURI("sip:bob@biloxi.com")).
		Via("UDP", "atlanta.com", 5060, "z9hG4bK74bf9").
		From(MustParseURI("sip:alice@atlanta.com"), "", "1").
		To(MustParseURI("sip:bob@biloxi.com"), "").
		CallID("x@atlanta.com").
		CSeq(1, "INVITE").
		Contact(MustParseURI("sip:alice@192.0.2.1")).
		Body("application/sdp", []byte("v=0\r\n")).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// A stale caller-supplied value must be overwritten on serialization
	req.SetHeader("Content-Length", "9999")

	if !strings.Contains(req.String(), "Content-Length: 5\r\n") {
		t.Errorf("Content-Length not recomputed:\n%s", req.String())
	}
}

func TestRoundTrip(t *testing.T) {
	parser := NewParser(true)

	req, err := NewRequest("INVITE", MustParseURI("sip:bob@biloxi.com:5080")).
		Via("UDP", "atlanta.com", 5060, "z9hG4bK74bf9").
		From(MustParseURI("sip:alice@atlanta.com"), "", "9fxced76sl").
		To(MustParseURI("sip:bob@biloxi.com"), "").
		CallID("3848276298220188511@atlanta.com").
		CSeq(1, "INVITE").
		Contact(MustParseURI("sip:alice@192.0.2.1:5060")).
		Header("User-Agent", "sip_client/1.0").
		Body("application/sdp", []byte("v=0\r\no=- 1 1 IN IP4 192.0.2.1\r\n")).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	parsed, err := parser.ParseMessage(req.Bytes())
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}

	got := parsed.(*Request)
	if got.Method != req.Method {
		t.Errorf("method: %s != %s", got.Method, req.Method)
	}
	if got.RequestURI.String() != req.RequestURI.String() {
		t.Errorf("uri: %s != %s", got.RequestURI.String(), req.RequestURI.String())
	}
	for _, name := range []string{"Via", "From", "To", "Call-ID", "CSeq", "Contact", "User-Agent", "Content-Type"} {
		if got.GetHeader(name) != req.GetHeader(name) {
			t.Errorf("header %s: %q != %q", name, got.GetHeader(name), req.GetHeader(name))
		}
	}
	if string(got.Body()) != string(req.Body()) {
		t.Errorf("body: %q != %q", got.Body(), req.Body())
	}

	// Serializing the parsed copy must reproduce the same wire form
	if got.String() != req.String() {
		t.Errorf("wire forms differ:\n%s\n---\n%s", got.String(), req.String())
	}
}
