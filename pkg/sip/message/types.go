package message

import (
	"strconv"
	"strings"
)

// Message is the common interface for SIP requests and responses
type Message interface {
	// IsRequest returns true if this is a request
	IsRequest() bool

	// IsResponse returns true if this is a response
	IsResponse() bool

	// GetHeader returns the first value of a header
	GetHeader(name string) string

	// GetHeaders returns all values of a header
	GetHeaders(name string) []string

	// SetHeader sets a header value (replaces existing)
	SetHeader(name string, value string)

	// AddHeader adds a header value (appends to existing)
	AddHeader(name string, value string)

	// RemoveHeader removes all values of a header
	RemoveHeader(name string)

	// Body returns the message body
	Body() []byte

	// SetBody sets the message body
	SetBody(body []byte)

	// String returns the wire representation
	String() string

	// Bytes returns the wire representation as bytes
	Bytes() []byte
}

// Request represents a SIP request
type Request struct {
	Method     string
	RequestURI *URI
	Headers    *Headers
	body       []byte
}

// Response represents a SIP response
type Response struct {
	StatusCode   int
	ReasonPhrase string
	Headers      *Headers
	body         []byte
}

// Headers manages SIP headers: a case-insensitive ordered multi-map.
// Names are stored normalized; lookup accepts any casing and the
// RFC 3261 compact forms.
type Headers struct {
	headers map[string][]string // normalized name -> values in arrival order
	order   []string            // normalized names in insertion order
}

// NewHeaders creates a new Headers instance
func NewHeaders() *Headers {
	return &Headers{
		headers: make(map[string][]string),
		order:   make([]string, 0, 12),
	}
}

// normalizeHeaderName normalizes a header name for case-insensitive
// comparison and expands compact forms
func normalizeHeaderName(name string) string {
	switch strings.ToLower(name) {
	case "i":
		return "call-id"
	case "m":
		return "contact"
	case "f":
		return "from"
	case "t":
		return "to"
	case "v":
		return "via"
	case "c":
		return "content-type"
	case "l":
		return "content-length"
	case "k":
		return "supported"
	case "s":
		return "subject"
	default:
		return strings.ToLower(name)
	}
}

// canonicalHeaderName returns the canonical wire form of a normalized name
func canonicalHeaderName(normalized string) string {
	switch normalized {
	case "call-id":
		return "Call-ID"
	case "cseq":
		return "CSeq"
	case "www-authenticate":
		return "WWW-Authenticate"
	case "mime-version":
		return "MIME-Version"
	}

	parts := strings.Split(normalized, "-")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "-")
}

// Get returns the first value of a header
func (h *Headers) Get(name string) string {
	values := h.GetAll(name)
	if len(values) > 0 {
		return values[0]
	}
	return ""
}

// GetAll returns all values of a header
func (h *Headers) GetAll(name string) []string {
	return h.headers[normalizeHeaderName(name)]
}

// Set sets a header value (replaces existing)
func (h *Headers) Set(name, value string) {
	normalized := normalizeHeaderName(name)
	if _, exists := h.headers[normalized]; !exists {
		h.order = append(h.order, normalized)
	}
	h.headers[normalized] = []string{value}
}

// Add appends a header value
func (h *Headers) Add(name, value string) {
	normalized := normalizeHeaderName(name)
	if _, exists := h.headers[normalized]; !exists {
		h.order = append(h.order, normalized)
	}
	h.headers[normalized] = append(h.headers[normalized], value)
}

// Remove removes all values of a header
func (h *Headers) Remove(name string) {
	normalized := normalizeHeaderName(name)
	if _, exists := h.headers[normalized]; !exists {
		return
	}
	delete(h.headers, normalized)
	for i, n := range h.order {
		if n == normalized {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Names returns normalized header names in insertion order
func (h *Headers) Names() []string {
	names := make([]string, len(h.order))
	copy(names, h.order)
	return names
}

// Clone creates a deep copy
func (h *Headers) Clone() *Headers {
	clone := NewHeaders()
	for _, name := range h.order {
		clone.order = append(clone.order, name)
		clone.headers[name] = append([]string(nil), h.headers[name]...)
	}
	return clone
}

// priorityHeaders is the serialization order for the leading headers:
// Via first (topmost first), then From, To, Call-ID, CSeq, Contact.
// Everything else follows in insertion order.
var priorityHeaders = []string{"via", "from", "to", "call-id", "cseq", "contact"}

// write serializes headers into sb, recomputing Content-Length from the
// actual body length. A caller-supplied Content-Length is never trusted.
func (h *Headers) write(sb *strings.Builder, bodyLen int) {
	written := make(map[string]bool, len(h.order))

	writeOne := func(normalized string) {
		if normalized == "content-length" {
			return // always emitted last, recomputed
		}
		canonical := canonicalHeaderName(normalized)
		for _, value := range h.headers[normalized] {
			sb.WriteString(canonical)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString("\r\n")
		}
		written[normalized] = true
	}

	for _, name := range priorityHeaders {
		if _, ok := h.headers[name]; ok {
			writeOne(name)
		}
	}

	for _, name := range h.order {
		if !written[name] {
			writeOne(name)
		}
	}

	sb.WriteString("Content-Length: ")
	sb.WriteString(strconv.Itoa(bodyLen))
	sb.WriteString("\r\n")
}

// IsRequest returns true
func (r *Request) IsRequest() bool { return true }

// IsResponse returns false
func (r *Request) IsResponse() bool { return false }

// GetHeader returns the first value of a header
func (r *Request) GetHeader(name string) string { return r.Headers.Get(name) }

// GetHeaders returns all values of a header
func (r *Request) GetHeaders(name string) []string { return r.Headers.GetAll(name) }

// SetHeader sets a header value
func (r *Request) SetHeader(name, value string) { r.Headers.Set(name, value) }

// AddHeader appends a header value
func (r *Request) AddHeader(name, value string) { r.Headers.Add(name, value) }

// RemoveHeader removes a header
func (r *Request) RemoveHeader(name string) { r.Headers.Remove(name) }

// Body returns the message body
func (r *Request) Body() []byte { return r.body }

// SetBody sets the message body
func (r *Request) SetBody(body []byte) { r.body = body }

// String returns the wire representation
func (r *Request) String() string {
	var sb strings.Builder

	sb.WriteString(r.Method)
	sb.WriteString(" ")
	sb.WriteString(r.RequestURI.String())
	sb.WriteString(" SIP/2.0\r\n")

	r.Headers.write(&sb, len(r.body))
	sb.WriteString("\r\n")
	sb.Write(r.body)

	return sb.String()
}

// Bytes returns the wire representation as bytes
func (r *Request) Bytes() []byte { return []byte(r.String()) }

// Clone creates a deep copy of the request
func (r *Request) Clone() *Request {
	clone := &Request{
		Method:  r.Method,
		Headers: r.Headers.Clone(),
	}
	if r.RequestURI != nil {
		clone.RequestURI = r.RequestURI.Clone()
	}
	if r.body != nil {
		clone.body = append([]byte(nil), r.body...)
	}
	return clone
}

// IsRequest returns false
func (r *Response) IsRequest() bool { return false }

// IsResponse returns true
func (r *Response) IsResponse() bool { return true }

// GetHeader returns the first value of a header
func (r *Response) GetHeader(name string) string { return r.Headers.Get(name) }

// GetHeaders returns all values of a header
func (r *Response) GetHeaders(name string) []string { return r.Headers.GetAll(name) }

// SetHeader sets a header value
func (r *Response) SetHeader(name, value string) { r.Headers.Set(name, value) }

// AddHeader appends a header value
func (r *Response) AddHeader(name, value string) { r.Headers.Add(name, value) }

// RemoveHeader removes a header
func (r *Response) RemoveHeader(name string) { r.Headers.Remove(name) }

// Body returns the message body
func (r *Response) Body() []byte { return r.body }

// SetBody sets the message body
func (r *Response) SetBody(body []byte) { r.body = body }

// String returns the wire representation
func (r *Response) String() string {
	var sb strings.Builder

	sb.WriteString("SIP/2.0 ")
	sb.WriteString(strconv.Itoa(r.StatusCode))
	sb.WriteString(" ")
	sb.WriteString(r.ReasonPhrase)
	sb.WriteString("\r\n")

	r.Headers.write(&sb, len(r.body))
	sb.WriteString("\r\n")
	sb.Write(r.body)

	return sb.String()
}

// Bytes returns the wire representation as bytes
func (r *Response) Bytes() []byte { return []byte(r.String()) }

// Clone creates a deep copy of the response
func (r *Response) Clone() *Response {
	clone := &Response{
		StatusCode:   r.StatusCode,
		ReasonPhrase: r.ReasonPhrase,
		Headers:      r.Headers.Clone(),
	}
	if r.body != nil {
		clone.body = append([]byte(nil), r.body...)
	}
	return clone
}

// IsProvisional returns true for 1xx responses
func (r *Response) IsProvisional() bool {
	return r.StatusCode >= 100 && r.StatusCode < 200
}

// IsSuccess returns true for 2xx responses
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsFinal returns true for 2xx-6xx responses
func (r *Response) IsFinal() bool {
	return r.StatusCode >= 200
}

// SIP methods used by this client
const (
	MethodINVITE   = "INVITE"
	MethodACK      = "ACK"
	MethodBYE      = "BYE"
	MethodCANCEL   = "CANCEL"
	MethodREGISTER = "REGISTER"
	MethodOPTIONS  = "OPTIONS"
)

// Common status codes
const (
	StatusTrying              = 100
	StatusRinging             = 180
	StatusSessionProgress     = 183
	StatusOK                  = 200
	StatusUnauthorized        = 401
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusMethodNotAllowed    = 405
	StatusProxyAuthRequired   = 407
	StatusRequestTimeout      = 408
	StatusTemporarilyUnavail  = 480
	StatusTransactionNotExist = 481
	StatusBusyHere            = 486
	StatusRequestTerminated   = 487
	StatusInternalServerError = 500
	StatusServiceUnavailable  = 503
	StatusDecline             = 603
)
