package message

import (
	"fmt"
	"strconv"
	"strings"
)

// RequestBuilder helps build SIP requests
type RequestBuilder struct {
	method      string
	uri         *URI
	headers     *Headers
	body        []byte
	maxForwards int
}

// NewRequest creates a new request builder
func NewRequest(method string, uri *URI) *RequestBuilder {
	return &RequestBuilder{
		method:      strings.ToUpper(method),
		uri:         uri,
		headers:     NewHeaders(),
		maxForwards: 70, // RFC 3261 default
	}
}

// Via adds a Via header
func (b *RequestBuilder) Via(transport, host string, port int, branch string) *RequestBuilder {
	via := fmt.Sprintf("SIP/2.0/%s %s:%d", strings.ToUpper(transport), host, port)
	if branch != "" {
		via += ";branch=" + branch
	}
	b.headers.Add("Via", via)
	return b
}

// From sets the From header
func (b *RequestBuilder) From(uri *URI, displayName, tag string) *RequestBuilder {
	b.headers.Set("From", formatAddress(uri, displayName, tag))
	return b
}

// To sets the To header
func (b *RequestBuilder) To(uri *URI, tag string) *RequestBuilder {
	b.headers.Set("To", formatAddress(uri, "", tag))
	return b
}

// CallID sets the Call-ID header
func (b *RequestBuilder) CallID(callID string) *RequestBuilder {
	b.headers.Set("Call-ID", callID)
	return b
}

// CSeq sets the CSeq header
func (b *RequestBuilder) CSeq(seq uint32, method string) *RequestBuilder {
	b.headers.Set("CSeq", fmt.Sprintf("%d %s", seq, strings.ToUpper(method)))
	return b
}

// Contact sets the Contact header
func (b *RequestBuilder) Contact(uri *URI) *RequestBuilder {
	b.headers.Set("Contact", fmt.Sprintf("<%s>", uri.String()))
	return b
}

// MaxForwards sets the Max-Forwards value
func (b *RequestBuilder) MaxForwards(value int) *RequestBuilder {
	b.maxForwards = value
	return b
}

// Expires sets the Expires header
func (b *RequestBuilder) Expires(seconds int) *RequestBuilder {
	b.headers.Set("Expires", strconv.Itoa(seconds))
	return b
}

// Header adds a custom header
func (b *RequestBuilder) Header(name, value string) *RequestBuilder {
	b.headers.Add(name, value)
	return b
}

// Route adds a Route header
func (b *RequestBuilder) Route(uri *URI) *RequestBuilder {
	b.headers.Add("Route", fmt.Sprintf("<%s>", uri.String()))
	return b
}

// Body sets the message body
func (b *RequestBuilder) Body(contentType string, body []byte) *RequestBuilder {
	b.body = body
	if len(body) > 0 {
		b.headers.Set("Content-Type", contentType)
	} else {
		b.headers.Remove("Content-Type")
	}
	return b
}

// Build creates the final Request
func (b *RequestBuilder) Build() (*Request, error) {
	if b.headers.Get("Max-Forwards") == "" {
		b.headers.Set("Max-Forwards", strconv.Itoa(b.maxForwards))
	}

	if err := b.validate(); err != nil {
		return nil, err
	}

	return &Request{
		Method:     b.method,
		RequestURI: b.uri,
		Headers:    b.headers,
		body:       b.body,
	}, nil
}

// validate checks for mandatory headers
func (b *RequestBuilder) validate() error {
	for _, h := range []string{"Via", "From", "To", "Call-ID", "CSeq", "Max-Forwards"} {
		if b.headers.Get(h) == "" {
			return fmt.Errorf("%w: %s", ErrMissingHeader, h)
		}
	}

	switch b.method {
	case MethodINVITE, MethodREGISTER:
		if b.headers.Get("Contact") == "" {
			return fmt.Errorf("%w: Contact required for %s", ErrMissingHeader, b.method)
		}
	}

	cseq := b.headers.Get("CSeq")
	parts := strings.Fields(cseq)
	if len(parts) == 2 && parts[1] != b.method && b.method != MethodACK {
		return fmt.Errorf("CSeq method mismatch: %s != %s", parts[1], b.method)
	}

	return nil
}

// formatAddress renders a name-addr: Display <uri>;tag=...
func formatAddress(uri *URI, displayName, tag string) string {
	var sb strings.Builder
	if displayName != "" {
		sb.WriteString("\"")
		sb.WriteString(displayName)
		sb.WriteString("\" ")
	}
	sb.WriteString("<")
	sb.WriteString(uri.String())
	sb.WriteString(">")
	if tag != "" {
		sb.WriteString(";tag=")
		sb.WriteString(tag)
	}
	return sb.String()
}

// ExtractTag extracts the tag parameter from a From/To header value
func ExtractTag(headerValue string) string {
	idx := strings.Index(headerValue, ";tag=")
	if idx < 0 {
		return ""
	}
	tag := headerValue[idx+5:]
	if end := strings.IndexAny(tag, ";>"); end >= 0 {
		tag = tag[:end]
	}
	return tag
}

// ExtractURI extracts the URI from a header value like `Name <uri>;params`
func ExtractURI(headerValue string) (*URI, error) {
	start := strings.Index(headerValue, "<")
	end := strings.LastIndex(headerValue, ">")
	if start >= 0 && end > start {
		return ParseURI(headerValue[start+1 : end])
	}

	// addr-spec without angle brackets: strip header parameters
	value := headerValue
	if semiIdx := strings.Index(value, ";"); semiIdx > 0 {
		value = value[:semiIdx]
	}
	return ParseURI(strings.TrimSpace(value))
}
