package message

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Maximum sizes for security
	maxMessageSize = 65536 // 64KB
	maxHeaderSize  = 8192  // 8KB
	maxHeaders     = 100   // maximum number of headers
)

// Parser parses SIP messages
type Parser struct {
	strict bool // RFC compliance mode
}

// NewParser creates a new parser. In strict mode mandatory headers are
// validated on requests; non-strict mode skips malformed header lines.
func NewParser(strict bool) *Parser {
	return &Parser{strict: strict}
}

// ParseMessage parses a SIP message from bytes. Malformed input returns
// an error, never a panic.
func (p *Parser) ParseMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrInvalidMessage
	}
	if len(data) > maxMessageSize {
		return nil, ErrMessageTooLarge
	}

	// Locate the end of headers (empty line)
	sepLen := 4
	headerEnd := bytes.Index(data, []byte("\r\n\r\n"))
	if headerEnd == -1 {
		headerEnd = bytes.Index(data, []byte("\n\n"))
		sepLen = 2
		if headerEnd == -1 {
			return nil, ErrInvalidMessage
		}
	}

	headerData := data[:headerEnd]
	bodyData := data[headerEnd+sepLen:]

	lines := bytes.Split(headerData, []byte("\r\n"))
	if len(lines) == 1 {
		lines = bytes.Split(headerData, []byte("\n"))
	}

	firstLine := strings.TrimSpace(string(lines[0]))

	headers, err := p.parseHeaders(lines[1:])
	if err != nil {
		return nil, err
	}

	body, err := p.extractBody(headers, bodyData)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(firstLine, "SIP/") {
		return p.parseResponse(firstLine, headers, body)
	}
	return p.parseRequest(firstLine, headers, body)
}

// extractBody applies Content-Length when present, otherwise the
// remainder of input is the body
func (p *Parser) extractBody(headers *Headers, bodyData []byte) ([]byte, error) {
	clStr := headers.Get("Content-Length")
	if clStr == "" {
		return bodyData, nil
	}

	cl, err := strconv.Atoi(strings.TrimSpace(clStr))
	if err != nil || cl < 0 {
		return nil, fmt.Errorf("%w: Content-Length %q", ErrInvalidHeader, clStr)
	}
	if cl > len(bodyData) {
		return nil, fmt.Errorf("%w: declared %d, have %d bytes", ErrContentLengthMismatch, cl, len(bodyData))
	}
	return bodyData[:cl], nil
}

// parseRequest parses a request line: METHOD REQUEST-URI SIP-VERSION
func (p *Parser) parseRequest(firstLine string, headers *Headers, body []byte) (*Request, error) {
	parts := strings.Fields(firstLine)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedStartLine, firstLine)
	}

	method := strings.ToUpper(parts[0])

	if p.strict {
		switch method {
		case MethodINVITE, MethodACK, MethodBYE, MethodCANCEL,
			MethodREGISTER, MethodOPTIONS, "SUBSCRIBE", "NOTIFY",
			"INFO", "REFER", "MESSAGE", "UPDATE", "PRACK", "PUBLISH":
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
		}
	}

	requestURI, err := ParseURI(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: request URI: %v", ErrMalformedStartLine, err)
	}

	if !strings.HasPrefix(parts[2], "SIP/2.0") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSIPVersion, parts[2])
	}

	req := &Request{
		Method:     method,
		RequestURI: requestURI,
		Headers:    headers,
		body:       body,
	}

	if p.strict {
		if err := validateMandatoryHeaders(req); err != nil {
			return nil, err
		}
	}

	return req, nil
}

// parseResponse parses a status line: SIP-VERSION STATUS-CODE REASON
func (p *Parser) parseResponse(firstLine string, headers *Headers, body []byte) (*Response, error) {
	parts := strings.SplitN(firstLine, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedStartLine, firstLine)
	}

	if !strings.HasPrefix(parts[0], "SIP/2.0") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSIPVersion, parts[0])
	}

	statusCode, err := strconv.Atoi(parts[1])
	if err != nil || statusCode < 100 || statusCode > 699 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatusCode, parts[1])
	}

	reasonPhrase := ""
	if len(parts) > 2 {
		reasonPhrase = parts[2]
	} else {
		reasonPhrase = DefaultReasonPhrase(statusCode)
	}

	return &Response{
		StatusCode:   statusCode,
		ReasonPhrase: reasonPhrase,
		Headers:      headers,
		body:         body,
	}, nil
}

// parseHeaders parses header lines, unfolding continuations and
// expanding compact forms
func (p *Parser) parseHeaders(lines [][]byte) (*Headers, error) {
	headers := NewHeaders()

	if len(lines) > maxHeaders {
		return nil, fmt.Errorf("too many headers: %d", len(lines))
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if len(line) == 0 {
			continue
		}

		// Header folding: continuation lines start with SP or HT.
		// Copy before appending so the shared input buffer is not clobbered.
		if i+1 < len(lines) && len(lines[i+1]) > 0 &&
			(lines[i+1][0] == ' ' || lines[i+1][0] == '\t') {
			line = append([]byte(nil), line...)
			for i+1 < len(lines) && len(lines[i+1]) > 0 &&
				(lines[i+1][0] == ' ' || lines[i+1][0] == '\t') {
				i++
				line = append(append(line, ' '), bytes.TrimSpace(lines[i])...)
			}
		}

		if len(line) > maxHeaderSize {
			return nil, ErrHeaderTooLarge
		}

		colonIdx := bytes.IndexByte(line, ':')
		if colonIdx == -1 {
			if p.strict {
				return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, string(line))
			}
			continue
		}

		name := string(bytes.TrimSpace(line[:colonIdx]))
		value := string(bytes.TrimSpace(line[colonIdx+1:]))
		if name == "" {
			if p.strict {
				return nil, fmt.Errorf("%w: empty name", ErrInvalidHeader)
			}
			continue
		}

		headers.Add(name, value)
	}

	return headers, nil
}

// validateMandatoryHeaders checks the RFC 3261 mandatory request headers
func validateMandatoryHeaders(req *Request) error {
	for _, name := range []string{"Via", "From", "To", "Call-ID", "CSeq", "Max-Forwards"} {
		if req.GetHeader(name) == "" {
			return fmt.Errorf("%w: %s", ErrMissingHeader, name)
		}
	}

	seq, method, err := ParseCSeq(req.GetHeader("CSeq"))
	if err != nil {
		return err
	}
	_ = seq
	if method != req.Method && req.Method != MethodACK {
		return fmt.Errorf("%w: CSeq method %s for %s request", ErrInvalidHeader, method, req.Method)
	}

	return nil
}

// DefaultReasonPhrase returns the standard reason phrase for a status code
func DefaultReasonPhrase(code int) string {
	switch code {
	case 100:
		return "Trying"
	case 180:
		return "Ringing"
	case 183:
		return "Session Progress"
	case 200:
		return "OK"
	case 202:
		return "Accepted"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 407:
		return "Proxy Authentication Required"
	case 408:
		return "Request Timeout"
	case 480:
		return "Temporarily Unavailable"
	case 481:
		return "Call/Transaction Does Not Exist"
	case 486:
		return "Busy Here"
	case 487:
		return "Request Terminated"
	case 488:
		return "Not Acceptable Here"
	case 500:
		return "Server Internal Error"
	case 501:
		return "Not Implemented"
	case 503:
		return "Service Unavailable"
	case 600:
		return "Busy Everywhere"
	case 603:
		return "Decline"
	default:
		switch {
		case code < 200:
			return "Provisional"
		case code < 300:
			return "Success"
		case code < 400:
			return "Redirection"
		case code < 500:
			return "Client Error"
		case code < 600:
			return "Server Error"
		default:
			return "Global Failure"
		}
	}
}
