package message

import (
	"bytes"
	"strconv"
	"strings"
)

// StreamDecoder frames SIP messages out of a byte stream. Unlike UDP,
// where one datagram is one message, stream transports deliver
// arbitrary segments; Content-Length locates the message boundary.
type StreamDecoder struct {
	parser *Parser
	buf    bytes.Buffer
}

// NewStreamDecoder creates a decoder feeding the given parser
func NewStreamDecoder(parser *Parser) *StreamDecoder {
	return &StreamDecoder{parser: parser}
}

// Feed appends a received segment and returns any complete messages.
// Undecodable framing (e.g. a buffer overrun) resets the decoder and
// returns the error; the connection should be dropped by the caller.
func (d *StreamDecoder) Feed(segment []byte) ([]Message, error) {
	if d.buf.Len()+len(segment) > maxMessageSize*4 {
		d.buf.Reset()
		return nil, ErrMessageTooLarge
	}
	d.buf.Write(segment)

	var msgs []Message
	for {
		raw, ok := d.next()
		if !ok {
			break
		}
		msg, err := d.parser.ParseMessage(raw)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// next extracts one complete message from the buffer, or reports that
// more data is needed
func (d *StreamDecoder) next() ([]byte, bool) {
	data := d.buf.Bytes()

	// Skip CRLF keep-alives between messages
	for len(data) > 0 && (data[0] == '\r' || data[0] == '\n') {
		d.buf.Next(1)
		data = d.buf.Bytes()
	}

	headerEnd := bytes.Index(data, []byte("\r\n\r\n"))
	if headerEnd == -1 {
		return nil, false
	}

	bodyLen := contentLengthOf(data[:headerEnd])
	total := headerEnd + 4 + bodyLen
	if len(data) < total {
		return nil, false
	}

	raw := make([]byte, total)
	copy(raw, data[:total])
	d.buf.Next(total)
	return raw, true
}

// contentLengthOf scans raw header bytes for Content-Length (or the
// compact form "l"). Missing or unparsable means zero: a stream cannot
// use remainder-of-input semantics.
func contentLengthOf(headerData []byte) int {
	for _, line := range bytes.Split(headerData, []byte("\r\n")) {
		colonIdx := bytes.IndexByte(line, ':')
		if colonIdx == -1 {
			continue
		}
		name := strings.ToLower(string(bytes.TrimSpace(line[:colonIdx])))
		if name != "content-length" && name != "l" {
			continue
		}
		if n, err := strconv.Atoi(string(bytes.TrimSpace(line[colonIdx+1:]))); err == nil && n >= 0 {
			return n
		}
		return 0
	}
	return 0
}
