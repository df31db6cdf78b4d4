package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Via represents a parsed Via header value
type Via struct {
	Transport string // UDP, TCP, TLS
	Host      string
	Port      int
	Branch    string
	Received  string
	RPort     int // -1 when present without value, 0 when absent
	Params    map[string]string
}

// ParseVia parses a Via header value:
// SIP/2.0/UDP host:port;branch=z9hG4bK...;received=...;rport
func ParseVia(value string) (*Via, error) {
	parts := strings.Fields(value)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: Via %q", ErrInvalidHeader, value)
	}

	proto := strings.Split(parts[0], "/")
	if len(proto) != 3 || proto[0] != "SIP" {
		return nil, fmt.Errorf("%w: Via protocol %q", ErrInvalidHeader, parts[0])
	}

	via := &Via{
		Transport: strings.ToUpper(proto[2]),
		Params:    make(map[string]string),
	}

	segments := strings.Split(strings.Join(parts[1:], " "), ";")

	hostPort := strings.TrimSpace(segments[0])
	if colonIdx := strings.LastIndex(hostPort, ":"); colonIdx >= 0 && !strings.HasSuffix(hostPort, "]") {
		via.Host = hostPort[:colonIdx]
		port, err := strconv.Atoi(hostPort[colonIdx+1:])
		if err != nil {
			return nil, fmt.Errorf("%w: Via port %q", ErrInvalidHeader, hostPort)
		}
		via.Port = port
	} else {
		via.Host = hostPort
	}

	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		name, val := seg, ""
		if eqIdx := strings.Index(seg, "="); eqIdx >= 0 {
			name, val = seg[:eqIdx], seg[eqIdx+1:]
		}
		switch strings.ToLower(name) {
		case "branch":
			via.Branch = val
		case "received":
			via.Received = val
		case "rport":
			if val == "" {
				via.RPort = -1
			} else if port, err := strconv.Atoi(val); err == nil {
				via.RPort = port
			}
		default:
			via.Params[name] = val
		}
	}

	return via, nil
}

// String returns the wire form of the Via value
func (v *Via) String() string {
	var sb strings.Builder

	sb.WriteString("SIP/2.0/")
	sb.WriteString(v.Transport)
	sb.WriteString(" ")
	sb.WriteString(v.Host)
	if v.Port > 0 {
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(v.Port))
	}

	if v.Branch != "" {
		sb.WriteString(";branch=")
		sb.WriteString(v.Branch)
	}
	if v.RPort == -1 {
		sb.WriteString(";rport")
	} else if v.RPort > 0 {
		sb.WriteString(";rport=")
		sb.WriteString(strconv.Itoa(v.RPort))
	}
	if v.Received != "" {
		sb.WriteString(";received=")
		sb.WriteString(v.Received)
	}
	for name, val := range v.Params {
		sb.WriteString(";")
		sb.WriteString(name)
		if val != "" {
			sb.WriteString("=")
			sb.WriteString(val)
		}
	}

	return sb.String()
}

// TopViaBranch extracts the branch parameter from the topmost Via of a
// message. Returns an empty string when absent.
func TopViaBranch(msg Message) string {
	via := msg.GetHeader("Via")
	if via == "" {
		return ""
	}
	parsed, err := ParseVia(via)
	if err != nil {
		return ""
	}
	return parsed.Branch
}

// ParseCSeq parses a CSeq header value into sequence and method
func ParseCSeq(cseq string) (seq uint32, method string, err error) {
	parts := strings.Fields(cseq)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("%w: CSeq %q", ErrInvalidHeader, cseq)
	}

	seqNum, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("%w: CSeq number %q", ErrInvalidHeader, parts[0])
	}

	return uint32(seqNum), parts[1], nil
}
