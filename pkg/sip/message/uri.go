package message

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// URI represents a SIP URI
type URI struct {
	Scheme     string            // "sip" or "sips"
	User       string            // user part
	Host       string            // hostname or IP
	Port       int               // 0 means scheme default
	Parameters map[string]string // URI parameters (;key=value)
}

// ParseURI parses a SIP URI of the form sip:user@host:port;params
func ParseURI(uriStr string) (*URI, error) {
	if uriStr == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	schemeEnd := strings.Index(uriStr, ":")
	if schemeEnd < 0 {
		return nil, fmt.Errorf("%w: missing scheme in %q", ErrInvalidURI, uriStr)
	}

	uri := &URI{
		Scheme:     strings.ToLower(uriStr[:schemeEnd]),
		Parameters: make(map[string]string),
	}

	if uri.Scheme != "sip" && uri.Scheme != "sips" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, uri.Scheme)
	}

	rest := uriStr[schemeEnd+1:]

	// User part
	if atIdx := strings.LastIndex(rest, "@"); atIdx >= 0 {
		uri.User = rest[:atIdx]
		rest = rest[atIdx+1:]
	}

	// Parameters
	if semiIdx := strings.Index(rest, ";"); semiIdx >= 0 {
		for _, param := range strings.Split(rest[semiIdx+1:], ";") {
			if param == "" {
				continue
			}
			if eqIdx := strings.Index(param, "="); eqIdx >= 0 {
				uri.Parameters[param[:eqIdx]] = param[eqIdx+1:]
			} else {
				uri.Parameters[param] = ""
			}
		}
		rest = rest[:semiIdx]
	}

	if rest == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURI)
	}

	// Host and optional port, IPv6 in brackets
	if strings.HasPrefix(rest, "[") {
		endIdx := strings.Index(rest, "]")
		if endIdx < 0 {
			return nil, fmt.Errorf("%w: unterminated IPv6 literal", ErrInvalidURI)
		}
		if ip := net.ParseIP(rest[1:endIdx]); ip == nil {
			return nil, fmt.Errorf("%w: bad IPv6 literal %q", ErrInvalidURI, rest[1:endIdx])
		}
		uri.Host = rest[:endIdx+1]
		rest = rest[endIdx+1:]
		if strings.HasPrefix(rest, ":") {
			rest = rest[1:]
		} else {
			rest = ""
		}
	} else if colonIdx := strings.LastIndex(rest, ":"); colonIdx >= 0 {
		uri.Host = rest[:colonIdx]
		rest = rest[colonIdx+1:]
	} else {
		uri.Host = rest
		rest = ""
	}

	if rest != "" {
		port, err := strconv.Atoi(rest)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: bad port %q", ErrInvalidURI, rest)
		}
		uri.Port = port
	}

	if uri.Host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrInvalidURI)
	}

	return uri, nil
}

// String returns the string representation of the URI.
// Parameters are emitted in sorted order so output is deterministic.
func (u *URI) String() string {
	var sb strings.Builder

	sb.WriteString(u.Scheme)
	sb.WriteString(":")

	if u.User != "" {
		sb.WriteString(u.User)
		sb.WriteString("@")
	}

	sb.WriteString(u.Host)

	if u.Port > 0 {
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(u.Port))
	}

	if len(u.Parameters) > 0 {
		keys := make([]string, 0, len(u.Parameters))
		for k := range u.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(";")
			sb.WriteString(k)
			if v := u.Parameters[k]; v != "" {
				sb.WriteString("=")
				sb.WriteString(v)
			}
		}
	}

	return sb.String()
}

// Clone creates a deep copy of the URI
func (u *URI) Clone() *URI {
	clone := &URI{
		Scheme: u.Scheme,
		User:   u.User,
		Host:   u.Host,
		Port:   u.Port,
	}
	if u.Parameters != nil {
		clone.Parameters = make(map[string]string, len(u.Parameters))
		for k, v := range u.Parameters {
			clone.Parameters[k] = v
		}
	}
	return clone
}

// DefaultPort returns the default port for the URI scheme
func (u *URI) DefaultPort() int {
	if u.Scheme == "sips" {
		return 5061
	}
	return 5060
}

// HostPort returns host:port, substituting the scheme default when the
// port is unset
func (u *URI) HostPort() string {
	port := u.Port
	if port == 0 {
		port = u.DefaultPort()
	}
	return fmt.Sprintf("%s:%d", u.Host, port)
}

// MustParseURI parses a URI and panics on error (for tests)
func MustParseURI(uriStr string) *URI {
	uri, err := ParseURI(uriStr)
	if err != nil {
		panic(fmt.Sprintf("MustParseURI(%q): %v", uriStr, err))
	}
	return uri
}
