package message

import "errors"

var (
	// Parser errors
	ErrInvalidMessage        = errors.New("invalid SIP message")
	ErrMalformedStartLine    = errors.New("malformed start line")
	ErrInvalidHeader         = errors.New("invalid header format")
	ErrInvalidSIPVersion     = errors.New("invalid SIP version")
	ErrInvalidStatusCode     = errors.New("invalid status code")
	ErrInvalidURI            = errors.New("invalid URI")
	ErrContentLengthMismatch = errors.New("content length mismatch")

	// Validation errors
	ErrMissingHeader = errors.New("missing required header")
	ErrInvalidMethod = errors.New("invalid SIP method")

	// Size errors
	ErrMessageTooLarge = errors.New("message too large")
	ErrHeaderTooLarge  = errors.New("header too large")
)
