package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Kind classifies every failure the Spread client core can report.
type Kind int

const (
	KindConnectionFailed Kind = iota + 1
	KindConnectionRefused
	KindProtocolVersionUnsupported
	KindEncodingFailed
	KindMalformedServerResponse
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindConnectionFailed:
		return "connection failed"
	case KindConnectionRefused:
		return "connection refused"
	case KindProtocolVersionUnsupported:
		return "protocol version unsupported"
	case KindEncodingFailed:
		return "encoding failed"
	case KindMalformedServerResponse:
		return "malformed server response"
	case KindTransportError:
		return "transport error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is; any *Error of the same Kind matches.
var (
	ErrConnectionFailed           = &Error{Kind: KindConnectionFailed}
	ErrConnectionRefused          = &Error{Kind: KindConnectionRefused}
	ErrProtocolVersionUnsupported = &Error{Kind: KindProtocolVersionUnsupported}
	ErrEncodingFailed             = &Error{Kind: KindEncodingFailed}
	ErrMalformedServerResponse    = &Error{Kind: KindMalformedServerResponse}
	ErrTransportError             = &Error{Kind: KindTransportError}
)

// Error is the only error type the protocol layer returns. Code is set only
// when the daemon supplied a numeric status.
type Error struct {
	Kind    Kind
	Code    Code
	HasCode bool
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	out := "spread: " + e.Kind.String()
	if e.HasCode {
		out += fmt.Sprintf(" (%s %d)", e.Code, int32(e.Code))
	}
	if e.Msg != "" {
		out += ": " + e.Msg
	}
	if e.Err != nil {
		out += ": " + e.Err.Error()
	}
	return out
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can test against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Refused builds a ConnectionRefused error carrying the daemon's code.
func Refused(code Code, msg string) *Error {
	return &Error{Kind: KindConnectionRefused, Code: code, HasCode: true, Msg: msg}
}

// IOError maps a transport failure during the handshake: a stream that closed
// mid-read is ConnectionFailed, anything else passes through as TransportError.
func IOError(msg string, err error) *Error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return NewError(KindConnectionFailed, msg, err)
	}
	return NewError(KindTransportError, msg, err)
}

// KindOf returns the Kind of err, or 0 when err is not a protocol error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// CodeOf returns the daemon code attached to err, if any.
func CodeOf(err error) (Code, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.HasCode {
		return pe.Code, true
	}
	return 0, false
}
