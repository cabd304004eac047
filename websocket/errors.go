package websocket

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed taxonomy of error categories this package returns
// (spec Section 7). Callers should classify errors with errors.Is against
// the exported sentinels, or errors.As against *Error / *ProtocolError for
// the structured details.
type ErrorKind int

const (
	// KindConnectionClosed marks normal termination; the session is no longer usable.
	KindConnectionClosed ErrorKind = iota
	// KindAlreadyClosed marks programmer error: using a terminated session.
	KindAlreadyClosed
	// KindIO wraps any underlying stream error, including WouldBlock.
	KindIO
	// KindProtocol marks RFC-violating peer behaviour; the session must be failed.
	KindProtocol
	// KindCapacity marks TooManyHeaders or MessageTooLarge.
	KindCapacity
	// KindWriteBufferFull is a backpressure signal; the offending frame was not enqueued.
	KindWriteBufferFull
	// KindHTTP marks a handshake that completed with a non-101 status.
	KindHTTP
	// KindHTTPFormat marks a malformed HTTP handshake message.
	KindHTTPFormat
	// KindURL marks a malformed WebSocket URL.
	KindURL
	// KindUTF8 marks invalid UTF-8 in a text message or close reason.
	KindUTF8
	// KindTLS wraps an opaque TLS error.
	KindTLS
	// KindAttackAttempt marks an abuse detector trip during the handshake.
	KindAttackAttempt
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionClosed:
		return "connection closed"
	case KindAlreadyClosed:
		return "already closed"
	case KindIO:
		return "io"
	case KindProtocol:
		return "protocol error"
	case KindCapacity:
		return "capacity"
	case KindWriteBufferFull:
		return "write buffer full"
	case KindHTTP:
		return "http"
	case KindHTTPFormat:
		return "http format"
	case KindURL:
		return "url"
	case KindUTF8:
		return "utf8"
	case KindTLS:
		return "tls"
	case KindAttackAttempt:
		return "attack attempt"
	default:
		return "unknown"
	}
}

// ProtocolErrorCode enumerates the specific RFC violations this package detects.
type ProtocolErrorCode int

const (
	ProtoUnknownDataOpcode ProtocolErrorCode = iota
	ProtoUnknownControlOpcode
	ProtoReservedBitsSet
	ProtoFragmentedControlFrame
	ProtoControlFrameTooBig
	ProtoUnexpectedContinue
	ProtoExpectedFragment
	ProtoMaskedFrameFromServer
	ProtoUnmaskedFrameFromClient
	ProtoInvalidHTTPMethod
	ProtoInvalidHTTPVersion
	ProtoServerSentSubProtocolNoneRequested
	ProtoNoSubProtocol
	ProtoInvalidSubProtocol
	ProtoCustomResponseSuccessful
	ProtoJunkAfterRequest
	ProtoMissingSecWebSocketKey
	ProtoMissingConnectionUpgrade
	ProtoMissingUpgradeHeader
	ProtoInvalidVersion
	ProtoInvalidCloseFramePayload
	ProtoAcceptKeyMismatch
	ProtoSendAfterClose
	ProtoReceiveAfterClose
	ProtoResetWithoutClosing
	ProtoSubprotocolMismatch
	ProtoNoMatchingSubprotocol
)

func (c ProtocolErrorCode) String() string {
	switch c {
	case ProtoUnknownDataOpcode:
		return "unknown data opcode"
	case ProtoUnknownControlOpcode:
		return "unknown control opcode"
	case ProtoReservedBitsSet:
		return "reserved bits set without negotiated extension"
	case ProtoFragmentedControlFrame:
		return "fragmented control frame"
	case ProtoControlFrameTooBig:
		return "control frame payload exceeds 125 bytes"
	case ProtoUnexpectedContinue:
		return "unexpected continuation frame"
	case ProtoExpectedFragment:
		return "data frame received while a fragmented message is in progress"
	case ProtoMaskedFrameFromServer:
		return "masked frame received by a client"
	case ProtoUnmaskedFrameFromClient:
		return "unmasked frame received by a server"
	case ProtoInvalidHTTPMethod:
		return "handshake method must be GET"
	case ProtoInvalidHTTPVersion:
		return "handshake HTTP version must be >= 1.1"
	case ProtoServerSentSubProtocolNoneRequested:
		return "server selected a subprotocol but none was requested"
	case ProtoNoSubProtocol:
		return "server selected no subprotocol though some were requested"
	case ProtoInvalidSubProtocol:
		return "server selected a subprotocol outside the requested set"
	case ProtoCustomResponseSuccessful:
		return "handshake callback returned a 2xx response alongside an error"
	case ProtoJunkAfterRequest:
		return "bytes trailing the handshake request"
	case ProtoMissingSecWebSocketKey:
		return "missing Sec-WebSocket-Key header"
	case ProtoMissingConnectionUpgrade:
		return "Connection header missing Upgrade token"
	case ProtoMissingUpgradeHeader:
		return "Upgrade header is not websocket"
	case ProtoInvalidVersion:
		return "Sec-WebSocket-Version is not 13"
	case ProtoInvalidCloseFramePayload:
		return "close frame payload is malformed"
	case ProtoAcceptKeyMismatch:
		return "Sec-WebSocket-Accept does not match the expected derivation"
	case ProtoSendAfterClose:
		return "write attempted after close handshake started"
	case ProtoReceiveAfterClose:
		return "frame received after close handshake completed"
	case ProtoResetWithoutClosing:
		return "connection reset without a completed close handshake"
	case ProtoSubprotocolMismatch:
		return "server selected a subprotocol other than the one requested"
	case ProtoNoMatchingSubprotocol:
		return "no common subprotocol could be negotiated"
	default:
		return "protocol error"
	}
}

// ProtocolError is the structured detail carried by a KindProtocol Error.
type ProtocolError struct {
	Code   ProtocolErrorCode
	Opcode byte // the offending opcode nibble, when the code names one
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("websocket: %s: %s", e.Code, e.Detail)
	}
	return "websocket: " + e.Code.String()
}

// CapacityErrorKind distinguishes the two capacity failures the spec names.
type CapacityErrorKind int

const (
	CapacityMessageTooLarge CapacityErrorKind = iota
	CapacityTooManyHeaders
)

// CapacityError is the structured detail carried by a KindCapacity Error.
type CapacityError struct {
	Kind CapacityErrorKind
	Size uint64
	Max  uint64
}

func (e *CapacityError) Error() string {
	if e.Kind == CapacityTooManyHeaders {
		return "websocket: too many headers"
	}
	return fmt.Sprintf("websocket: message too large: %d bytes exceeds limit of %d", e.Size, e.Max)
}

// Error is the single error type this package returns from its public API.
// Use errors.Is against the Kind-identifying sentinels below, or errors.As
// to recover the structured Protocol/Capacity/Response detail.
type Error struct {
	Kind     ErrorKind
	Protocol *ProtocolError
	Capacity *CapacityError
	Response *http.Response // set iff Kind == KindHTTP
	Err      error          // wrapped cause, set for KindIO/KindHTTPFormat/KindURL/KindUTF8/KindTLS
}

func (e *Error) Error() string {
	switch {
	case e.Protocol != nil:
		return e.Protocol.Error()
	case e.Capacity != nil:
		return e.Capacity.Error()
	case e.Kind == KindHTTP:
		if e.Response != nil {
			return fmt.Sprintf("websocket: handshake rejected with status %s", e.Response.Status)
		}
		return "websocket: handshake rejected"
	case e.Err != nil:
		return fmt.Sprintf("websocket: %s: %v", e.Kind, e.Err)
	default:
		return "websocket: " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports equality by Kind, so errors.Is(err, ErrConnectionClosed) works
// regardless of the wrapped cause or structured detail attached to err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	// A sentinel that also pins a wrapped cause (e.g. ErrWouldBlock) must
	// match that cause too, so two distinct KindIO errors don't compare
	// equal just for sharing a Kind.
	if t.Err != nil {
		return errors.Is(e.Err, t.Err)
	}
	return true
}

// Sentinels for errors.Is comparisons against the error kinds that carry no
// further structured detail.
var (
	ErrConnectionClosed = &Error{Kind: KindConnectionClosed}
	ErrAlreadyClosed    = &Error{Kind: KindAlreadyClosed}
	ErrWriteBufferFull  = &Error{Kind: KindWriteBufferFull}
	ErrAttackAttempt    = &Error{Kind: KindAttackAttempt}
)

func errIO(err error) error { return &Error{Kind: KindIO, Err: err} }

func errHTTPFormat(err error) error { return &Error{Kind: KindHTTPFormat, Err: err} }

func errURL(err error) error { return &Error{Kind: KindURL, Err: err} }

func errUTF8() error { return &Error{Kind: KindUTF8, Err: fmt.Errorf("invalid UTF-8")} }

func errTLS(err error) error { return &Error{Kind: KindTLS, Err: err} }

func errHTTP(resp *http.Response) error { return &Error{Kind: KindHTTP, Response: resp} }

func errAttackAttempt(reason string) error {
	return &Error{Kind: KindAttackAttempt, Err: fmt.Errorf("%s", reason)}
}

func errProtocol(code ProtocolErrorCode, opts ...func(*ProtocolError)) error {
	pe := &ProtocolError{Code: code}
	for _, opt := range opts {
		opt(pe)
	}
	return &Error{Kind: KindProtocol, Protocol: pe}
}

func withOpcode(op byte) func(*ProtocolError) {
	return func(pe *ProtocolError) { pe.Opcode = op }
}

func withDetail(detail string) func(*ProtocolError) {
	return func(pe *ProtocolError) { pe.Detail = detail }
}

func errCapacity(kind CapacityErrorKind, size, max uint64) error {
	return &Error{Kind: KindCapacity, Capacity: &CapacityError{Kind: kind, Size: size, Max: max}}
}

// IsCloseError reports whether err represents the normal, expected
// termination of a session (a clean close handshake or peer EOF).
func IsCloseError(err error) bool {
	return err != nil && (isKind(err, KindConnectionClosed) || isKind(err, KindAlreadyClosed))
}

func isKind(err error, k ErrorKind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == k
}
