package epperr

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an EPP client error by how the caller must dispose
// of the session that produced it.
type Kind int

const (
	// KindUnknown is an error not produced by this library
	KindUnknown Kind = iota
	// KindConnection is a TCP, TLS or proxy tunnel establishment failure
	KindConnection
	// KindProtocol is a malformed or unparseable document, or a
	// transport failure mid-conversation
	KindProtocol
	// KindCommand is a well formed response with a non-success result
	KindCommand
	// KindTransactionMismatch indicates the server echoed a client
	// transaction id other than the one sent
	KindTransactionMismatch
	// KindPoolExhausted indicates a borrow waited its maximum time
	// without a session becoming available
	KindPoolExhausted
	// KindShuttingDown indicates the pool no longer lends sessions
	KindShuttingDown
	// KindUsage is a caller error, such as pipelining a second
	// command in async mode before reading the first response
	KindUsage
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindCommand:
		return "command"
	case KindTransactionMismatch:
		return "transaction-mismatch"
	case KindPoolExhausted:
		return "pool-exhausted"
	case KindShuttingDown:
		return "shutting-down"
	case KindUsage:
		return "usage"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k *Kind) UnmarshalText(b []byte) error {
	b = bytes.TrimSpace(b)
	for c := KindUnknown; c <= KindUsage; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return errors.New("unknown value")
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Response is the view of a parsed server response carried by
// KindCommand errors.
type Response interface {
	Success() bool
	ResultCode() int
	ResultMessage() string
	ClientTransactionID() string
}

// Error is an EPP client error.
//
// Errors compare equal under errors.Is when their Kind matches a
// target Error carrying no Op, so the package level sentinels such as
// ErrPoolExhausted can be used as targets.
type Error struct {
	Kind Kind
	// Op names the operation which failed, e.g. "login" or "borrow"
	Op      string
	Message string
	// Err is the underlying cause, if any
	Err error
	// Response is the parsed server response for KindCommand errors
	Response Response
}

func (e *Error) Error() string {
	s := "epp"
	if e.Op != "" {
		s += " " + e.Op
	}
	s += ": " + e.Kind.String() + " error"
	if r := e.Response; r != nil {
		s += fmt.Sprintf(" code:%d", r.ResultCode())
		if msg := r.ResultMessage(); msg != "" {
			s += " " + msg
		}
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

var (
	ErrConnection          = &Error{Kind: KindConnection}
	ErrProtocol            = &Error{Kind: KindProtocol}
	ErrCommand             = &Error{Kind: KindCommand}
	ErrTransactionMismatch = &Error{Kind: KindTransactionMismatch}
	ErrPoolExhausted       = &Error{Kind: KindPoolExhausted}
	ErrShuttingDown        = &Error{Kind: KindShuttingDown}
	ErrUsage               = &Error{Kind: KindUsage}
)

func newError(kind Kind, cause error, opts []Option) *Error {
	e := &Error{Kind: kind, Err: cause}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func Connection(cause error, opts ...Option) *Error {
	return newError(KindConnection, cause, opts)
}

func Protocol(cause error, opts ...Option) *Error {
	return newError(KindProtocol, cause, opts)
}

// Command returns a KindCommand error carrying the server response.
func Command(resp Response, opts ...Option) *Error {
	e := newError(KindCommand, nil, opts)
	e.Response = resp
	return e
}

// TransactionMismatch returns the error raised when the server echoes
// got instead of the client transaction id want.
func TransactionMismatch(want, got string, opts ...Option) *Error {
	e := newError(KindTransactionMismatch, nil, opts)
	if e.Message == "" {
		e.Message = fmt.Sprintf("sent clTRID %q, response carries %q", want, got)
	}
	return e
}

func PoolExhausted(opts ...Option) *Error {
	return newError(KindPoolExhausted, nil, opts)
}

func ShuttingDown(opts ...Option) *Error {
	return newError(KindShuttingDown, nil, opts)
}

func Usage(msg string, opts ...Option) *Error {
	e := newError(KindUsage, nil, opts)
	e.Message = msg
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// ResponseOf returns the server response attached to err, if any.
func ResponseOf(err error) Response {
	var e *Error
	if errors.As(err, &e) {
		return e.Response
	}
	return nil
}

// MustInvalidate reports whether a session which returned err can no
// longer be returned to its pool and must be invalidated instead.
//
// Command errors leave the session usable, except for the 25xx result
// codes with which the server announces it is closing the connection.
func MustInvalidate(err error) bool {
	switch KindOf(err) {
	case KindConnection, KindProtocol, KindTransactionMismatch, KindUnknown:
		return err != nil
	case KindCommand:
		if r := ResponseOf(err); r != nil {
			code := r.ResultCode()
			return code >= 2500 && code <= 2502
		}
	}
	return false
}
