package mapi

import "fmt"

// Kind classifies an engine error.
type Kind int

const (
	// KindTransport is an I/O failure on the underlying stream. Fatal: the
	// session transitions to Broken and must be reconnected.
	KindTransport Kind = iota
	// KindProtocol is a malformed or unexpected server line. Fatal: it
	// indicates an engine bug or a server incompatibility and is never retried.
	KindProtocol
	// KindAuth is a handshake rejection or an empty algorithm intersection.
	// Fatal to the connection attempt only.
	KindAuth
	// KindServer is an error line the server produced for a statement. The
	// session remains usable for the next statement.
	KindServer
	// KindStaleResult is a fetch on a table result whose server-side cursor
	// was invalidated by a later statement on the same session.
	KindStaleResult
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindServer:
		return "server"
	case KindStaleResult:
		return "stale result"
	default:
		return "unknown"
	}
}

// Sentinels for use with errors.Is to check the kind of any error in a chain.
var (
	ErrTransport   = &Error{Kind: KindTransport}
	ErrProtocol    = &Error{Kind: KindProtocol}
	ErrAuth        = &Error{Kind: KindAuth}
	ErrServer      = &Error{Kind: KindServer}
	ErrStaleResult = &Error{Kind: KindStaleResult}
)

// Error represents an error in the MAPI engine.
type Error struct {
	Kind    Kind
	Code    string // SQLSTATE-style code for server errors, empty otherwise
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mapi: %s error [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("mapi: %s error: %s", e.Kind, e.Message)
}

// Is supports errors.Is by matching any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

func transportErrf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindTransport, Message: fmt.Sprintf(format, args...), cause: cause}
}

func protocolErrf(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

func authErrf(format string, args ...any) *Error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...)}
}

// serverError builds a KindServer error from a raw server error line, with
// the leading '!' already stripped. Lines of the form "!22003!overflow"
// carry a 5-character SQLSTATE between the bangs.
func serverError(line string) *Error {
	if len(line) >= 6 && line[5] == '!' {
		return &Error{Kind: KindServer, Code: line[:5], Message: line[6:]}
	}
	return &Error{Kind: KindServer, Message: line}
}
