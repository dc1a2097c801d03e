package pop3client

import (
	"errors"
)

// Kinds of errors. An Error always has one of these as Kind, and errors.Is can be
// used to check for them.
var (
	ErrTransport      = errors.New("pop3 transport error")           // Connect, TLS handshake or i/o failure.
	ErrDecode         = errors.New("pop3 response is not valid utf-8") // Response bytes are not valid text.
	ErrProtocol       = errors.New("pop3 protocol error")             // Line does not match its expected syntax, e.g. status, stat or listing lines.
	ErrServerRejected = errors.New("pop3 server rejected command")    // Status line starts with -ERR.
	ErrInvalidState   = errors.New("pop3 operation in invalid state") // Programming error, operation not allowed in current session state.
)

// Error is returned by the functions and methods of this package.
//
// Command, Line and Text are only set when applicable.
type Error struct {
	// One of the Err variables in this package.
	Kind error
	// Command word causing the error, e.g. "USER" or "LIST". Parameters are not
	// included, they can hold credentials.
	Command string
	// Response line, without line ending, for protocol errors and rejections.
	Line string
	// Text from the server following "-ERR ", for ErrServerRejected.
	Text string
	// Underlying error, e.g. an i/o error.
	Err error
}

// Unwrap returns both the Kind and the underlying error, so errors.Is and
// errors.As match on both.
func (e Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Error returns a readable error string.
func (e Error) Error() string {
	s := e.Kind.Error()
	if e.Command != "" {
		s += " (" + e.Command + ")"
	}
	if e.Kind == ErrServerRejected {
		return s + ": " + e.Text
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if e.Line != "" {
		s += ": " + e.Line
	}
	return s
}

// ErrClosed is the underlying error for operations on a closed connection.
var ErrClosed = errors.New("connection is closed")
