package pop3client

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/popbox/popbox/mlog"
	"github.com/popbox/popbox/pio"
)

// DefaultTimeout is the read and write deadline used for each line when no
// timeout is specified.
const DefaultTimeout = 30 * time.Second

// MaxLineLength is the maximum length of a response line, including line ending.
const MaxLineLength = 64 * 1024

// Buffers for reading response lines, shared between connections.
var bufs = pio.NewLinepool(8, MaxLineLength)

// Transport is a duplex line-oriented channel to a POP3 server.
type Transport interface {
	// WriteLine writes line followed by CRLF.
	WriteLine(line string) error
	// ReadLine reads a line, returning it including its line ending.
	ReadLine() (string, error)
	Close() error
}

// tracer is implemented by transports that log protocol traces, for changing
// the trace level while writing credentials.
type tracer interface {
	SetTrace(level slog.Level)
}

// stream implements the reading and writing for the transports, with deadlines
// and protocol trace logging.
type stream struct {
	conn    net.Conn
	log     mlog.Log
	timeout time.Duration
	tr      *pio.TraceReader
	tw      *pio.TraceWriter
	r       *bufio.Reader
	w       *bufio.Writer
}

func newStream(log mlog.Log, conn net.Conn, timeout time.Duration) stream {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := stream{conn: conn, log: log, timeout: timeout}
	s.tr = pio.NewTraceReader(log, "CR: ", conn)
	s.tw = pio.NewTraceWriter(log, "CW: ", conn)
	s.r = bufio.NewReader(s.tr)
	s.w = bufio.NewWriter(s.tw)
	return s
}

func (s *stream) WriteLine(line string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "%s\r\n", line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (s *stream) ReadLine() (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return "", fmt.Errorf("setting read deadline: %w", err)
	}
	return bufs.Readline(s.log, s.r)
}

func (s *stream) SetTrace(level slog.Level) {
	s.tr.SetTrace(level)
	s.tw.SetTrace(level)
}

// PlainTransport is a transport over an unencrypted connection.
type PlainTransport struct {
	stream
}

var _ Transport = (*PlainTransport)(nil)

// NewPlainTransport returns a transport reading and writing conn directly. If
// timeout is 0, DefaultTimeout is used.
func NewPlainTransport(elog *slog.Logger, conn net.Conn, timeout time.Duration) *PlainTransport {
	log := mlog.New("pop3client", elog)
	return &PlainTransport{newStream(log, conn, timeout)}
}

func (t *PlainTransport) Close() error {
	return t.conn.Close()
}

// TLSTransport is a transport over a TLS connection, established with a single
// handshake immediately after connecting.
type TLSTransport struct {
	stream
	origConn net.Conn
}

var _ Transport = (*TLSTransport)(nil)

// NewTLSTransport starts a TLS session on conn, performing the handshake. Config
// must have ServerName set, or InsecureSkipVerify. If timeout is 0,
// DefaultTimeout is used, also for the handshake.
//
// On failure, conn is closed.
func NewTLSTransport(ctx context.Context, elog *slog.Logger, conn net.Conn, config *tls.Config, timeout time.Duration) (*TLSTransport, error) {
	log := mlog.New("pop3client", elog)
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tlsconn := tls.Client(conn, config)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := tlsconn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	cs := tlsconn.ConnectionState()
	version, ciphersuite := pio.TLSInfo(cs)
	log.Debug("tls client handshake done",
		slog.String("version", version),
		slog.String("ciphersuite", ciphersuite),
		slog.String("servername", config.ServerName))
	return &TLSTransport{newStream(log, tlsconn, timeout), conn}, nil
}

// ConnectionState returns the state of the TLS connection.
func (t *TLSTransport) ConnectionState() tls.ConnectionState {
	return t.conn.(*tls.Conn).ConnectionState()
}

func (t *TLSTransport) Close() error {
	// Closing the TLS connection attempts to write a close notification, which
	// must not block on an unresponsive server.
	t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	err := t.conn.Close()
	t.origConn.Close()
	return err
}
