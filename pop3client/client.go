// Package pop3client is a client for the POP3 protocol, for retrieving
// statistics and listings of mailboxes.
//
// A connection is created with Dial, or with New on an existing Transport. The
// greeting is read, after which the session is in state AUTHORIZATION. Login
// authenticates with USER and PASS, falling back to APOP if USER fails. Stat
// and List can be used after a successful login.
//
// Commands beyond authentication, STAT and LIST are not implemented, neither is
// QUIT: Close just closes the connection.
package pop3client

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/popbox/popbox/mlog"
	"github.com/popbox/popbox/stub"
)

var (
	MetricCommands   stub.HistogramVec = stub.HistogramVecIgnore{}
	MetricLogin      stub.CounterVec   = stub.CounterVecIgnore{}
	MetricConnection stub.CounterVec   = stub.CounterVecIgnore{}
	MetricPanicInc                     = func() {}
)

// AuthMode indicates whether TLS is used for the connection.
type AuthMode string

const (
	AuthPlain AuthMode = "Plain" // Unencrypted connection.
	AuthTLS   AuthMode = "SSL"   // TLS immediately after connecting.
)

// Account holds the parameters for connecting to a POP3 server and logging in.
type Account struct {
	Host     string // Domain name or IP address.
	Port     int
	Username string
	Password string
	Auth     AuthMode
}

// Conn is a POP3 client connection. A Conn is not safe for concurrent use.
type Conn struct {
	t       Transport
	log     mlog.Log
	lastlog time.Time
	account Account

	state     State
	timestamp string // From greeting, including angle brackets. Empty if absent.
	mechanism string // Mechanism used for successful login.

	// Set after an i/o or decode error, or after Close. The protocol is then out
	// of sync, and the error is returned for further commands.
	botched error

	cmd      string // Current command word, for errors and metrics.
	cmdStart time.Time
}

// New reads the greeting from t and returns a connection in state
// AUTHORIZATION.
//
// The APOP timestamp is extracted from the greeting. A greeting with -ERR
// results in an error of kind ErrServerRejected. The transport is not closed
// when New fails.
func New(elog *slog.Logger, t Transport, account Account) (rc *Conn, rerr error) {
	c := &Conn{
		t:       t,
		account: account,
		state:   StateBegin,
		lastlog: time.Now(),
	}
	c.log = mlog.New("pop3client", elog).WithFunc(func() []slog.Attr {
		now := time.Now()
		l := []slog.Attr{
			slog.Duration("delta", now.Sub(c.lastlog)),
		}
		c.lastlog = now
		return l
	})

	defer c.recover(&rerr)

	c.cmd = "greeting"
	c.cmdStart = time.Now()
	lines := c.xresponse(false)
	c.timestamp = parseTimestamp(lines[0])
	c.state = c.xtransition(eventGreeting)
	c.log.Debug("greeting read", slog.Bool("apoptimestamp", c.timestamp != ""))
	return c, nil
}

// State returns the current session state.
func (c *Conn) State() State {
	return c.state
}

// Timestamp returns the APOP timestamp from the greeting, including angle
// brackets, or an empty string if the greeting did not have one.
func (c *Conn) Timestamp() string {
	return c.timestamp
}

// AuthMechanism returns "USER" or "APOP" after a successful login, and an empty
// string otherwise.
func (c *Conn) AuthMechanism() string {
	return c.mechanism
}

func (c *Conn) recover(rerr *error) {
	x := recover()
	if x == nil {
		return
	}
	cerr, ok := x.(Error)
	if !ok {
		MetricPanicInc()
		panic(x)
	}
	*rerr = cerr
}

func (c *Conn) errorf(kind error, line, format string, args ...any) Error {
	return Error{Kind: kind, Command: c.cmd, Line: line, Err: fmt.Errorf(format, args...)}
}

// xbotchf panics with an error after marking the connection as botched, for i/o
// and decode errors.
func (c *Conn) xbotchf(kind error, format string, args ...any) {
	err := c.errorf(kind, "", format, args...)
	c.botched = err
	panic(err)
}

func (c *Conn) xtransition(ev event) State {
	s, err := transition(c.state, ev)
	if err != nil {
		err := err.(Error)
		err.Command = c.cmd
		panic(err)
	}
	return s
}

// xcheckState panics with an ErrInvalidState error if ev is not allowed in the
// current state. No i/o is done.
func (c *Conn) xcheckState(ev event) {
	c.xtransition(ev)
}

func (c *Conn) xreadline() string {
	line, err := c.t.ReadLine()
	if err != nil {
		c.xbotchf(ErrTransport, "read: %w", err)
	}
	if !utf8.ValidString(line) {
		c.xbotchf(ErrDecode, "invalid utf-8 in %d byte line", len(line))
	}
	return line
}

func (c *Conn) xwriteline(line string) {
	if err := c.t.WriteLine(line); err != nil {
		c.xbotchf(ErrTransport, "%w", err)
	}
}

// xresponse reads a response. The status line is checked. For multi-line
// responses with an +OK status, lines are read until the terminating ".", which
// is not returned. Line endings are kept.
func (c *Conn) xresponse(multiline bool) []string {
	line := c.xreadline()
	ok, text, err := parseStatus(line)
	if err != nil {
		// Without a valid status line we cannot know where the response ends.
		perr := err.(Error)
		perr.Command = c.cmd
		c.botched = perr
		c.observe("error")
		panic(perr)
	}
	if !ok {
		c.observe("rejected")
		panic(Error{Kind: ErrServerRejected, Command: c.cmd, Line: trimEOL(line), Text: text})
	}
	lines := []string{line}
	for multiline {
		line := c.xreadline()
		if line == ".\r\n" {
			break
		}
		lines = append(lines, line)
	}
	c.observe("ok")
	return lines
}

func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}

func (c *Conn) observe(result string) {
	MetricCommands.ObserveLabels(float64(time.Since(c.cmdStart))/float64(time.Second), c.cmd, result)
}

// xcommand writes a command with optional parameter and reads the response.
// The response is multi-line only for LIST without parameter.
func (c *Conn) xcommand(cmd, param string) []string {
	if c.botched != nil {
		panic(c.botched)
	}

	c.cmd = cmd
	c.cmdStart = time.Now()
	if strings.ContainsAny(cmd, "\r\n") || strings.ContainsAny(param, "\r\n") {
		panic(c.errorf(ErrProtocol, "", "cr or lf in command line"))
	}
	line := cmd
	if param != "" {
		line += " " + param
	}
	c.xwriteline(line)
	return c.xresponse(cmd == "LIST" && param == "")
}

// xcommandAuth is like xcommand, but logs the command at traceauth level since
// it contains credentials.
func (c *Conn) xcommandAuth(cmd, param string) []string {
	if tr, ok := c.t.(tracer); ok {
		tr.SetTrace(mlog.LevelTraceauth)
		defer tr.SetTrace(mlog.LevelTrace)
	}
	return c.xcommand(cmd, param)
}

// SendCommand writes a command, with a parameter if param is not empty, and
// returns the lines of the response, including line endings. The response is
// read as multi-line only for LIST without parameter, the terminating "." line
// is not returned.
//
// A -ERR response results in an error of kind ErrServerRejected, with the text
// from the server in the Text field. The status line must start with "+OK" or
// "-ERR", followed by a space and text, or by the line ending only: a bare
// "+OK" is accepted. Other status lines result in an error of kind ErrProtocol,
// and the connection cannot be used anymore.
//
// A cmd or param with CR or LF results in an error of kind ErrProtocol, without
// writing to the connection.
//
// SendCommand does not check or change the session state.
func (c *Conn) SendCommand(cmd, param string) (lines []string, rerr error) {
	defer c.recover(&rerr)
	return c.xcommand(cmd, param), nil
}

// Close closes the connection without sending QUIT. Further operations return an
// error of kind ErrTransport.
func (c *Conn) Close() error {
	if c.t == nil {
		return Error{Kind: ErrTransport, Command: "close", Err: ErrClosed}
	}
	err := c.t.Close()
	c.t = nil
	c.botched = Error{Kind: ErrTransport, Err: ErrClosed}
	return err
}
