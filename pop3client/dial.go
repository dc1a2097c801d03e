package pop3client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/popbox/popbox/dns"
	"github.com/popbox/popbox/mlog"
	"github.com/popbox/popbox/pio"
)

// DialHook can be used during tests to override the regular dialer from being used.
var DialHook func(ctx context.Context, dialer Dialer, timeout time.Duration, addr string) (net.Conn, error)

func dial(ctx context.Context, dialer Dialer, timeout time.Duration, addr string) (net.Conn, error) {
	if DialHook != nil {
		return DialHook(ctx, dialer, timeout, addr)
	}

	// If this is a net.Dialer, use its settings and add the timeout.
	if d, ok := dialer.(*net.Dialer); ok {
		nd := *d
		nd.Timeout = timeout
		return nd.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// Dialer is used to dial POP3 servers, an interface to facilitate testing.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (c net.Conn, err error)
}

// Opts influences behaviour of Dial.
type Opts struct {
	// Read/write deadline for each line, and timeout for the TLS handshake. If 0,
	// DefaultTimeout is used.
	Timeout time.Duration

	// If set, used as TLS config for Auth mode SSL instead of the default config.
	// ServerName is set to the host name if empty.
	TLSConfig *tls.Config
}

// Dial connects to the server of account, with TLS for auth mode SSL, reads the
// greeting and returns a connection in state AUTHORIZATION.
//
// The host is resolved with resolver, unless it is an IP address. IPs are dialed
// in order until a connection succeeds.
//
// Errors have kind ErrTransport for failures to connect, resolve or complete
// the TLS handshake.
//
// A connection id stored in ctx under mlog.CidKey is added to log lines of the
// connection.
func Dial(ctx context.Context, elog *slog.Logger, dialer Dialer, resolver dns.Resolver, account Account, opts Opts) (rc *Conn, rerr error) {
	log := mlog.New("pop3client", elog).WithContext(ctx)
	elog = log.Logger

	mode := account.Auth
	defer func() {
		result := "ok"
		if rerr != nil {
			result = "error"
		}
		MetricConnection.IncLabels(string(mode), result)
	}()

	if mode != AuthPlain && mode != AuthTLS {
		return nil, Error{Kind: ErrTransport, Err: fmt.Errorf("unknown auth mode %q", mode)}
	}
	if account.Port <= 0 || account.Port > 65535 {
		return nil, Error{Kind: ErrTransport, Err: fmt.Errorf("invalid port %d", account.Port)}
	}
	host, err := dns.ParseIPDomain(account.Host)
	if err != nil {
		return nil, Error{Kind: ErrTransport, Err: fmt.Errorf("parsing host: %w", err)}
	}

	var ips []net.IP
	if host.IsIP() {
		ips = []net.IP{host.IP}
	} else {
		addrs, _, err := resolver.LookupIPAddr(ctx, host.Domain.ASCII+".")
		if err != nil && dns.IsNotFound(err) {
			return nil, Error{Kind: ErrTransport, Err: fmt.Errorf("host %s does not exist: %w", host, err)}
		} else if err != nil {
			return nil, Error{Kind: ErrTransport, Err: fmt.Errorf("resolving %s: %w", host, err)}
		}
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
		if len(ips) == 0 {
			return nil, Error{Kind: ErrTransport, Err: fmt.Errorf("no ips for %s", host)}
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialTimeout := timeout
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(deadline) / time.Duration(len(ips))
	}

	var conn net.Conn
	var lastErr error
	for _, ip := range ips {
		addr := net.JoinHostPort(ip.String(), strconv.Itoa(account.Port))
		log.Debug("dialing host", slog.String("addr", addr))
		conn, lastErr = dial(ctx, dialer, dialTimeout, addr)
		if lastErr == nil {
			log.Debug("connected to host", slog.Any("host", host), slog.String("addr", addr))
			break
		}
		log.Debugx("connection attempt", lastErr, slog.Any("host", host), slog.String("addr", addr))
	}
	if lastErr != nil {
		return nil, Error{Kind: ErrTransport, Err: fmt.Errorf("dialing %s: %w", host, lastErr)}
	}

	var t Transport
	switch mode {
	case AuthPlain:
		t = NewPlainTransport(elog, conn, timeout)
	case AuthTLS:
		config := &tls.Config{}
		if opts.TLSConfig != nil {
			config = opts.TLSConfig.Clone()
		}
		if config.ServerName == "" {
			if host.IsDomain() {
				config.ServerName = host.Domain.ASCII
			} else {
				config.ServerName = host.IP.String()
			}
		}
		tt, err := NewTLSTransport(ctx, elog, conn, config, timeout)
		if err != nil {
			return nil, Error{Kind: ErrTransport, Err: err}
		}
		t = tt
	}

	c, err := New(elog, t, account)
	if err != nil {
		if xerr := t.Close(); xerr != nil && !pio.IsClosed(xerr) {
			log.Debugx("closing connection after failed greeting", xerr)
		}
		return nil, err
	}
	return c, nil
}
