package pop3client

import (
	"context"
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"math/big"
	"net"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/popbox/popbox/dns"
)

func fakeCert(t *testing.T, name string) tls.Certificate {
	t.Helper()
	privKey := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)) // Fake key, don't use this for real!
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1), // Required field...
		DNSNames:     []string{name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	localCertBuf, err := x509.CreateCertificate(cryptorand.Reader, template, template, privKey.Public(), privKey)
	if err != nil {
		t.Fatalf("making certificate: %s", err)
	}
	cert, err := x509.ParseCertificate(localCertBuf)
	if err != nil {
		t.Fatalf("parsing generated certificate: %s", err)
	}
	c := tls.Certificate{
		Certificate: [][]byte{localCertBuf},
		PrivateKey:  privKey,
		Leaf:        cert,
	}
	return c
}

// testDial makes Dial use a net.Pipe, with the server side sent on the returned
// channel.
func testDial(t *testing.T) (chan net.Conn, *[]string) {
	t.Helper()
	servers := make(chan net.Conn, 1)
	var addrs []string
	DialHook = func(ctx context.Context, dialer Dialer, timeout time.Duration, addr string) (net.Conn, error) {
		addrs = append(addrs, addr)
		if addr == "10.0.0.9:995" {
			return nil, errors.New("connection refused")
		}
		clientConn, serverConn := net.Pipe()
		servers <- serverConn
		return clientConn, nil
	}
	t.Cleanup(func() {
		DialHook = nil
	})
	return servers, &addrs
}

func TestDialTLS(t *testing.T) {
	ctx := context.Background()
	servers, addrs := testDial(t)

	resolver := dns.MockResolver{
		A: map[string][]string{"pop.example.": {"10.0.0.9", "10.0.0.1"}},
	}

	cert := fakeCert(t, "pop.example")
	roots := x509.NewCertPool()
	roots.AddCert(cert.Leaf)

	var handshakes atomic.Int32
	serverConfig := &tls.Config{
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			handshakes.Add(1)
			if hello.ServerName != "pop.example" {
				return nil, errors.New("unexpected server name " + hello.ServerName)
			}
			return nil, nil
		},
		Certificates: []tls.Certificate{cert},
	}

	result := make(chan error, 1)
	go func() {
		serverConn := <-servers
		tlsConn := tls.Server(serverConn, serverConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			result <- err
			return
		}
		result <- <-fakeServer(tlsConn, greeting,
			[2]string{"USER mjl", "+OK\r\n"},
			[2]string{"PASS tanstaaf", "+OK\r\n"},
			[2]string{"STAT", "+OK 3 1024\r\n"},
		)
	}()

	acc := account
	acc.Auth = AuthTLS
	acc.Port = 995
	c, err := Dial(ctx, nil, &net.Dialer{}, resolver, acc, Opts{Timeout: 5 * time.Second, TLSConfig: &tls.Config{RootCAs: roots}})
	tcheck(t, err, "dial")
	tcheck(t, c.Login(), "login")
	stat, err := c.Stat()
	tcheck(t, err, "stat")
	if stat != (MailboxStat{3, 1024}) {
		t.Fatalf("got stat %#v", stat)
	}
	tcheck(t, <-result, "server")
	c.Close()

	if n := handshakes.Load(); n != 1 {
		t.Fatalf("got %d tls handshakes, expected 1", n)
	}
	// First IP refuses connections.
	exp := []string{"10.0.0.9:995", "10.0.0.1:995"}
	if !reflect.DeepEqual(*addrs, exp) {
		t.Fatalf("dialed %v, expected %v", *addrs, exp)
	}
}

func TestDialErrors(t *testing.T) {
	ctx := context.Background()
	servers, _ := testDial(t)

	resolver := dns.MockResolver{
		A:    map[string][]string{"pop.example.": {"10.0.0.1"}},
		Fail: []string{"ipaddr temp.example."},
	}

	test := func(acc Account, expErr error) error {
		t.Helper()
		_, err := Dial(ctx, nil, &net.Dialer{}, resolver, acc, Opts{})
		terr(t, err, expErr)
		return err
	}

	acc := account
	acc.Auth = "STARTTLS"
	test(acc, ErrTransport)

	acc = account
	acc.Port = 0
	test(acc, ErrTransport)

	acc = account
	acc.Host = "temp.example"
	err := test(acc, ErrTransport)
	if dns.IsNotFound(err) || strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("temporary dns failure reported as absent host: %v", err)
	}

	acc = account
	acc.Host = "nxdomain.example"
	err = test(acc, ErrTransport)
	if !dns.IsNotFound(err) || !strings.Contains(err.Error(), "host nxdomain.example does not exist") {
		t.Fatalf("got err %v, expected absent host", err)
	}

	// Certificate not trusted, handshake fails.
	go func() {
		serverConn := <-servers
		tlsConn := tls.Server(serverConn, &tls.Config{Certificates: []tls.Certificate{fakeCert(t, "pop.example")}})
		tlsConn.Handshake()
		tlsConn.Close()
	}()
	acc = account
	acc.Auth = AuthTLS
	_, err = Dial(ctx, nil, &net.Dialer{}, resolver, acc, Opts{Timeout: time.Second})
	terr(t, err, ErrTransport)
	var verr *tls.CertificateVerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("got err %v, expected certificate verification error", err)
	}

	// Greeting rejected, connection closed.
	go func() {
		serverConn := <-servers
		fakeServer(serverConn, "-ERR too busy\r\n")
	}()
	_, err = Dial(ctx, nil, &net.Dialer{}, resolver, account, Opts{Timeout: time.Second})
	terr(t, err, ErrServerRejected)

	// IP address as host, no dns lookup.
	go func() {
		serverConn := <-servers
		fakeServer(serverConn, greeting)
	}()
	acc = account
	acc.Host = "10.0.0.2"
	c, err := Dial(ctx, nil, &net.Dialer{}, dns.MockResolver{}, acc, Opts{Timeout: time.Second})
	tcheck(t, err, "dial ip")
	c.Close()
}
