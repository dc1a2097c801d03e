package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/text/secure/precis"

	"github.com/popbox/popbox/config"
	"github.com/popbox/popbox/dns"
	"github.com/popbox/popbox/metrics"
	"github.com/popbox/popbox/mlog"
	"github.com/popbox/popbox/pio"
	"github.com/popbox/popbox/pop3client"
	"github.com/popbox/popbox/snapshotdb"
)

// Used for dialing and resolving, tests replace them.
var dialer pop3client.Dialer = &net.Dialer{}
var resolver dns.Resolver = dns.StrictResolver{Pkg: "pop3client"}

var connectionID atomic.Int64

// connect dials the server of the named account and logs in. Log lines of the
// connection get a new connection id.
func connect(ctx context.Context, log mlog.Log, conf *config.Config, name string) (*pop3client.Conn, error) {
	acc, ok := conf.Accounts[name]
	if !ok {
		return nil, fmt.Errorf("unknown account %q", name)
	}

	ctx = context.WithValue(ctx, mlog.CidKey, connectionID.Add(1))
	clog := log.WithContext(ctx)
	clog.Debug("connecting", slog.String("account", name), slog.String("host", acc.HostIPDomain.LogString()), slog.Int("port", acc.Port), slog.String("auth", acc.Auth))
	opts := pop3client.Opts{Timeout: acc.Timeout}
	conn, err := pop3client.Dial(ctx, log.Logger, dialer, resolver, acc.POP3Account(), opts)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	if err := conn.Login(); err != nil {
		closeConn(clog, conn)
		return nil, fmt.Errorf("login: %w", err)
	}
	clog.Debug("logged in", slog.String("account", name), slog.String("mechanism", conn.AuthMechanism()))
	return conn, nil
}

func xconnect(c *cmd, conf *config.Config, name string) *pop3client.Conn {
	conn, err := connect(context.Background(), c.log, conf, name)
	xcheckf(err, "account %s", name)
	return conn
}

// closeConn closes conn, logging errors unless the connection was already gone.
func closeConn(log mlog.Log, conn *pop3client.Conn) {
	err := conn.Close()
	if err != nil && pio.IsClosed(err) {
		log.Debugx("closing dead connection", err)
		return
	}
	log.Check(err, "closing connection")
}

func cmdLogin(c *cmd) {
	c.params = "account"
	c.help = `Connect to the POP3 server of the account and log in.

Authentication is attempted with USER and PASS first. If the server rejects
USER, APOP is attempted with the timestamp from the greeting. The mechanism
that succeeded is printed.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	conf := mustLoadConfig()
	conn := xconnect(c, conf, args[0])
	defer closeConn(c.log, conn)
	fmt.Printf("logged in with %s\n", conn.AuthMechanism())
}

func cmdStat(c *cmd) {
	c.params = "account"
	c.help = `Print the number of messages and total size of the mailbox of the account.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	conf := mustLoadConfig()
	conn := xconnect(c, conf, args[0])
	defer closeConn(c.log, conn)
	stat, err := conn.Stat()
	xcheckf(err, "stat")
	fmt.Printf("%d messages, %d bytes\n", stat.Count, stat.Size)
}

func cmdList(c *cmd) {
	c.params = "account [msgnum]"
	c.help = `List the messages in the mailbox of the account with their sizes.

If a message number is given, only the size of that message is printed.
`
	args := c.Parse()
	if len(args) != 1 && len(args) != 2 {
		c.Usage()
	}
	var msgnum uint32
	if len(args) == 2 {
		v, err := strconv.ParseUint(args[1], 10, 32)
		xcheckf(err, "parsing message number")
		msgnum = uint32(v)
	}

	conf := mustLoadConfig()
	conn := xconnect(c, conf, args[0])
	defer closeConn(c.log, conn)

	var listing pop3client.MailboxListing
	var err error
	if msgnum > 0 {
		listing, err = conn.ListMessage(msgnum)
	} else {
		listing, err = conn.List()
	}
	xcheckf(err, "list")
	if listing.Summary != nil {
		fmt.Printf("%d messages, %d bytes\n", listing.Summary.Count, listing.Summary.Size)
	}
	for _, m := range listing.Messages {
		fmt.Printf("%d %d\n", m.ID, m.Size)
	}
}

// checkResult is the outcome of checking the mailbox of an account.
type checkResult struct {
	Account  string
	Stat     pop3client.MailboxStat
	New      uint32 // Messages added since previous snapshot.
	Previous *snapshotdb.Snapshot
}

// checkAccount fetches the mailbox statistics of an account, stores a snapshot
// and compares it with the previous snapshot.
func checkAccount(ctx context.Context, log mlog.Log, conf *config.Config, db *snapshotdb.DB, name string) (r checkResult, rerr error) {
	defer func() {
		result := "ok"
		if rerr != nil {
			result = "error"
		}
		metrics.CheckInc(name, result)
	}()

	r.Account = name
	conn, err := connect(ctx, log, conf, name)
	if err != nil {
		return r, err
	}
	defer closeConn(log, conn)

	r.Stat, err = conn.Stat()
	if err != nil {
		return r, fmt.Errorf("stat: %w", err)
	}
	metrics.MailboxSet(name, r.Stat.Count, r.Stat.Size)

	prev, err := db.Last(ctx, name)
	if err == nil {
		r.Previous = &prev
		r.New = snapshotdb.NewMessages(prev.Stat(), r.Stat)
	} else if !errors.Is(err, snapshotdb.ErrNotFound) {
		return r, fmt.Errorf("looking up previous snapshot: %w", err)
	}
	if _, err := db.Add(ctx, name, r.Stat); err != nil {
		return r, fmt.Errorf("storing snapshot: %w", err)
	}
	log.Info("account checked",
		slog.String("account", name),
		slog.Any("count", r.Stat.Count),
		slog.Any("size", r.Stat.Size),
		slog.Any("new", r.New))
	return r, nil
}

func openDB(ctx context.Context, log mlog.Log, conf *config.Config) *snapshotdb.DB {
	p := conf.DataDirPath("snapshots.db")
	db, err := snapshotdb.Open(ctx, log.Logger, p)
	xcheckf(err, "open snapshot database %s", absPath(p))
	return db
}

func cmdCheck(c *cmd) {
	c.params = "[account ...]"
	c.help = `Check the mailboxes of accounts, and print the number of new messages.

Accounts are checked one after the other. Without parameters, all accounts are
checked. The statistics are stored in the snapshot database in the data
directory, and compared against the previous check for the account to determine
the number of new messages.

The exit status is 1 if one or more checks failed.
`
	args := c.Parse()
	conf := mustLoadConfig()
	if len(args) == 0 {
		args = conf.AccountNames()
	}
	for _, name := range args {
		if _, ok := conf.Accounts[name]; !ok {
			log.Fatalf("unknown account %q", name)
		}
	}

	ctx := context.Background()
	db := openDB(ctx, c.log, conf)
	defer func() {
		err := db.Close()
		c.log.Check(err, "closing snapshot database")
	}()

	var failed bool
	for _, name := range args {
		r, err := checkAccount(ctx, c.log, conf, db, name)
		if err != nil {
			fmt.Printf("%s: error: %v\n", name, err)
			failed = true
			continue
		}
		fmt.Printf("%s: %d messages, %d bytes, %d new\n", name, r.Stat.Count, r.Stat.Size, r.New)
	}
	if failed {
		db.Close()
		os.Exit(1)
	}
}

// checkAll checks all accounts, logging errors. Panics are logged and counted,
// and do not stop the remaining checks.
func checkAll(ctx context.Context, log mlog.Log, conf *config.Config, db *snapshotdb.DB) {
	for _, name := range conf.AccountNames() {
		if ctx.Err() != nil {
			return
		}
		func() {
			defer func() {
				x := recover()
				if x == nil {
					return
				}
				log.Error("unhandled panic while checking account", slog.String("account", name), slog.Any("panic", x))
				debug.PrintStack()
				metrics.PanicInc(metrics.Watch)
			}()
			_, err := checkAccount(ctx, log, conf, db, name)
			log.Check(err, "checking account", slog.String("account", name))
		}()
	}
}

func cmdWatch(c *cmd) {
	c.help = `Periodically check the mailboxes of all accounts.

Accounts are checked one after the other, every CheckInterval from the config
file. If MetricsListen is configured, Prometheus metrics are served on
/metrics, including the number of messages and size of each mailbox.

Stops on SIGINT or SIGTERM.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	conf := mustLoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := openDB(ctx, c.log, conf)
	defer func() {
		err := db.Close()
		c.log.Check(err, "closing snapshot database")
	}()

	if conf.MetricsListen != "" {
		srv, _, err := metrics.Serve(c.log.Logger, conf.MetricsListen)
		xcheckf(err, "serving metrics")
		defer srv.Close()
	}

	c.log.Print("watching accounts", slog.Int("accounts", len(conf.Accounts)), slog.Duration("interval", conf.CheckInterval))
	ticker := time.NewTicker(conf.CheckInterval)
	defer ticker.Stop()
	for {
		checkAll(ctx, c.log, conf, db)
		select {
		case <-ctx.Done():
			c.log.Print("stopping")
			return
		case <-ticker.C:
		}
	}
}

func cmdSnapshots(c *cmd) {
	c.params = "[-limit n] account"
	c.help = `Print the stored snapshots of the mailbox of an account, newest first.`
	var limit int
	c.flag.IntVar(&limit, "limit", 20, "maximum number of snapshots to print, 0 for all")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	conf := mustLoadConfig()
	if _, ok := conf.Accounts[args[0]]; !ok {
		log.Fatalf("unknown account %q", args[0])
	}

	ctx := context.Background()
	db := openDB(ctx, c.log, conf)
	defer func() {
		err := db.Close()
		c.log.Check(err, "closing snapshot database")
	}()
	l, err := db.List(ctx, args[0], limit)
	xcheckf(err, "listing snapshots")
	for _, s := range l {
		fmt.Printf("%s %d messages, %d bytes\n", s.Time.Format(time.RFC3339), s.Count, s.Size)
	}
}

func cmdAPOP(c *cmd) {
	c.params = "timestamp"
	c.help = `Print the APOP digest for a greeting timestamp and a password read from stdin.

The timestamp must include the angle brackets, e.g. <1896.697170952@dbc.mtview.ca.us>.
Useful for testing servers manually.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	pw := xreadpassword()
	fmt.Println(pop3client.APOPDigest(args[0], pw))
}

func xreadpassword() string {
	fmt.Fprintf(os.Stderr, "password: ")
	scanner := bufio.NewScanner(os.Stdin)
	// A missing newline at EOF is fine, scanner.Err is nil in that case.
	scanner.Scan()
	xcheckf(scanner.Err(), "reading stdin")
	pw, err := precis.OpaqueString.String(scanner.Text())
	xcheckf(err, "password not allowed by precis")
	return pw
}
