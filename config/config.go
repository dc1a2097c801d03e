// Package config holds the definition of the popbox configuration file, and
// parses and checks it.
//
// The config file is in "sconf" format: indent with tabs, comments on their own
// lines starting with "#", values are not quoted. See
// https://pkg.go.dev/github.com/mjl-/sconf. Run "popbox config describe" for an
// annotated example.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/mjl-/sconf"
	"golang.org/x/text/secure/precis"

	"github.com/popbox/popbox/dns"
	"github.com/popbox/popbox/mlog"
	"github.com/popbox/popbox/pop3client"
)

// DefaultCheckInterval is the interval between checks by "popbox watch" if
// none is configured.
const DefaultCheckInterval = 5 * time.Minute

// Config is the parsed form of popbox.conf.
type Config struct {
	DataDir          string             `sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDirectory where the snapshot database is stored. If this is a relative path, it is relative to the directory of popbox.conf."`
	LogLevel         string             `sconf-doc:"Default log level, one of: error, info, debug, trace, traceauth, tracedata. Trace logs POP3 protocol transcripts, with traceauth also the lines with passwords."`
	PackageLogLevels map[string]string  `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. pop3client, dns, snapshotdb, main)."`
	MetricsListen    string             `sconf:"optional" sconf-doc:"Address to serve Prometheus metrics on, at /metrics, while running \"popbox watch\", e.g. localhost:8010."`
	CheckInterval    time.Duration      `sconf:"optional" sconf-doc:"Interval between checks of all accounts by \"popbox watch\", e.g. 10m. Default 5m."`
	Accounts         map[string]Account `sconf-doc:"POP3 accounts to check. The key is a name used on the command-line and in metrics."`

	// Set by Prepare.
	Log map[string]slog.Level `sconf:"-"` // Log levels, with "" for the default.
	Dir string                `sconf:"-"` // Directory of the config file.
}

// Account is a POP3 account to check.
type Account struct {
	Host     string        `sconf-doc:"Host name or IP address of POP3 server."`
	Port     int           `sconf:"optional" sconf-doc:"Port to connect to. Default 110 for Plain, 995 for SSL."`
	Username string        `sconf-doc:"Username for USER or APOP authentication."`
	Password string        `sconf-doc:"Password, sent with PASS, or used to compute the APOP digest."`
	Auth     string        `sconf-doc:"Connection security, Plain for unencrypted connections, SSL for TLS immediately after connecting."`
	Timeout  time.Duration `sconf:"optional" sconf-doc:"Deadline for each read and write on the connection, e.g. 1m. Default 30s."`

	HostIPDomain dns.IPDomain `sconf:"-"` // Parsed form of Host.
}

// POP3Account returns the connection parameters for pop3client.
func (a Account) POP3Account() pop3client.Account {
	return pop3client.Account{
		Host:     a.Host,
		Port:     a.Port,
		Username: a.Username,
		Password: a.Password,
		Auth:     pop3client.AuthMode(a.Auth),
	}
}

// AccountNames returns the configured account names, sorted.
func (c *Config) AccountNames() []string {
	l := make([]string, 0, len(c.Accounts))
	for name := range c.Accounts {
		l = append(l, name)
	}
	slices.Sort(l)
	return l
}

// DataDirPath returns the path of a file in the data directory.
func (c *Config) DataDirPath(name string) string {
	dir := c.DataDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.Dir, dir)
	}
	return filepath.Join(dir, name)
}

// ParseFile reads and checks the config file at path p. On parse errors, a
// single error is returned. Otherwise all problems found are returned.
func ParseFile(p string) (*Config, []error) {
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) && os.Getenv("POPBOXCONF") == "" {
			return nil, []error{fmt.Errorf("open config file: %v (hint: use popbox -config ... or set POPBOXCONF=...)", err)}
		}
		return nil, []error{fmt.Errorf("open config file: %v", err)}
	}
	defer f.Close()
	return Parse(f, p)
}

// Parse reads a config from r, with p the path used for resolving relative
// paths and in error messages.
func Parse(r io.Reader, p string) (*Config, []error) {
	c := &Config{}
	if err := sconf.Parse(r, c); err != nil {
		return nil, []error{fmt.Errorf("parsing %s%v", p, err)}
	}
	c.Dir = filepath.Dir(p)
	if errs := c.Prepare(); len(errs) > 0 {
		return nil, errs
	}
	return c, nil
}

// Prepare checks the config, and sets default values and parsed fields.
func (c *Config) Prepare() (errs []error) {
	addErrorf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if logLevel, ok := mlog.Levels[c.LogLevel]; ok {
		c.Log = map[string]slog.Level{"": logLevel}
	} else {
		c.Log = map[string]slog.Level{"": mlog.LevelError}
		addErrorf("invalid log level %q", c.LogLevel)
	}
	for pkg, s := range c.PackageLogLevels {
		if logLevel, ok := mlog.Levels[s]; ok {
			c.Log[pkg] = logLevel
		} else {
			addErrorf("invalid package log level %q", s)
		}
	}

	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	} else if c.CheckInterval < 0 {
		addErrorf("check interval must be positive")
	}

	if len(c.Accounts) == 0 {
		addErrorf("no accounts configured")
	}
	for _, name := range c.AccountNames() {
		acc := c.Accounts[name]
		accErrorf := func(format string, args ...any) {
			addErrorf("account %s: %s", name, fmt.Sprintf(format, args...))
		}

		var err error
		acc.HostIPDomain, err = dns.ParseIPDomain(acc.Host)
		if err != nil {
			accErrorf("parsing host %q: %v", acc.Host, err)
		}

		switch pop3client.AuthMode(acc.Auth) {
		case pop3client.AuthPlain:
			if acc.Port == 0 {
				acc.Port = 110
			}
		case pop3client.AuthTLS:
			if acc.Port == 0 {
				acc.Port = 995
			}
		default:
			accErrorf("unknown auth %q, must be Plain or SSL", acc.Auth)
		}
		if acc.Port < 0 || acc.Port > 65535 {
			accErrorf("invalid port %d", acc.Port)
		}

		if acc.Username == "" {
			accErrorf("missing username")
		} else if s, err := precis.UsernameCasePreserved.String(acc.Username); err != nil {
			accErrorf("invalid username %q: %v", acc.Username, err)
		} else if s != acc.Username {
			accErrorf("username %q is not in normalized form, should be %q", acc.Username, s)
		}
		if _, err := precis.OpaqueString.String(acc.Password); err != nil {
			accErrorf("invalid password: %v", err)
		}

		if acc.Timeout < 0 {
			accErrorf("timeout must be positive")
		} else if acc.Timeout == 0 {
			acc.Timeout = pop3client.DefaultTimeout
		}

		c.Accounts[name] = acc
	}
	return errs
}
