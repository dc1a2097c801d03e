package config

import (
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/popbox/popbox/mlog"
	"github.com/popbox/popbox/pop3client"
)

const example = `DataDir: data
LogLevel: info
PackageLogLevels:
	pop3client: trace
CheckInterval: 10m
Accounts:
	work:
		Host: pop.example
		Username: mjl
		Password: tanstaaf
		Auth: SSL
	home:
		Host: 192.0.2.1
		Port: 1110
		Username: mjl@home.example
		Password: secret
		Auth: Plain
		Timeout: 1m
`

func TestParse(t *testing.T) {
	c, errs := Parse(strings.NewReader(example), "/etc/popbox/popbox.conf")
	if len(errs) > 0 {
		t.Fatalf("parse: %v", errs)
	}

	expLog := map[string]slog.Level{"": mlog.LevelInfo, "pop3client": mlog.LevelTrace}
	if !reflect.DeepEqual(c.Log, expLog) {
		t.Fatalf("got log levels %v, expected %v", c.Log, expLog)
	}
	if c.CheckInterval != 10*time.Minute {
		t.Fatalf("got check interval %v", c.CheckInterval)
	}
	if names := c.AccountNames(); !reflect.DeepEqual(names, []string{"home", "work"}) {
		t.Fatalf("got account names %v", names)
	}
	if p := c.DataDirPath("snapshots.db"); p != filepath.FromSlash("/etc/popbox/data/snapshots.db") {
		t.Fatalf("got data dir path %q", p)
	}

	work := c.Accounts["work"]
	if work.Port != 995 || work.Timeout != pop3client.DefaultTimeout || work.HostIPDomain.Domain.ASCII != "pop.example" {
		t.Fatalf("got account %#v", work)
	}
	exp := pop3client.Account{Host: "pop.example", Port: 995, Username: "mjl", Password: "tanstaaf", Auth: pop3client.AuthTLS}
	if acc := work.POP3Account(); acc != exp {
		t.Fatalf("got pop3 account %#v, expected %#v", acc, exp)
	}

	home := c.Accounts["home"]
	if home.Port != 1110 || home.Timeout != time.Minute || !home.HostIPDomain.IsIP() {
		t.Fatalf("got account %#v", home)
	}
}

func TestCheck(t *testing.T) {
	test := func(conf string, expErrs ...string) {
		t.Helper()
		_, errs := Parse(strings.NewReader(conf), "popbox.conf")
		if len(errs) != len(expErrs) {
			t.Fatalf("got errors %v, expected %d errors", errs, len(expErrs))
		}
		for i, err := range errs {
			if !strings.Contains(err.Error(), expErrs[i]) {
				t.Fatalf("got error %q, expected %q", err, expErrs[i])
			}
		}
	}

	// Syntax error, and missing required fields.
	test("DataDir data\n", "parsing popbox.conf")
	test("DataDir: data\nLogLevel: info\n", "parsing popbox.conf")

	test(`DataDir: .
LogLevel: verbose
PackageLogLevels:
	dns: loud
Accounts:
	bad:
		Host: bad host.example
		Port: 70000
		Username: user name
		Password: secret
		Auth: STARTTLS
`,
		`invalid log level "verbose"`,
		`invalid package log level "loud"`,
		"account bad: parsing host",
		`account bad: unknown auth "STARTTLS"`,
		"account bad: invalid port 70000",
		`account bad: invalid username "user name"`,
	)

	test(`DataDir: .
LogLevel: info
Accounts:
	x:
		Host: pop.example
		Username: mjl
		Password: secret
		Auth: Plain
		Timeout: -1s
`,
		"account x: timeout must be positive",
	)

	// Usernames must be in normalized form, they are sent as is.
	test(`DataDir: .
LogLevel: info
Accounts:
	x:
		Host: pop.example
		Username: ｍｊｌ
		Password: secret
		Auth: Plain
`,
		`account x: username "ｍｊｌ" is not in normalized form, should be "mjl"`,
	)
}
