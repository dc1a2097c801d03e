package pop3client

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseMailboxStat(t *testing.T) {
	test := func(line string, exp MailboxStat, expErr bool) {
		t.Helper()
		stat, err := ParseMailboxStat(line)
		if (err != nil) != expErr {
			t.Fatalf("parse %q: got err %v, expected error %v", line, err, expErr)
		}
		if err != nil && !errors.Is(err, ErrProtocol) {
			t.Fatalf("parse %q: got err %v, expected ErrProtocol", line, err)
		}
		if stat != exp {
			t.Fatalf("parse %q: got %#v, expected %#v", line, stat, exp)
		}
	}

	test("2 320", MailboxStat{2, 320}, false)
	test("+OK 2 320\r\n", MailboxStat{2, 320}, false)
	test("+OK 0 0\r\n", MailboxStat{}, false)
	test("+OK 1 18446744073709551615\r\n", MailboxStat{1, 18446744073709551615}, false)
	test("abc", MailboxStat{}, true)
	test("", MailboxStat{}, true)
	test("+OK 2\r\n", MailboxStat{}, true)
	test("+OK 4294967296 10\r\n", MailboxStat{}, true)      // Count overflows uint32.
	test("+OK 1 18446744073709551616\r\n", MailboxStat{}, true) // Size overflows uint64.
}

func TestParseMailboxListing(t *testing.T) {
	test := func(lines []string, exp MailboxListing, expErr bool) {
		t.Helper()
		l, err := ParseMailboxListing(lines)
		if (err != nil) != expErr {
			t.Fatalf("parse %q: got err %v, expected error %v", lines, err, expErr)
		}
		if err != nil && !errors.Is(err, ErrProtocol) {
			t.Fatalf("parse %q: got err %v, expected ErrProtocol", lines, err)
		}
		if !reflect.DeepEqual(l, exp) {
			t.Fatalf("parse %q: got %#v, expected %#v", lines, l, exp)
		}
	}

	test([]string{"+OK 2 messages (320 octets)\r\n", "1 120\r\n", "2 200\r\n"}, MailboxListing{
		Summary:  &MailboxStat{2, 320},
		Messages: []MessageMetadata{{1, 120}, {2, 200}},
	}, false)

	// Single line, response to LIST with message number.
	test([]string{"+OK 3 1500\r\n"}, MailboxListing{Messages: []MessageMetadata{{3, 1500}}}, false)

	test(nil, MailboxListing{}, true)
	test([]string{"+OK listing follows\r\n", "1 120\r\n"}, MailboxListing{}, true)
	// Bad lines are not skipped.
	test([]string{"+OK 2 messages (320 octets)\r\n", "1 120\r\n", "bogus\r\n"}, MailboxListing{}, true)
	test([]string{"+OK\r\n"}, MailboxListing{}, true)
}

func TestParseStatus(t *testing.T) {
	test := func(line string, expOK bool, expText string, expErr bool) {
		t.Helper()
		ok, text, err := parseStatus(line)
		if (err != nil) != expErr {
			t.Fatalf("status %q: got err %v, expected error %v", line, err, expErr)
		}
		if ok != expOK || text != expText {
			t.Fatalf("status %q: got %v %q, expected %v %q", line, ok, text, expOK, expText)
		}
	}

	test("+OK done\r\n", true, "done", false)
	test("-ERR bad login\r\n", false, "bad login", false)
	test("+OK\r\n", true, "", false)
	test("-ERR\r\n", false, "", false)
	test("+OKAY\r\n", false, "", true)
	test("* OK imap\r\n", false, "", true)
	test("ok done\r\n", false, "", true)
}

func TestParseTimestamp(t *testing.T) {
	test := func(greeting, exp string) {
		t.Helper()
		if ts := parseTimestamp(greeting); ts != exp {
			t.Fatalf("timestamp from %q: got %q, expected %q", greeting, ts, exp)
		}
	}

	test("+OK POP3 ready <1896.697170952@dbc.mtview.ca.us>\r\n", "<1896.697170952@dbc.mtview.ca.us>")
	test("+OK POP3 ready\r\n", "")
	test("+OK <a> trailing\r\n", "")
	test("+OK POP3 ready <1896.697170952@dbc.mtview.ca.us>\n", "")
}
