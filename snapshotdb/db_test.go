package snapshotdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/popbox/popbox/pop3client"
)

func tcheckf(t *testing.T, err error, format string, args ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", fmt.Sprintf(format, args...), err)
	}
}

func TestDB(t *testing.T) {
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	timeNow = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	defer func() {
		timeNow = time.Now
	}()

	db, err := Open(ctx, nil, filepath.Join(t.TempDir(), "data", "snapshots.db"))
	tcheckf(t, err, "open")
	defer func() {
		err := db.Close()
		tcheckf(t, err, "close")
	}()

	_, err = db.Last(ctx, "work")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got err %v, expected ErrNotFound", err)
	}

	_, err = db.Add(ctx, "work", pop3client.MailboxStat{Count: 2, Size: 320})
	tcheckf(t, err, "add")
	_, err = db.Add(ctx, "home", pop3client.MailboxStat{Count: 10, Size: 10000})
	tcheckf(t, err, "add")
	s, err := db.Add(ctx, "work", pop3client.MailboxStat{Count: 5, Size: 800})
	tcheckf(t, err, "add")
	if s.ID == 0 || s.Account != "work" {
		t.Fatalf("got snapshot %#v", s)
	}

	last, err := db.Last(ctx, "work")
	tcheckf(t, err, "last")
	if last.ID != s.ID || last.Stat() != (pop3client.MailboxStat{Count: 5, Size: 800}) {
		t.Fatalf("got last %#v, expected %#v", last, s)
	}

	l, err := db.List(ctx, "work", 0)
	tcheckf(t, err, "list")
	if len(l) != 2 || l[0].Count != 5 || l[1].Count != 2 {
		t.Fatalf("got list %#v", l)
	}
	l, err = db.List(ctx, "work", 1)
	tcheckf(t, err, "list with limit")
	if len(l) != 1 || l[0].ID != s.ID {
		t.Fatalf("got list %#v", l)
	}
	l, err = db.List(ctx, "other", 0)
	tcheckf(t, err, "list without snapshots")
	if len(l) != 0 {
		t.Fatalf("got list %#v, expected empty", l)
	}
}

func TestNewMessages(t *testing.T) {
	test := func(prev, cur uint32, exp uint32) {
		t.Helper()
		n := NewMessages(pop3client.MailboxStat{Count: prev}, pop3client.MailboxStat{Count: cur})
		if n != exp {
			t.Fatalf("new messages %d -> %d: got %d, expected %d", prev, cur, n, exp)
		}
	}
	test(0, 0, 0)
	test(2, 5, 3)
	test(5, 2, 0)
}
