// Package snapshotdb stores mailbox statistics of accounts over time.
//
// A snapshot is added after each successful STAT. The previous snapshot is used
// to report the number of new messages.
package snapshotdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mjl-/bstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/popbox/popbox/mlog"
	"github.com/popbox/popbox/pop3client"
	"github.com/popbox/popbox/popvar"
)

var (
	metricAdd = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popbox_snapshotdb_add_total",
			Help: "Number of snapshots added, by result.",
		},
		[]string{"result"},
	)
)

var timeNow = time.Now // Tests override this.

// Snapshot is the state of the mailbox of an account at a point in time.
type Snapshot struct {
	ID      int64
	Account string    `bstore:"nonzero,index Account+Time"`
	Time    time.Time `bstore:"nonzero"`
	Count   uint32    // Number of messages.
	Size    uint64    // Total size of messages in bytes.
}

// Stat returns the mailbox statistics of the snapshot.
func (s Snapshot) Stat() pop3client.MailboxStat {
	return pop3client.MailboxStat{Count: s.Count, Size: s.Size}
}

// ErrNotFound is returned by Last when no snapshot exists for an account.
var ErrNotFound = errors.New("snapshotdb: no snapshot for account")

var DBTypes = []any{Snapshot{}} // Types stored in DB.

// DB is an opened snapshot database.
type DB struct {
	db  *bstore.DB
	log mlog.Log
}

// Open opens the database at path, creating it and its directory if needed.
func Open(ctx context.Context, elog *slog.Logger, path string) (*DB, error) {
	log := mlog.New("snapshotdb", elog)
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, fmt.Errorf("creating data directory: %v", err)
	}
	opts := bstore.Options{Timeout: 5 * time.Second, Perm: 0660, RegisterLogger: popvar.RegisterLogger(path, log.Logger)}
	db, err := bstore.Open(ctx, path, &opts, DBTypes...)
	if err != nil {
		return nil, err
	}
	log.Debug("snapshot database opened", slog.String("path", path))
	return &DB{db, log}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Add stores a new snapshot for account.
func (d *DB) Add(ctx context.Context, account string, stat pop3client.MailboxStat) (s Snapshot, rerr error) {
	defer func() {
		result := "ok"
		if rerr != nil {
			result = "error"
		}
		metricAdd.WithLabelValues(result).Inc()
	}()

	s = Snapshot{
		Account: account,
		Time:    timeNow(),
		Count:   stat.Count,
		Size:    stat.Size,
	}
	if err := d.db.Insert(ctx, &s); err != nil {
		return Snapshot{}, fmt.Errorf("inserting snapshot: %w", err)
	}
	d.log.Debug("snapshot added", slog.String("account", account), slog.Any("count", s.Count), slog.Any("size", s.Size))
	return s, nil
}

// Last returns the most recent snapshot for account, or ErrNotFound.
func (d *DB) Last(ctx context.Context, account string) (Snapshot, error) {
	q := bstore.QueryDB[Snapshot](ctx, d.db)
	q.FilterNonzero(Snapshot{Account: account})
	q.SortDesc("Time", "ID")
	s, err := q.Limit(1).Get()
	if err == bstore.ErrAbsent {
		return Snapshot{}, ErrNotFound
	} else if err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// List returns the most recent snapshots for account, newest first. If limit
// is 0, all snapshots are returned.
func (d *DB) List(ctx context.Context, account string, limit int) ([]Snapshot, error) {
	q := bstore.QueryDB[Snapshot](ctx, d.db)
	q.FilterNonzero(Snapshot{Account: account})
	q.SortDesc("Time", "ID")
	if limit > 0 {
		q.Limit(limit)
	}
	return q.List()
}

// NewMessages returns the number of messages added since the previous
// snapshot. Message numbers are not stable, so this is an estimate based on
// the message count.
func NewMessages(prev, cur pop3client.MailboxStat) uint32 {
	if cur.Count > prev.Count {
		return cur.Count - prev.Count
	}
	return 0
}
