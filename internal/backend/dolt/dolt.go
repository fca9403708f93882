// Package dolt implements backend.Backend over a Dolt sql-server connection
// (MySQL wire protocol, pure Go via github.com/go-sql-driver/mysql).
//
// Dolt is itself a version-controlled SQL database; Lix does not rely on
// that native versioning (Lix's own commit-DAG model in internal/changestore
// must also run unmodified against plain SQLite), but running Lix against a
// Dolt-backed connection lets a host additionally use Dolt's own branch/merge
// tooling on the same bytes Lix wrote — useful for interop with existing Dolt
// fleets. Grounded on storage/dolt/store.go's connection lifecycle (otel
// spans, exponential-backoff reconnect, advisory access lock), trimmed to
// server mode only: the embedded, CGO-linked dolthub/driver path the teacher
// also supports adds package-management complexity without changing any
// Lix-visible semantics, so it is left as a documented extension point
// rather than implemented here.
package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/lixerr"
)

var tracer = otel.Tracer("lix/backend/dolt")

var doltMetrics = struct {
	lockWaitMs metric.Float64Histogram
	reconnects metric.Int64Counter
}{}

func init() {
	meter := otel.Meter("lix/backend/dolt")
	doltMetrics.lockWaitMs, _ = meter.Float64Histogram("lix.dolt.lock_wait_ms")
	doltMetrics.reconnects, _ = meter.Int64Counter("lix.dolt.reconnects")
}

// Config describes how to reach a Dolt sql-server.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	ReadOnly       bool
	DataDir        string // used only for the advisory access lock path
	ReconnectLimit time.Duration
}

func (c Config) dsn() string {
	port := c.Port
	if port == 0 {
		port = 3307
	}
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	user := c.User
	if user == "" {
		user = "root"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=false", user, c.Password, host, port, c.Database)
}

// Store implements backend.Backend over a Dolt sql-server connection.
type Store struct {
	cfg    Config
	db     *sql.DB
	lock   *AccessLock
	closed atomic.Bool
	mu     sync.Mutex

	watchdogCancel context.CancelFunc
}

// Open connects to a Dolt sql-server and acquires the advisory access lock
// that serializes embedded-mode-equivalent single-writer semantics across
// host processes sharing one data directory (spec §5: "shared resources").
func Open(ctx context.Context, cfg Config) (*Store, error) {
	lock, err := AcquireAccessLock(cfg.DataDir, !cfg.ReadOnly, 30*time.Second)
	if err != nil {
		return nil, lixerr.Wrap("dolt.Open", lixerr.KindBackend, err)
	}

	db, err := sql.Open("mysql", cfg.dsn())
	if err != nil {
		lock.Release()
		return nil, lixerr.Wrap("dolt.Open", lixerr.KindBackend, err)
	}
	db.SetMaxOpenConns(1)

	if err := pingWithBackoff(ctx, db); err != nil {
		lock.Release()
		_ = db.Close()
		return nil, lixerr.Wrap("dolt.Open", lixerr.KindBackend, err)
	}

	s := &Store{cfg: cfg, db: db, lock: lock}
	s.startWatchdog(&cfg)
	return s, nil
}

func pingWithBackoff(ctx context.Context, db *sql.DB) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(bo, ctx))
}

func (s *Store) Dialect() string { return "dolt" }

func (s *Store) Execute(ctx context.Context, query string, params []backend.CellValue) (*backend.Result, error) {
	ctx, span := tracer.Start(ctx, "dolt.Execute")
	defer span.End()
	if s.closed.Load() {
		return nil, lixerr.Wrap("dolt.Execute", lixerr.KindClosed, fmt.Errorf("backend closed"))
	}
	res, err := execGeneric(ctx, s.db, query, params)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Store) BeginTransaction(ctx context.Context) (backend.Tx, error) {
	if s.closed.Load() {
		return nil, lixerr.Wrap("dolt.BeginTransaction", lixerr.KindClosed, fmt.Errorf("backend closed"))
	}
	s.mu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, lixerr.Wrap("dolt.BeginTransaction", lixerr.KindBackend, err)
	}
	return &doltTx{tx: tx, unlock: s.mu.Unlock}, nil
}

// ExportSnapshot returns the hash of the latest dolt_log commit as an opaque
// snapshot marker. It does not dump table contents: the returned bytes alone
// cannot seed a fresh Dolt server.
func (s *Store) ExportSnapshot(ctx context.Context) ([]byte, error) {
	var hash string
	row := s.db.QueryRowContext(ctx, "SELECT commit_hash FROM dolt_log ORDER BY date DESC LIMIT 1")
	if err := row.Scan(&hash); err != nil {
		return nil, lixerr.Wrap("dolt.ExportSnapshot", lixerr.KindBackend, err)
	}
	// Lix treats the current commit hash as the portable snapshot marker;
	// the actual byte-for-byte dump is Dolt's own `dolt bundle`, invoked out
	// of process by hosts that need a self-contained archive (spec leaves
	// replication/export tooling itself unspecified, §9 Open Questions).
	return []byte(hash), nil
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.stopWatchdog()
	err := s.db.Close()
	s.lock.Release()
	if err != nil {
		return lixerr.Wrap("dolt.Close", lixerr.KindBackend, err)
	}
	return nil
}

type doltTx struct {
	tx     *sql.Tx
	unlock func()
	done   atomic.Bool
}

func (t *doltTx) Execute(ctx context.Context, query string, params []backend.CellValue) (*backend.Result, error) {
	return execGeneric(ctx, t.tx, query, params)
}

func (t *doltTx) Commit(ctx context.Context) error {
	defer t.finish()
	if err := t.tx.Commit(); err != nil {
		return lixerr.Wrap("dolt.Tx.Commit", lixerr.KindBackend, err)
	}
	return nil
}

func (t *doltTx) Rollback(ctx context.Context) error {
	defer t.finish()
	if err := t.tx.Rollback(); err != nil {
		return lixerr.Wrap("dolt.Tx.Rollback", lixerr.KindBackend, err)
	}
	return nil
}

func (t *doltTx) finish() {
	if t.done.CompareAndSwap(false, true) {
		t.unlock()
	}
}
