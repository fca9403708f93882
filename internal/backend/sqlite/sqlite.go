// Package sqlite implements backend.Backend over a pure-Go SQLite engine
// (modernc.org/sqlite), the default dialect named in spec §4.1. Grounded on
// the connection-setup idiom in hazyhaar-GoClode/internal/core/db.go (WAL
// mode, foreign_keys, busy_timeout pragmas, single *sql.DB) and on
// storage/sqlite's error-wrapping conventions, now centralized in
// internal/lixerr.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/lixerr"
)

// Store implements backend.Backend over modernc.org/sqlite.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
	closed   atomic.Bool
	mu       sync.Mutex // serializes BeginTransaction; spec §5 single logical connection
}

// Open opens (creating if necessary) a SQLite-backed Lix database at path.
// path may be ":memory:" for an ephemeral, process-local database.
func Open(ctx context.Context, path string, opts backend.Options) (*Store, error) {
	dsn := connString(path, opts.ReadOnly)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, lixerr.Wrap("sqlite.Open", lixerr.KindBackend, err)
	}
	db.SetMaxOpenConns(1) // one logical connection, per spec §5
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, lixerr.Wrap("sqlite.Open", lixerr.KindBackend, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, lixerr.Wrap("sqlite.Open", lixerr.KindBackend, err)
	}

	return &Store{db: db, path: path, readOnly: opts.ReadOnly}, nil
}

func (s *Store) Dialect() string { return "sqlite" }

func (s *Store) Execute(ctx context.Context, query string, params []backend.CellValue) (*backend.Result, error) {
	if s.closed.Load() {
		return nil, lixerr.Wrap("sqlite.Execute", lixerr.KindClosed, fmt.Errorf("backend closed"))
	}
	return execOn(ctx, s.db, query, params)
}

func (s *Store) BeginTransaction(ctx context.Context) (backend.Tx, error) {
	if s.closed.Load() {
		return nil, lixerr.Wrap("sqlite.BeginTransaction", lixerr.KindClosed, fmt.Errorf("backend closed"))
	}
	s.mu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, lixerr.Wrap("sqlite.BeginTransaction", lixerr.KindBackend, err)
	}
	return &sqliteTx{tx: tx, unlock: s.mu.Unlock}, nil
}

func (s *Store) ExportSnapshot(ctx context.Context) ([]byte, error) {
	// VACUUM INTO produces a single-file, self-contained, portable copy of
	// the live database (P3: re-opening it preserves every query's result).
	tmpFile, err := os.CreateTemp("", "lix-export-*.sqlite")
	if err != nil {
		return nil, lixerr.Wrap("sqlite.ExportSnapshot", lixerr.KindBackend, err)
	}
	tmp := tmpFile.Name()
	_ = tmpFile.Close()
	_ = os.Remove(tmp) // VACUUM INTO requires the target not to exist
	defer os.Remove(tmp)

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", tmp)); err != nil {
		return nil, lixerr.Wrap("sqlite.ExportSnapshot", lixerr.KindBackend, err)
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, lixerr.Wrap("sqlite.ExportSnapshot", lixerr.KindBackend, err)
	}
	return data, nil
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil // idempotent
	}
	if err := s.db.Close(); err != nil {
		return lixerr.Wrap("sqlite.Close", lixerr.KindBackend, err)
	}
	return nil
}

type sqliteTx struct {
	tx     *sql.Tx
	unlock func()
	done   atomic.Bool
}

func (t *sqliteTx) Execute(ctx context.Context, query string, params []backend.CellValue) (*backend.Result, error) {
	return execOnTx(ctx, t.tx, query, params)
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	defer t.finish()
	if err := t.tx.Commit(); err != nil {
		return lixerr.Wrap("sqlite.Tx.Commit", lixerr.KindBackend, err)
	}
	return nil
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	defer t.finish()
	if err := t.tx.Rollback(); err != nil {
		return lixerr.Wrap("sqlite.Tx.Rollback", lixerr.KindBackend, err)
	}
	return nil
}

func (t *sqliteTx) finish() {
	if t.done.CompareAndSwap(false, true) {
		t.unlock()
	}
}
