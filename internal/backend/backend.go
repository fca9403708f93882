// Package backend abstracts the SQL engine beneath Lix (spec §4.1, component
// C1). Exactly one dialect is active per Lix instance; the executor (C6)
// never branches on dialect, only on this interface.
package backend

import "context"

// CellKind identifies the wire type of a CellValue (spec §6).
type CellKind int

const (
	KindNull CellKind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// CellValue is the typed value the host and the backend exchange, matching
// the wire encoding in spec §6: integers are 64-bit signed, reals are IEEE
// 754 doubles, text is UTF-8, blobs are raw bytes.
type CellValue struct {
	Kind  CellKind
	Value any
}

// Null is the canonical {kind: Null, value: null} cell.
var Null = CellValue{Kind: KindNull}

// Row is one result row, column-ordered.
type Row []CellValue

// Result is what Execute returns for one statement.
type Result struct {
	Columns      []string
	Rows         []Row
	LastInsertID int64
	RowsAffected int64
}

// Backend is the minimal surface the planner/lowerer/executor need from a SQL
// engine. Implementations must not rewrite the SQL they are given — rewriting
// is the lowerer's job, not the backend's (spec §4.1).
type Backend interface {
	// Execute runs exactly one statement with positionally-bound params.
	Execute(ctx context.Context, sql string, params []CellValue) (*Result, error)

	// BeginTransaction starts a new transaction on the backend's single
	// logical connection. While a Tx is open, the caller must route all
	// further statements through it; the engine enforces this at a higher
	// layer (internal/txexec), not here.
	BeginTransaction(ctx context.Context) (Tx, error)

	// ExportSnapshot returns an opaque, portable dump of the entire
	// database, such that opening it fresh round-trips every query (P3).
	ExportSnapshot(ctx context.Context) ([]byte, error)

	// Dialect names the SQL dialect this backend speaks ("sqlite", "dolt").
	Dialect() string

	// Close is idempotent.
	Close() error
}

// Tx is a transaction opened on a Backend.
type Tx interface {
	Execute(ctx context.Context, sql string, params []CellValue) (*Result, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Options configures how a backend opens its underlying store, mirroring the
// fields internal/storage/factory.Options offered for the issue-tracker's
// Dolt/SQLite choice, trimmed to what an embeddable engine needs.
type Options struct {
	ReadOnly    bool
	LockTimeout int64 // milliseconds; 0 means backend default

	// Dolt-only: connect to a running dolt sql-server instead of opening an
	// embedded database. Ignored by backend/sqlite.
	ServerMode     bool
	ServerHost     string
	ServerPort     int
	ServerUser     string
	ServerPassword string
	Database       string
}
