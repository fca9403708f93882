// Package lix is the embeddable version-control engine: SQL in, versioned
// commit history out. A Lix instance owns one backend connection and
// dispatches every Execute/Transaction call through a single logical queue,
// mirroring the teacher's single-writer discipline (there: an inter-process
// flock in internal/storage/dolt/access_lock.go; here: an intra-process
// semaphore, since Lix is a library, not a daemon coordinating other
// processes over a shared data directory).
package lix

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/backend/factory"
	_ "github.com/lixdb/lix/internal/backend/dolt"
	_ "github.com/lixdb/lix/internal/backend/memory"
	_ "github.com/lixdb/lix/internal/backend/sqlite"
	"github.com/lixdb/lix/internal/changestore"
	"github.com/lixdb/lix/internal/commitstream"
	"github.com/lixdb/lix/internal/idgen"
	"github.com/lixdb/lix/internal/lixerr"
	"github.com/lixdb/lix/internal/planner"
	"github.com/lixdb/lix/internal/pluginsandbox"
	"github.com/lixdb/lix/internal/sqlfront"
	"github.com/lixdb/lix/internal/stateresolver"
	"github.com/lixdb/lix/internal/surface"
	"github.com/lixdb/lix/internal/txexec"
)

// Options configures Open. Backend is a connection string of the form
// "scheme:target" dispatched through internal/backend/factory (e.g.
// "sqlite:./project.db", "dolt://localhost:3306/project"). WriterKey is the
// default attribution key used when a call site doesn't pass its own.
type Options struct {
	Backend        string
	WriterKey      string
	BackendOptions backend.Options
}

// CellValue re-exports the wire value type so callers never import
// internal/backend directly.
type CellValue = backend.CellValue

// ExecOptions overrides per-call behavior; a nil ExecOptions uses l.writerKey
// and l.activeVersion.
type ExecOptions struct {
	VersionID string
	WriterKey string
}

// Result is what Execute returns.
type Result struct {
	Columns      []string
	Rows         []backend.Row
	CommitID     string
	LastInsertID int64
	RowsAffected int64
}

// Statement is one member of an ExecuteTransaction batch.
type Statement struct {
	SQL    string
	Params []CellValue
}

// CreateVersionOptions configures CreateVersion.
type CreateVersionOptions struct {
	ParentVersionID string
	Name            string
}

// VersionInfo describes a created or switched-to version.
type VersionInfo struct {
	ID              string
	ParentVersionID string
	TipCommitID     string
}

// CheckpointInfo describes a created checkpoint commit.
type CheckpointInfo struct {
	CommitID  string
	VersionID string
}

// PluginSource is the wasm bytes plus manifest for InstallPlugin.
type PluginSource struct {
	Manifest  pluginsandbox.Manifest
	WasmBytes []byte
}

// Query is a read-only SQL statement observed by Observe.
type Query struct {
	SQL    string
	Params []CellValue
}

// ObserveResult is what Observe re-delivers each time the observed query's
// result set could have changed.
type ObserveResult struct {
	Result *Result
	Err    error
}

// Lix is one open engine instance. The zero value is not usable; construct
// with Open.
type Lix struct {
	be       backend.Backend
	store    *changestore.Store
	resolver *stateresolver.Resolver
	sandbox  *pluginsandbox.Sandbox
	hub      *commitstream.Hub
	exec     *txexec.Executor

	writeGate *semaphore.Weighted // single-writer dispatch, spec §5

	mu            sync.RWMutex
	writerKey     string
	activeVersion string
	closed        bool
}

// Open dials opts.Backend, runs the change-store migrations if needed, and
// returns a ready Lix instance positioned on the "main" version (created on
// first open).
func Open(ctx context.Context, opts Options) (*Lix, error) {
	if opts.Backend == "" {
		return nil, lixerr.Wrapf(lixerr.KindBackend, nil, "lix.Open: Options.Backend is required")
	}

	be, err := factory.Open(ctx, opts.Backend, opts.BackendOptions)
	if err != nil {
		return nil, lixerr.Wrap("lix.Open", lixerr.KindBackend, err)
	}

	store := changestore.New(be)
	if err := store.Migrate(ctx); err != nil {
		be.Close()
		return nil, lixerr.Wrap("lix.Open", lixerr.KindBackend, err)
	}

	resolver := stateresolver.New(be)
	sandbox, err := pluginsandbox.New(ctx)
	if err != nil {
		be.Close()
		return nil, lixerr.Wrap("lix.Open", lixerr.KindPlugin, err)
	}
	hub := commitstream.NewHub()
	executor := txexec.New(be, store, resolver, sandbox, hub)

	l := &Lix{
		be:        be,
		store:     store,
		resolver:  resolver,
		sandbox:   sandbox,
		hub:       hub,
		exec:      executor,
		writeGate: semaphore.NewWeighted(1),
		writerKey: opts.WriterKey,
	}

	versionID, err := l.ensureMainVersion(ctx)
	if err != nil {
		be.Close()
		return nil, err
	}
	l.activeVersion = versionID

	return l, nil
}

// ensureMainVersion returns the id of the "main" version, creating it (with
// no parent, no tip commit, and a fresh empty working commit) on first open.
func (l *Lix) ensureMainVersion(ctx context.Context) (string, error) {
	res, err := l.be.Execute(ctx, `SELECT id FROM lix_internal_version WHERE id = ?`,
		[]backend.CellValue{{Kind: backend.KindText, Value: "main"}})
	if err != nil {
		return "", lixerr.Wrap("lix.ensureMainVersion", lixerr.KindBackend, err)
	}
	if len(res.Rows) == 1 {
		return "main", nil
	}
	if _, err := l.be.Execute(ctx, `INSERT INTO lix_internal_version (id, inherits_from_version_id, name) VALUES (?, NULL, ?)`,
		[]backend.CellValue{{Kind: backend.KindText, Value: "main"}, {Kind: backend.KindText, Value: "main"}}); err != nil {
		return "", lixerr.Wrap("lix.ensureMainVersion", lixerr.KindBackend, err)
	}
	if _, _, err := l.store.CreateWorkingCommit(ctx, "main", ""); err != nil {
		return "", lixerr.Wrap("lix.ensureMainVersion", lixerr.KindBackend, err)
	}
	return "main", nil
}

// Execute plans and runs a single SQL statement against the active version
// (or opts.VersionID if set), returning any rows plus the commit produced if
// the statement was a write.
func (l *Lix) Execute(ctx context.Context, sql string, params []CellValue, opts *ExecOptions) (*Result, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if err := l.writeGate.Acquire(ctx, 1); err != nil {
		return nil, lixerr.Wrap("lix.Execute", lixerr.KindBackend, err)
	}
	defer l.writeGate.Release(1)

	versionID, writerKey := l.resolveContext(opts)

	plan, err := l.plan(sql, params, versionID, writerKey)
	if err != nil {
		return nil, err
	}

	var writerPtr *string
	if writerKey != "" {
		writerPtr = &writerKey
	}
	res, err := l.exec.Run(ctx, plan, versionID, writerPtr)
	if err != nil {
		return nil, err
	}

	if res.CommitID != "" {
		l.resolver.InvalidateVersion(versionID)
	}

	return &Result{
		Columns:      res.Columns,
		Rows:         res.Rows,
		CommitID:     res.CommitID,
		LastInsertID: res.LastInsertID,
		RowsAffected: res.RowsAffected,
	}, nil
}

// ExecuteTransaction runs every statement in stmts inside one backend
// transaction: all-or-nothing. Each statement goes through Tx.Execute, so
// none is planned, no changes are recorded, and no change-store commit is
// made for the batch. Mirrors the teacher's batch-apply idiom of treating a slice of operations
// as one unit rather than looping Execute (which would produce one commit
// per statement).
func (l *Lix) ExecuteTransaction(ctx context.Context, stmts []Statement, opts *ExecOptions) error {
	tx, err := l.BeginTransaction(ctx, opts)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := tx.Execute(ctx, s.SQL, s.Params); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	return tx.Commit(ctx)
}

// Tx is an explicit, caller-driven transaction opened by BeginTransaction.
// It holds the instance's write gate for its entire lifetime (spec §5:
// explicit transactions strictly nest and block other Execute calls).
type Tx struct {
	l         *Lix
	be        backend.Tx
	versionID string
	writerKey string
	done      bool
}

// BeginTransaction acquires the write gate and opens a backend transaction
// bound to the current active version.
func (l *Lix) BeginTransaction(ctx context.Context, opts *ExecOptions) (*Tx, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if err := l.writeGate.Acquire(ctx, 1); err != nil {
		return nil, lixerr.Wrap("lix.BeginTransaction", lixerr.KindBackend, err)
	}
	versionID, writerKey := l.resolveContext(opts)
	be, err := l.be.BeginTransaction(ctx)
	if err != nil {
		l.writeGate.Release(1)
		return nil, lixerr.Wrap("lix.BeginTransaction", lixerr.KindBackend, err)
	}
	return &Tx{l: l, be: be, versionID: versionID, writerKey: writerKey}, nil
}

// Execute runs one statement within the transaction, sending the SQL to the
// backend as-is. Unlike Lix.Execute, it bypasses sqlfront, the planner and
// the executor: statements are not rewritten over Lix's surfaces, and no
// changes are recorded, neither here nor at Commit.
func (t *Tx) Execute(ctx context.Context, sql string, params []CellValue) (*Result, error) {
	res, err := t.be.Execute(ctx, sql, params)
	if err != nil {
		return nil, lixerr.Wrap("lix.Tx.Execute", lixerr.KindBackend, err)
	}
	return &Result{Columns: res.Columns, Rows: res.Rows, LastInsertID: res.LastInsertID, RowsAffected: res.RowsAffected}, nil
}

// Commit finalizes the transaction and releases the write gate.
func (t *Tx) Commit(ctx context.Context) error {
	defer t.release()
	if err := t.be.Commit(ctx); err != nil {
		return lixerr.Wrap("lix.Tx.Commit", lixerr.KindBackend, err)
	}
	t.l.resolver.InvalidateVersion(t.versionID)
	return nil
}

// Rollback discards the transaction and releases the write gate.
func (t *Tx) Rollback(ctx context.Context) error {
	defer t.release()
	if err := t.be.Rollback(ctx); err != nil {
		return lixerr.Wrap("lix.Tx.Rollback", lixerr.KindBackend, err)
	}
	return nil
}

func (t *Tx) release() {
	if t.done {
		return
	}
	t.done = true
	t.l.writeGate.Release(1)
}

// Transaction runs fn inside a Tx, committing on a nil return and rolling
// back otherwise.
func (l *Lix) Transaction(ctx context.Context, fn func(*Tx) error) error {
	tx, err := l.BeginTransaction(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// CreateVersion forks a new version from opts.ParentVersionID (or the active
// version if unset), sharing its tip commit and a fresh working commit
// parented on it — the new version's first write is the first thing that
// diverges its history from the parent's.
func (l *Lix) CreateVersion(ctx context.Context, opts CreateVersionOptions) (*VersionInfo, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	parent := opts.ParentVersionID
	if parent == "" {
		l.mu.RLock()
		parent = l.activeVersion
		l.mu.RUnlock()
	}
	var tip string
	res, err := l.be.Execute(ctx, `SELECT tip_commit_id FROM lix_internal_version WHERE id = ?`,
		[]backend.CellValue{{Kind: backend.KindText, Value: parent}})
	if err != nil {
		return nil, lixerr.Wrap("lix.CreateVersion", lixerr.KindBackend, err)
	}
	if len(res.Rows) != 1 {
		return nil, lixerr.Wrapf(lixerr.KindInvariant, nil, "lix.CreateVersion: parent version %q not found", parent)
	}
	if v, ok := res.Rows[0][0].Value.(string); ok {
		tip = v
	}

	newID := idgen.ShortID(16, []byte(parent), []byte(opts.Name))
	if _, err := l.be.Execute(ctx,
		`INSERT INTO lix_internal_version (id, inherits_from_version_id, name, tip_commit_id) VALUES (?, ?, ?, ?)`,
		[]backend.CellValue{
			{Kind: backend.KindText, Value: newID},
			{Kind: backend.KindText, Value: parent},
			{Kind: backend.KindText, Value: opts.Name},
			{Kind: backend.KindText, Value: tip},
		}); err != nil {
		return nil, lixerr.Wrap("lix.CreateVersion", lixerr.KindBackend, err)
	}
	if _, _, err := l.store.CreateWorkingCommit(ctx, newID, tip); err != nil {
		return nil, lixerr.Wrap("lix.CreateVersion", lixerr.KindBackend, err)
	}
	return &VersionInfo{ID: newID, ParentVersionID: parent, TipCommitID: tip}, nil
}

// SwitchVersion changes the active version used by future Execute calls
// that don't set ExecOptions.VersionID.
func (l *Lix) SwitchVersion(ctx context.Context, id string) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	res, err := l.be.Execute(ctx, `SELECT id FROM lix_internal_version WHERE id = ?`,
		[]backend.CellValue{{Kind: backend.KindText, Value: id}})
	if err != nil {
		return lixerr.Wrap("lix.SwitchVersion", lixerr.KindBackend, err)
	}
	if len(res.Rows) != 1 {
		return lixerr.Wrapf(lixerr.KindInvariant, nil, "lix.SwitchVersion: version %q not found", id)
	}
	l.mu.Lock()
	l.activeVersion = id
	l.mu.Unlock()
	return nil
}

// CreateCheckpoint seals the active version's working commit into permanent
// history — advancing tip_commit_id to it — and rotates in a fresh, empty
// working commit parented on the one just sealed (spec glossary's
// working_commit_id: ordinary writes accumulate into a transient commit
// until a checkpoint rotates/seals it). The sealed commit's id is stable
// and already linked into lix_internal_commit_edge from when it was first
// created as a working commit, so sealing is just the tip pointer moving.
func (l *Lix) CreateCheckpoint(ctx context.Context) (*CheckpointInfo, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if err := l.writeGate.Acquire(ctx, 1); err != nil {
		return nil, lixerr.Wrap("lix.CreateCheckpoint", lixerr.KindBackend, err)
	}
	defer l.writeGate.Release(1)

	l.mu.RLock()
	versionID := l.activeVersion
	l.mu.RUnlock()

	sealedCommitID, _, err := l.store.WorkingCommit(ctx, versionID)
	if err != nil {
		return nil, err
	}

	if _, err := l.be.Execute(ctx, `UPDATE lix_internal_version SET tip_commit_id = ? WHERE id = ?`,
		[]backend.CellValue{{Kind: backend.KindText, Value: sealedCommitID}, {Kind: backend.KindText, Value: versionID}}); err != nil {
		return nil, lixerr.Wrap("lix.CreateCheckpoint", lixerr.KindBackend, err)
	}

	if _, _, err := l.store.CreateWorkingCommit(ctx, versionID, sealedCommitID); err != nil {
		return nil, lixerr.Wrap("lix.CreateCheckpoint", lixerr.KindBackend, err)
	}

	return &CheckpointInfo{CommitID: sealedCommitID, VersionID: versionID}, nil
}

// InstallPlugin registers a wasm-component-v1 plugin with the sandbox.
func (l *Lix) InstallPlugin(ctx context.Context, src PluginSource) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	return l.sandbox.Install(ctx, src.Manifest, src.WasmBytes)
}

// ExportSnapshot returns the backend's snapshot bytes. For backend/sqlite
// that is a portable copy of the entire database (P3: re-opening it
// reproduces every query result unchanged); backend/dolt returns only its
// latest commit hash.
func (l *Lix) ExportSnapshot(ctx context.Context) ([]byte, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	return l.be.ExportSnapshot(ctx)
}

// StateCommitStream subscribes to every commit batch matching filter.
func (l *Lix) StateCommitStream(filter commitstream.Filter) commitstream.Stream[commitstream.Batch] {
	return l.hub.Subscribe(filter)
}

// Observe re-runs q every time a commit could have changed its result,
// delivering each new Result on the returned stream. A minimal poll-on-
// commit implementation: every StateCommitStream batch triggers one
// Execute of q, rather than diffing q's referenced tables against the
// batch's changes (a cheaper incremental path left for a later pass, since
// spec.md's six end-to-end scenarios only require eventual re-delivery).
func (l *Lix) Observe(ctx context.Context, q Query) commitstream.Stream[ObserveResult] {
	return newObserveStream(l, q)
}

// Close stops accepting new work and closes the backend connection.
func (l *Lix) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := l.sandbox.Close(context.Background()); err != nil {
		return lixerr.Wrap("lix.Close", lixerr.KindPlugin, err)
	}
	return l.be.Close()
}

func (l *Lix) checkOpen() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return lixerr.Wrapf(lixerr.KindClosed, nil, "lix: instance is closed")
	}
	return nil
}

func (l *Lix) resolveContext(opts *ExecOptions) (versionID, writerKey string) {
	l.mu.RLock()
	versionID, writerKey = l.activeVersion, l.writerKey
	l.mu.RUnlock()
	if opts != nil {
		if opts.VersionID != "" {
			versionID = opts.VersionID
		}
		if opts.WriterKey != "" {
			writerKey = opts.WriterKey
		}
	}
	return versionID, writerKey
}

func (l *Lix) plan(sql string, params []CellValue, versionID, writerKey string) (*planner.ExecutionPlan, error) {
	stmt, err := sqlfront.Parse(sql)
	if err != nil {
		return nil, err
	}
	bound, err := sqlfront.BindOnce(stmt, params)
	if err != nil {
		return nil, err
	}
	reg := surface.NewRegistry()
	surf, _, err := reg.Resolve(bound.AST)
	if err != nil {
		return nil, err
	}
	return planner.Plan(bound, surf, planner.VersionContext{ActiveVersionID: versionID, WriterKey: writerKey})
}
