// Package txexec implements the executor and transaction manager (spec
// §4.6, component C6): the fixed 6-step order every plan runs through,
// instrumented with otel spans per step. Grounded on
// internal/storage/dolt/store.go's execContext/queryContext span wrapping
// (doltTracer, doltSpanAttrs, endSpan) and transaction.go's
// RunInTransaction rollback-on-error shape, generalized from a single SQL
// call per span to one span per executor step.
package txexec

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/changestore"
	"github.com/lixdb/lix/internal/commitstream"
	"github.com/lixdb/lix/internal/effects"
	"github.com/lixdb/lix/internal/filemat"
	"github.com/lixdb/lix/internal/idgen"
	"github.com/lixdb/lix/internal/lixerr"
	"github.com/lixdb/lix/internal/planner"
	"github.com/lixdb/lix/internal/pluginsandbox"
	"github.com/lixdb/lix/internal/stateresolver"
	"github.com/lixdb/lix/internal/surface"
)

// txexecTracer mirrors doltTracer: the global OTel tracer provider, a no-op
// until a host wires up a real one.
var txexecTracer = otel.Tracer("github.com/lixdb/lix/txexec")

// Result is what Run returns for one executed plan.
type Result struct {
	RowsAffected int64
	LastInsertID int64
	Rows         []backend.Row
	Columns      []string
	CommitID     string
}

// Executor runs ExecutionPlans against a backend inside the fixed 6-step
// transaction order, recording changes into the change store, invalidating
// the state resolver's cache, and queuing post-commit effects.
type Executor struct {
	backend  backend.Backend
	store    *changestore.Store
	resolver *stateresolver.Resolver
	sandbox  *pluginsandbox.Sandbox
	hub      *commitstream.Hub
	effects  *effects.Queue
}

// New builds an Executor wired to the given components. sandbox and hub may
// be nil if the instance has no plugins installed / no observers attached —
// EffectRunPluginApply and EffectNotifyObservers become no-ops in that case.
func New(be backend.Backend, store *changestore.Store, resolver *stateresolver.Resolver, sandbox *pluginsandbox.Sandbox, hub *commitstream.Hub) *Executor {
	return &Executor{
		backend:  be,
		store:    store,
		resolver: resolver,
		sandbox:  sandbox,
		hub:      hub,
		effects:  effects.NewQueue(),
	}
}

// Run executes plan's fixed 6-step order (spec §4.6):
//  1. begin          - backend.BeginTransaction
//  2. prepared       - run plan.PreparedStatements
//  3. postprocess    - record RecordChange-family effects into the change store
//  4. apply_effects_tx - other SQL-backed side effects (invalidate caches, rotate working commit)
//  5. commit         - backend Tx.Commit
//  6. post_commit    - non-SQL effects (plugin apply-changes, notify observers)
//
// Any error in steps 2-4 rolls the transaction back; step 6 errors are
// reported but never roll back already-committed data.
func (e *Executor) Run(ctx context.Context, plan *planner.ExecutionPlan, versionID string, writerKey *string) (*Result, error) {
	ctx, span := txexecTracer.Start(ctx, "txexec.run", trace.WithAttributes(
		attribute.String("lix.fingerprint", plan.Fingerprint),
		attribute.Int("lix.statement_count", len(plan.PreparedStatements)),
	))
	defer span.End()

	tx, err := e.begin(ctx)
	if err != nil {
		endSpanErr(span, err)
		return nil, err
	}

	result, commitID, err := e.runInTx(ctx, tx, plan, versionID, writerKey)
	if err != nil {
		_ = tx.Rollback(ctx)
		endSpanErr(span, err)
		return nil, err
	}

	if err := e.commit(ctx, tx); err != nil {
		endSpanErr(span, err)
		return nil, err
	}
	result.CommitID = commitID

	e.postCommit(ctx, commitID)
	return result, nil
}

func (e *Executor) begin(ctx context.Context) (backend.Tx, error) {
	_, span := txexecTracer.Start(ctx, "txexec.begin")
	defer span.End()
	tx, err := e.backend.BeginTransaction(ctx)
	if err != nil {
		endSpanErr(span, err)
		return nil, lixerr.Wrap("txexec.begin", lixerr.KindBackend, err)
	}
	return tx, nil
}

// runInTx executes steps 2-4 inside tx, returning the caller-visible result
// and the commit id created during postprocess (empty for a pure read).
func (e *Executor) runInTx(ctx context.Context, tx backend.Tx, plan *planner.ExecutionPlan, versionID string, writerKey *string) (*Result, string, error) {
	result, err := e.runPrepared(ctx, tx, plan)
	if err != nil {
		return nil, "", err
	}

	recordedChanges, err := e.postprocess(ctx, tx, plan, versionID, writerKey)
	if err != nil {
		return nil, "", err
	}

	commitID, err := e.applyEffectsTx(ctx, tx, plan, versionID, recordedChanges)
	if err != nil {
		return nil, "", err
	}

	e.queuePostCommitEffects(plan, versionID, commitID, recordedChanges)
	return result, commitID, nil
}

// runPrepared executes every statement NOT recognized as a change-store
// upsert/tombstone template. Those (stmt.Kind != "") are deferred to
// postprocess, which binds their runtime-computed change/snapshot ids
// before running them — the planner, being pure, couldn't content-hash
// anything, so it left them half-built.
func (e *Executor) runPrepared(ctx context.Context, tx backend.Tx, plan *planner.ExecutionPlan) (*Result, error) {
	_, span := txexecTracer.Start(ctx, "txexec.prepared", trace.WithAttributes(
		attribute.Int("lix.statement_count", len(plan.PreparedStatements)),
	))
	defer span.End()

	result := &Result{}
	for _, stmt := range plan.PreparedStatements {
		if stmt.Kind != "" {
			continue
		}
		params := toCellValues(stmt.Params)
		res, err := tx.Execute(ctx, stmt.SQL, params)
		if err != nil {
			endSpanErr(span, err)
			return nil, lixerr.Wrap("txexec.prepared", lixerr.KindBackend, err)
		}
		result.Columns = res.Columns
		result.Rows = res.Rows
		result.RowsAffected += res.RowsAffected
		if res.LastInsertID != 0 {
			result.LastInsertID = res.LastInsertID
		}
	}
	return result, nil
}

// postprocess implements step 3: finish binding and run every change-store
// upsert/tombstone template the plan carries, returning the resulting
// changes. Linking them into the version's working commit is step 4's job
// (applyEffectsTx, consuming EffectRotateWorkingCommit) — postprocess itself
// never touches lix_internal_commit, so a plan whose PreparedStatements
// produce no changes (a pure read, or a write whose detect-changes found no
// diff) never mints or advances anything.
func (e *Executor) postprocess(ctx context.Context, tx backend.Tx, plan *planner.ExecutionPlan, versionID string, writerKey *string) ([]changestore.Change, error) {
	_, span := txexecTracer.Start(ctx, "txexec.postprocess")
	defer span.End()

	wk := ""
	if writerKey != nil {
		wk = *writerKey
	}
	txStore := e.store.WithExecer(tx)

	var changes []changestore.Change
	for _, stmt := range plan.PreparedStatements {
		if stmt.Kind != "entity_upsert" && stmt.Kind != "tombstone" {
			continue
		}
		c, params, err := e.bindChangeTemplate(ctx, txStore, stmt, wk)
		if err != nil {
			endSpanErr(span, err)
			return nil, err
		}
		if _, err := tx.Execute(ctx, stmt.SQL, params); err != nil {
			endSpanErr(span, err)
			return nil, lixerr.Wrap("txexec.postprocess", lixerr.KindBackend, err)
		}
		changes = append(changes, c)
	}

	if plan.FileWrite != nil {
		fileChanges, err := e.processFileWrite(ctx, txStore, plan.FileWrite, versionID, wk)
		if err != nil {
			endSpanErr(span, err)
			return nil, err
		}
		changes = append(changes, fileChanges...)
	}

	return changes, nil
}

// bindChangeTemplate finishes what the planner left half-built: it hashes
// stmt.ContentJSON into a snapshot (skipped for a tombstone), computes the
// change's content-addressed id, and returns the fully positional param
// list for stmt.SQL — whose placeholder count depends on whether schema_key
// was already baked into the SQL literal (stmt.SchemaKeyBound false) or
// still needs binding (stmt.SchemaKeyBound true: the lix_state
// dynamic-schema templates).
func (e *Executor) bindChangeTemplate(ctx context.Context, txStore *changestore.Store, stmt planner.PreparedStatement, writerKey string) (changestore.Change, []backend.CellValue, error) {
	var snapshotID string
	if stmt.Kind == "entity_upsert" {
		id, err := txStore.PutSnapshot(ctx, stmt.ContentJSON)
		if err != nil {
			return changestore.Change{}, nil, err
		}
		snapshotID = id
	}

	c := changestore.Change{
		EntityID:      stmt.EntityID,
		SchemaKey:     stmt.SchemaKey,
		SchemaVersion: "1",
		SnapshotID:    snapshotID,
		WriterKey:     writerKey,
	}
	c.ID = idgen.ChangeID(c.EntityID, c.SchemaKey, c.SchemaVersion, c.FileID, c.PluginKey, c.SnapshotID)

	fileID := backend.Null
	pluginKey := backend.Null
	snap := backend.Null
	if snapshotID != "" {
		snap = backend.CellValue{Kind: backend.KindText, Value: snapshotID}
	}
	writer := backend.Null
	if writerKey != "" {
		writer = backend.CellValue{Kind: backend.KindText, Value: writerKey}
	}

	params := []backend.CellValue{
		{Kind: backend.KindText, Value: c.ID},
		{Kind: backend.KindText, Value: c.EntityID},
	}
	if stmt.SchemaKeyBound {
		params = append(params, backend.CellValue{Kind: backend.KindText, Value: stmt.SchemaKey})
	}
	params = append(params, backend.CellValue{Kind: backend.KindText, Value: c.SchemaVersion}, fileID, pluginKey)
	if stmt.Kind == "entity_upsert" {
		params = append(params, snap)
	}
	params = append(params, writer)
	return c, params, nil
}

// fileDescriptorSchema is the schema_key a lix_file's own descriptor entity
// (path/name/directory_id) is recorded under, mirroring filemat's constant —
// distinct from the file's content entities, which carry the plugin's own
// schema_key and a non-empty FileID.
const fileDescriptorSchema = "lix_file"

// processFileWrite implements lix_file's INSERT/UPDATE/DELETE postprocess
// action (spec §4.5 rewrites 3-4): resolve the owning plugin, diff the
// file's previous materialized bytes against the new ones via
// detect-changes, and record every entity change the plugin reports plus
// the file's own descriptor entity. Unlike bindChangeTemplate's SQL-template
// binding (used for the fixed-schema_key surfaces), this calls
// changestore.Store.RecordChange directly — there's no pre-built SQL
// template to finish binding, since the set of entities a plugin reports
// isn't known until detect-changes actually runs.
func (e *Executor) processFileWrite(ctx context.Context, txStore *changestore.Store, fw *surface.FileWrite, versionID, writerKey string) ([]changestore.Change, error) {
	if e.sandbox == nil {
		return nil, lixerr.Wrapf(lixerr.KindPlugin, nil, "lix_file write requires an installed plugin")
	}

	pluginKey, err := filemat.PluginForFile(ctx, e.backend, fw.FileID)
	if err != nil {
		return nil, err
	}
	if pluginKey == "" {
		pluginKey, err = e.sandbox.ResolveForPath(fw.Path)
		if err != nil {
			return nil, err
		}
	}

	var before []byte
	if existing, err := filemat.Materialize(ctx, e.backend, e.resolver, e.sandbox, fw.FileID, versionID); err == nil {
		before = existing
	}

	var changes []changestore.Change

	if fw.IsDelete {
		entities, err := filemat.FileEntities(ctx, e.backend, fw.FileID, versionID)
		if err != nil {
			return nil, err
		}
		for _, ent := range entities {
			c, err := e.recordChange(ctx, txStore, changestore.Change{
				EntityID: ent.EntityID, SchemaKey: ent.SchemaKey, SchemaVersion: ent.SchemaVersion,
				FileID: fw.FileID, PluginKey: pluginKey, WriterKey: writerKey,
			}, nil)
			if err != nil {
				return nil, err
			}
			changes = append(changes, c)
		}
		descriptor, err := e.recordChange(ctx, txStore, changestore.Change{
			EntityID: fw.FileID, SchemaKey: fileDescriptorSchema, SchemaVersion: "1", WriterKey: writerKey,
		}, nil)
		if err != nil {
			return nil, err
		}
		return append(changes, descriptor), nil
	}

	detected, err := e.sandbox.DetectChanges(ctx, pluginKey, before, fw.Data)
	if err != nil {
		return nil, lixerr.Wrap("txexec.processFileWrite", lixerr.KindPlugin, err)
	}
	for _, ec := range detected {
		c, err := e.recordChange(ctx, txStore, changestore.Change{
			EntityID: ec.EntityID, SchemaKey: ec.SchemaKey, SchemaVersion: ec.SchemaVersion,
			FileID: fw.FileID, PluginKey: pluginKey, WriterKey: writerKey,
		}, ec.SnapshotJSON)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}

	fd := pluginsandbox.FileDescriptor{ID: fw.FileID, Path: fw.Path}
	if fd.Path == "" {
		// An UPDATE only carries the new data bytes, not the path — preserve
		// the descriptor's existing path rather than overwriting it blank.
		if existing, err := e.resolver.Resolve(ctx, fw.FileID, fileDescriptorSchema, "", versionID); err == nil && existing.ContentJSON != nil {
			var prior pluginsandbox.FileDescriptor
			if jsonErr := json.Unmarshal(existing.ContentJSON, &prior); jsonErr == nil {
				fd = prior
				fd.ID = fw.FileID
			}
		}
	}
	descriptorJSON, err := json.Marshal(fd)
	if err != nil {
		return nil, lixerr.Wrap("txexec.processFileWrite", lixerr.KindInvariant, err)
	}
	descriptor, err := e.recordChange(ctx, txStore, changestore.Change{
		EntityID: fw.FileID, SchemaKey: fileDescriptorSchema, SchemaVersion: "1", WriterKey: writerKey,
	}, descriptorJSON)
	if err != nil {
		return nil, err
	}
	return append(changes, descriptor), nil
}

// recordChange hashes contentJSON into a snapshot (skipped, producing a
// tombstone, when contentJSON is nil) and delegates to
// changestore.Store.RecordChange for the id computation and insert itself.
func (e *Executor) recordChange(ctx context.Context, txStore *changestore.Store, c changestore.Change, contentJSON []byte) (changestore.Change, error) {
	if contentJSON != nil {
		snapshotID, err := txStore.PutSnapshot(ctx, contentJSON)
		if err != nil {
			return changestore.Change{}, err
		}
		c.SnapshotID = snapshotID
	}
	id, err := txStore.RecordChange(ctx, c)
	if err != nil {
		return changestore.Change{}, err
	}
	c.ID = id
	return c, nil
}

// applyEffectsTx implements step 4: SQL-backed side effects that must land
// in the same transaction as the write itself — rotating the version's
// working commit (linking this write's changes into its change set, spec
// glossary's working_commit_id) and invalidating the state resolver's
// materialized cache for versionID (spec §4.8: cache invalidation happens in
// apply_effects_tx, before commit, so readers sharing the Resolver never
// observe stale state; lix.Lix.Execute invalidates once more after commit).
func (e *Executor) applyEffectsTx(ctx context.Context, tx backend.Tx, plan *planner.ExecutionPlan, versionID string, changes []changestore.Change) (string, error) {
	_, span := txexecTracer.Start(ctx, "txexec.apply_tx")
	defer span.End()

	var commitID string
	for _, eff := range plan.Effects {
		switch eff.Kind {
		case planner.EffectRotateWorkingCommit:
			id, err := e.advanceWorkingCommit(ctx, tx, versionID, changes)
			if err != nil {
				endSpanErr(span, err)
				return "", err
			}
			commitID = id
		case planner.EffectInvalidateMaterializedState:
			if e.resolver != nil {
				e.resolver.InvalidateVersion(versionID)
			}
		}
	}
	return commitID, nil
}

// advanceWorkingCommit links changes into versionID's current working
// commit's change set. It never mints a new commit row — only
// CreateCheckpoint does that, sealing the working commit into permanent
// history via commit_edge and rotating in a fresh one. A write whose
// detect-changes found nothing to record (changes is empty) leaves the
// working commit untouched and reports no commit id.
func (e *Executor) advanceWorkingCommit(ctx context.Context, tx backend.Tx, versionID string, changes []changestore.Change) (string, error) {
	if len(changes) == 0 {
		return "", nil
	}
	txStore := e.store.WithExecer(tx)
	commitID, changeSetID, err := txStore.WorkingCommit(ctx, versionID)
	if err != nil {
		return "", err
	}
	for _, c := range changes {
		if err := txStore.LinkChangeToChangeSet(ctx, changeSetID, c.ID); err != nil {
			return "", err
		}
	}
	return commitID, nil
}

func (e *Executor) commit(ctx context.Context, tx backend.Tx) error {
	_, span := txexecTracer.Start(ctx, "txexec.commit")
	defer span.End()
	if err := tx.Commit(ctx); err != nil {
		endSpanErr(span, err)
		return lixerr.Wrap("txexec.commit", lixerr.KindBackend, err)
	}
	return nil
}

// queuePostCommitEffects enqueues the non-SQL work step 6 will run, keyed by
// (commit_id, effect_kind) for idempotent retry (spec §4.13).
func (e *Executor) queuePostCommitEffects(plan *planner.ExecutionPlan, versionID, commitID string, changes []changestore.Change) {
	if commitID == "" {
		return
	}
	for _, eff := range plan.Effects {
		switch eff.Kind {
		case planner.EffectNotifyObservers:
			hub := e.hub
			e.effects.Enqueue(effects.Effect{
				Key:  commitID + ":notify_observers",
				Kind: string(planner.EffectNotifyObservers),
				Run: func(ctx context.Context) error {
					if hub != nil {
						hub.Publish(commitID, versionID, changes)
					}
					return nil
				},
			})
		case planner.EffectRunPluginApply:
			e.effects.Enqueue(e.pluginApplyEffect(commitID, versionID, changes))
		}
	}
}

// pluginApplyEffect runs C9's file materialization for every distinct file
// touched by changes, refreshing the plugin-backed materialization cache a
// host may keep over lix_file reads.
func (e *Executor) pluginApplyEffect(commitID, versionID string, changes []changestore.Change) effects.Effect {
	fileIDs := distinctFileIDs(changes)
	return effects.Effect{
		Key:  commitID + ":run_plugin_apply",
		Kind: string(planner.EffectRunPluginApply),
		Run: func(ctx context.Context) error {
			if e.sandbox == nil {
				return nil
			}
			for _, fileID := range fileIDs {
				if _, err := filemat.Materialize(ctx, e.backend, e.resolver, e.sandbox, fileID, versionID); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func distinctFileIDs(changes []changestore.Change) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range changes {
		if c.FileID == "" || seen[c.FileID] {
			continue
		}
		seen[c.FileID] = true
		out = append(out, c.FileID)
	}
	return out
}

// postCommit implements step 6: flush every queued post-commit effect.
// Failures are recorded in the span but never roll back already-durable
// data (spec §4.6 failure semantics).
func (e *Executor) postCommit(ctx context.Context, commitID string) {
	_, span := txexecTracer.Start(ctx, "txexec.post_commit")
	defer span.End()
	if commitID == "" {
		return
	}
	for _, err := range e.effects.FlushAfterCommit(ctx) {
		span.RecordError(err)
	}
}

func endSpanErr(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func toCellValues(params []any) []backend.CellValue {
	out := make([]backend.CellValue, len(params))
	for i, p := range params {
		if cv, ok := p.(backend.CellValue); ok {
			out[i] = cv
			continue
		}
		out[i] = classify(p)
	}
	return out
}

func classify(v any) backend.CellValue {
	switch val := v.(type) {
	case nil:
		return backend.Null
	case int64:
		return backend.CellValue{Kind: backend.KindInteger, Value: val}
	case int:
		return backend.CellValue{Kind: backend.KindInteger, Value: int64(val)}
	case float64:
		return backend.CellValue{Kind: backend.KindReal, Value: val}
	case string:
		return backend.CellValue{Kind: backend.KindText, Value: val}
	case []byte:
		return backend.CellValue{Kind: backend.KindBlob, Value: val}
	default:
		return backend.CellValue{Kind: backend.KindText, Value: v}
	}
}

