// Package changestore owns the physical content-addressed tables C7
// describes: change, snapshot, commit, commit_edge, and change_set_element.
// Grounded on the teacher's internal/storage/sqlite package shape (a Store
// wrapping backend access plus a migrations subpackage), narrowed from the
// issue tracker's fifty-table schema to the five tables the commit-DAG model
// actually needs.
package changestore

import (
	"context"
	"fmt"
	"time"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/idgen"
	"github.com/lixdb/lix/internal/lixerr"
)

// Change is one content-addressed fact: "this entity, under this schema, in
// this file, owned by this plugin, has this snapshot" (or, if SnapshotID is
// empty, a tombstone).
type Change struct {
	ID            string
	EntityID      string
	SchemaKey     string
	SchemaVersion string
	FileID        string
	PluginKey     string
	SnapshotID    string // empty means tombstone
	WriterKey     string
}

// Snapshot is immutable, content-addressed JSON. Two changes with identical
// content share one snapshot row (dedup via hash equality).
type Snapshot struct {
	ID          string
	ContentJSON []byte
}

// Commit groups a ChangeSetElement batch under one or more parent commits.
type Commit struct {
	ID          string
	VersionID   string
	ChangeSetID string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// ChangeSetElement links a Change into the ChangeSet a Commit points at.
type ChangeSetElement struct {
	ChangeSetID string
	ChangeID    string
}

// CommitEdge records one parent/child edge in the commit DAG, maintained
// transactionally as each commit lands (spec §4.7).
type CommitEdge struct {
	ChildCommitID  string
	ParentCommitID string
}

// execer is the subset of backend.Backend and backend.Tx that Store needs.
// Both satisfy it, so the same Store methods can run either against the
// backend directly (e.g. during Migrate) or against an open backend.Tx
// (the executor's normal case, so change-store writes land inside the same
// transaction as the prepared statements that produced them).
type execer interface {
	Execute(ctx context.Context, sql string, params []backend.CellValue) (*backend.Result, error)
}

// Store wraps a backend.Backend with change-store-specific operations. It
// does not itself decide transaction boundaries; the executor (C6) drives
// Store methods inside the backend transaction it already holds, via
// WithExecer.
type Store struct {
	be backend.Backend // retained for Migrate, which runs outside any Tx
	ex execer
}

// New wraps be; callers must call Migrate before using the returned Store.
func New(be backend.Backend) *Store {
	return &Store{be: be, ex: be}
}

// WithExecer returns a shallow copy of s whose writes run against ex instead
// of the raw backend — pass an open backend.Tx so RecordChange/CreateCommit/
// LinkChangeToChangeSet land inside the executor's transaction rather than
// autocommitting outside it.
func (s *Store) WithExecer(ex execer) *Store {
	return &Store{be: s.be, ex: ex}
}

// Migrate creates the change-store tables (the five content-addressed ones
// plus lix_internal_version) if absent. It is idempotent because every
// statement is CREATE ... IF NOT EXISTS; no schema-version counter is kept.
func (s *Store) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.be)
}

// PutSnapshot writes content, deduped by content hash (P-style dedup: two
// identical payloads produce the same snapshot row, invariant 1).
func (s *Store) PutSnapshot(ctx context.Context, contentJSON []byte) (string, error) {
	id := idgen.SnapshotID(contentJSON)
	_, err := s.ex.Execute(ctx, `INSERT OR IGNORE INTO lix_internal_snapshot (id, content_json) VALUES (?, ?)`,
		[]backend.CellValue{
			{Kind: backend.KindText, Value: id},
			{Kind: backend.KindText, Value: string(contentJSON)},
		})
	if err != nil {
		return "", lixerr.Wrap("changestore.PutSnapshot", lixerr.KindBackend, err)
	}
	return id, nil
}

// RecordChange computes the change's content-addressed id and inserts it,
// returning the id so the caller can link it into a ChangeSetElement.
// snapshotID empty means a tombstone.
func (s *Store) RecordChange(ctx context.Context, c Change) (string, error) {
	id := idgen.ChangeID(c.EntityID, c.SchemaKey, c.SchemaVersion, c.FileID, c.PluginKey, c.SnapshotID)
	snap := backend.Null
	if c.SnapshotID != "" {
		snap = backend.CellValue{Kind: backend.KindText, Value: c.SnapshotID}
	}
	writer := backend.Null
	if c.WriterKey != "" {
		writer = backend.CellValue{Kind: backend.KindText, Value: c.WriterKey}
	}
	_, err := s.ex.Execute(ctx, `INSERT OR IGNORE INTO lix_internal_change
        (id, entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_id, writer_key)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		[]backend.CellValue{
			{Kind: backend.KindText, Value: id},
			{Kind: backend.KindText, Value: c.EntityID},
			{Kind: backend.KindText, Value: c.SchemaKey},
			{Kind: backend.KindText, Value: c.SchemaVersion},
			{Kind: backend.KindText, Value: c.FileID},
			{Kind: backend.KindText, Value: c.PluginKey},
			snap,
			writer,
		})
	if err != nil {
		return "", lixerr.Wrap("changestore.RecordChange", lixerr.KindBackend, err)
	}
	return id, nil
}

// CreateCommit writes a commit row and its commit_edge rows to parents, in
// one statement batch. depth bookkeeping for ancestry walks is computed by
// the caller (stateresolver) from commit_edge, not stored on Commit itself —
// grounded on storage/dolt/versioned.go's ancestry-bookkeeping-on-commit
// idiom, generalized from Dolt's native DAG to Lix's own commit_edge table.
func (s *Store) CreateCommit(ctx context.Context, versionID, changeSetID string, parentIDs []string, metadataJSON []byte) (string, error) {
	id := idgen.CommitID(changeSetID, parentIDs)
	_, err := s.ex.Execute(ctx, `INSERT INTO lix_internal_commit (id, version_id, change_set_id, metadata_json, created_at)
        VALUES (?, ?, ?, ?, ?)`,
		[]backend.CellValue{
			{Kind: backend.KindText, Value: id},
			{Kind: backend.KindText, Value: versionID},
			{Kind: backend.KindText, Value: changeSetID},
			{Kind: backend.KindText, Value: string(metadataJSON)},
			{Kind: backend.KindText, Value: time.Now().UTC().Format(time.RFC3339Nano)},
		})
	if err != nil {
		return "", lixerr.Wrap("changestore.CreateCommit", lixerr.KindBackend, err)
	}
	for _, parent := range parentIDs {
		if _, err := s.ex.Execute(ctx, `INSERT INTO lix_internal_commit_edge (child_commit_id, parent_commit_id) VALUES (?, ?)`,
			[]backend.CellValue{
				{Kind: backend.KindText, Value: id},
				{Kind: backend.KindText, Value: parent},
			}); err != nil {
			return "", lixerr.Wrap("changestore.CreateCommit", lixerr.KindBackend, err)
		}
	}
	return id, nil
}

// WorkingCommit returns the version's current working commit id and the
// change set it accumulates into. Every ordinary write links its change into
// this same change set rather than minting a new commit — the working
// commit only becomes permanent history when CreateCheckpoint seals it.
func (s *Store) WorkingCommit(ctx context.Context, versionID string) (commitID, changeSetID string, err error) {
	res, err := s.ex.Execute(ctx, `SELECT c.id, c.change_set_id
        FROM lix_internal_version v JOIN lix_internal_commit c ON c.id = v.working_commit_id
        WHERE v.id = ?`,
		[]backend.CellValue{{Kind: backend.KindText, Value: versionID}})
	if err != nil {
		return "", "", lixerr.Wrap("changestore.WorkingCommit", lixerr.KindBackend, err)
	}
	if len(res.Rows) == 0 {
		return "", "", lixerr.Wrapf(lixerr.KindInvariant, nil, "version %s has no working commit", versionID)
	}
	row := res.Rows[0]
	return fmt.Sprintf("%v", row[0].Value), fmt.Sprintf("%v", row[1].Value), nil
}

// CreateWorkingCommit mints a fresh, empty working commit parented on
// parentCommitID (empty for a brand-new version's first working commit) and
// points versionID's working_commit_id at it. Unlike every other commit id
// in the tree, the working commit's change set cannot be content-addressed
// from its (empty, then accumulating) contents — idgen.WorkingChangeSetID
// deliberately breaks from that doctrine to give it a stable, unique id.
func (s *Store) CreateWorkingCommit(ctx context.Context, versionID, parentCommitID string) (commitID, changeSetID string, err error) {
	changeSetID = idgen.WorkingChangeSetID(versionID)
	var parentIDs []string
	if parentCommitID != "" {
		parentIDs = []string{parentCommitID}
	}
	commitID, err = s.CreateCommit(ctx, versionID, changeSetID, parentIDs, []byte(`{"kind":"working"}`))
	if err != nil {
		return "", "", err
	}
	_, err = s.ex.Execute(ctx, `UPDATE lix_internal_version SET working_commit_id = ? WHERE id = ?`,
		[]backend.CellValue{
			{Kind: backend.KindText, Value: commitID},
			{Kind: backend.KindText, Value: versionID},
		})
	if err != nil {
		return "", "", lixerr.Wrap("changestore.CreateWorkingCommit", lixerr.KindBackend, err)
	}
	return commitID, changeSetID, nil
}

// LinkChangeToChangeSet records one change_set_element row.
func (s *Store) LinkChangeToChangeSet(ctx context.Context, changeSetID, changeID string) error {
	_, err := s.ex.Execute(ctx, `INSERT OR IGNORE INTO lix_internal_change_set_element (change_set_id, change_id) VALUES (?, ?)`,
		[]backend.CellValue{
			{Kind: backend.KindText, Value: changeSetID},
			{Kind: backend.KindText, Value: changeID},
		})
	if err != nil {
		return lixerr.Wrap("changestore.LinkChangeToChangeSet", lixerr.KindBackend, err)
	}
	return nil
}
