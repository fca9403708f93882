// Package stateresolver implements the 4-step resolution algorithm of spec
// §4.8: (entity_id, schema_key, file_id, version_id) -> snapshot | absent,
// plus a per-version materialized-state cache so repeated reads skip the
// full ancestry walk. Grounded on internal/storage/dolt/store.go's
// connection-cache idiom (an atomic.Bool-guarded, mutex-protected struct
// keyed per connection), generalized from "cache a DB handle" to "cache a
// version's resolved entity set".
package stateresolver

import (
	"context"
	"sync"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/lixerr"
)

// Resolution is the outcome of resolving one entity: its snapshot content,
// or absence, with inheritance attribution per spec §4.8 step 3.
type Resolution struct {
	EntityID              string
	SchemaKey             string
	FileID                string
	ContentJSON           []byte // nil if absent or tombstoned
	Tombstoned            bool
	InheritedFromVersion  string // empty if resolved directly in version_id
}

// Resolver resolves entity state against a backend and caches the result
// per version id until invalidated.
type Resolver struct {
	be backend.Backend

	mu    sync.Mutex
	cache map[string]map[string]*Resolution // version_id -> entity key -> resolution
}

// New builds a Resolver over be. The cache starts empty; InvalidateVersion
// is called by the executor's apply_effects_tx step (C6 step 4), before
// commit, so readers sharing the Resolver never observe stale state;
// lix.Lix.Execute and Tx.Commit call it once more after commit.
func New(be backend.Backend) *Resolver {
	return &Resolver{be: be, cache: make(map[string]map[string]*Resolution)}
}

func entityKey(entityID, schemaKey, fileID string) string {
	return schemaKey + "\x00" + fileID + "\x00" + entityID
}

// Resolve implements the 4-step algorithm against versionID, consulting the
// materialized cache first.
func (r *Resolver) Resolve(ctx context.Context, entityID, schemaKey, fileID, versionID string) (*Resolution, error) {
	if cached := r.lookupCache(versionID, entityID, schemaKey, fileID); cached != nil {
		return cached, nil
	}

	res, err := r.resolveUncached(ctx, entityID, schemaKey, fileID, versionID)
	if err != nil {
		return nil, err
	}
	r.storeCache(versionID, res)
	return res, nil
}

func (r *Resolver) lookupCache(versionID, entityID, schemaKey, fileID string) *Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	byVersion, ok := r.cache[versionID]
	if !ok {
		return nil
	}
	return byVersion[entityKey(entityID, schemaKey, fileID)]
}

func (r *Resolver) storeCache(versionID string, res *Resolution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byVersion, ok := r.cache[versionID]
	if !ok {
		byVersion = make(map[string]*Resolution)
		r.cache[versionID] = byVersion
	}
	byVersion[entityKey(res.EntityID, res.SchemaKey, res.FileID)] = res
}

// InvalidateVersion drops every cached resolution for versionID. Called
// from an InvalidateMaterializedState(scope) effect.
func (r *Resolver) InvalidateVersion(versionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, versionID)
}

// resolveUncached performs steps 1-3: walk the working commit's ancestry for
// the closest (depth 0 = the working commit itself) change to this entity; if none exists
// in versionID's own history, recurse into its parent version.
func (r *Resolver) resolveUncached(ctx context.Context, entityID, schemaKey, fileID, versionID string) (*Resolution, error) {
	row, err := r.queryLatestInVersion(ctx, entityID, schemaKey, fileID, versionID)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row, nil
	}

	parentVersionID, err := r.parentVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if parentVersionID == "" {
		return &Resolution{EntityID: entityID, SchemaKey: schemaKey, FileID: fileID}, nil // absent, step 4
	}

	inherited, err := r.resolveUncached(ctx, entityID, schemaKey, fileID, parentVersionID)
	if err != nil {
		return nil, err
	}
	if inherited.ContentJSON != nil || inherited.Tombstoned {
		inherited.InheritedFromVersion = parentVersionID
	}
	return inherited, nil
}

// queryLatestInVersion walks the working commit's ancestry (including the
// working commit itself, then every sealed commit a checkpoint has chained
// behind it) in topological order and returns the change with the smallest
// depth for this entity, or nil if versionID's own history has no change
// for it. Anchoring at working_commit_id rather than tip_commit_id is what
// makes uncommitted edits in the same session visible to readers.
func (r *Resolver) queryLatestInVersion(ctx context.Context, entityID, schemaKey, fileID, versionID string) (*Resolution, error) {
	res, err := r.be.Execute(ctx, `
WITH RECURSIVE ancestry(commit_id, depth) AS (
    SELECT v.working_commit_id, 0 FROM lix_internal_version v WHERE v.id = ?
    UNION ALL
    SELECT e.parent_commit_id, a.depth + 1
    FROM ancestry a JOIN lix_internal_commit_edge e ON e.child_commit_id = a.commit_id
)
SELECT c.snapshot_id, s.content_json
FROM lix_internal_change c
JOIN lix_internal_change_set_element cse ON cse.change_id = c.id
JOIN lix_internal_commit cm ON cm.change_set_id = cse.change_set_id
JOIN ancestry a ON a.commit_id = cm.id
LEFT JOIN lix_internal_snapshot s ON s.id = c.snapshot_id
WHERE c.entity_id = ? AND c.schema_key = ? AND c.file_id = ?
ORDER BY a.depth ASC
LIMIT 1`,
		[]backend.CellValue{
			{Kind: backend.KindText, Value: versionID},
			{Kind: backend.KindText, Value: entityID},
			{Kind: backend.KindText, Value: schemaKey},
			{Kind: backend.KindText, Value: fileID},
		})
	if err != nil {
		return nil, lixerr.Wrap("stateresolver.Resolve", lixerr.KindBackend, err)
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	row := res.Rows[0]
	resolution := &Resolution{EntityID: entityID, SchemaKey: schemaKey, FileID: fileID}
	if row[0].Kind == backend.KindNull {
		resolution.Tombstoned = true
		return resolution, nil
	}
	if row[1].Kind != backend.KindNull {
		if s, ok := row[1].Value.(string); ok {
			resolution.ContentJSON = []byte(s)
		}
	}
	return resolution, nil
}

func (r *Resolver) parentVersion(ctx context.Context, versionID string) (string, error) {
	res, err := r.be.Execute(ctx, `SELECT inherits_from_version_id FROM lix_internal_version WHERE id = ?`,
		[]backend.CellValue{{Kind: backend.KindText, Value: versionID}})
	if err != nil {
		return "", lixerr.Wrap("stateresolver.parentVersion", lixerr.KindBackend, err)
	}
	if len(res.Rows) == 0 || res.Rows[0][0].Kind == backend.KindNull {
		return "", nil
	}
	parent, _ := res.Rows[0][0].Value.(string)
	return parent, nil
}
