// Package filemat implements file materialization (spec §4.9, component C9):
// turning the unordered entity projection a file owns into the plugin's
// reconstructed byte representation. Grounded on
// internal/storage/dolt/wisps.go's read-then-transform shape, generalized
// from Dolt's native row projection to Lix's stateresolver-backed entity
// projection plus a sandboxed plugin call.
package filemat

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/lixerr"
	"github.com/lixdb/lix/internal/pluginsandbox"
	"github.com/lixdb/lix/internal/stateresolver"
)

// fileDescriptorSchema is the schema_key file descriptors (path, name,
// directory_id, extension, hidden, metadata) are recorded under — a plain
// entity like any other, resolved through the same C8 path as file content,
// not a dedicated physical table.
const fileDescriptorSchema = "lix_file"

// Materialize resolves every entity belonging to fileID in versionID's
// ancestry and hands the resulting projection to the owning plugin's
// apply-changes export. No ordering is assumed of the entity set itself
// (invariant 7); entities are sorted by id only to make the plugin call
// deterministic across runs with the same inputs.
func Materialize(ctx context.Context, be backend.Backend, resolver *stateresolver.Resolver, sandbox *pluginsandbox.Sandbox, fileID, versionID string) ([]byte, error) {
	entities, err := FileEntities(ctx, be, fileID, versionID)
	if err != nil {
		return nil, err
	}

	fd, err := fileDescriptor(ctx, resolver, fileID, versionID)
	if err != nil {
		return nil, err
	}

	pluginKey, err := PluginForFile(ctx, be, fileID)
	if err != nil {
		return nil, err
	}
	if pluginKey == "" {
		return nil, lixerr.Wrapf(lixerr.KindInvariant, nil, "file %q has no owning plugin", fileID)
	}

	changes := make([]pluginsandbox.EntityChange, 0, len(entities))
	for _, ent := range entities {
		res, err := resolver.Resolve(ctx, ent.EntityID, ent.SchemaKey, fileID, versionID)
		if err != nil {
			return nil, err
		}
		changes = append(changes, pluginsandbox.EntityChange{
			EntityID:      res.EntityID,
			SchemaKey:     res.SchemaKey,
			SchemaVersion: ent.SchemaVersion,
			SnapshotJSON:  res.ContentJSON, // nil for tombstoned entities
		})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].EntityID < changes[j].EntityID })

	return sandbox.ApplyChanges(ctx, pluginKey, fd, changes)
}

// EntityRef names one (entity_id, schema_key) pair ever recorded against a
// file, plus the schema_version its changes were written under.
type EntityRef struct {
	EntityID      string
	SchemaKey     string
	SchemaVersion string
}

// FileEntities enumerates the distinct (entity_id, schema_key) pairs ever
// recorded against fileID in versionID's ancestry; resolution of each one's
// current content is left to the stateresolver so absence/tombstones are
// handled uniformly with every other read path.
func FileEntities(ctx context.Context, be backend.Backend, fileID, versionID string) ([]EntityRef, error) {
	res, err := be.Execute(ctx, `
WITH RECURSIVE version_ancestry(version_id) AS (
    SELECT v.id FROM lix_internal_version v WHERE v.id = ?
    UNION ALL
    SELECT v.inherits_from_version_id
    FROM version_ancestry a JOIN lix_internal_version v ON v.id = a.version_id
    WHERE v.inherits_from_version_id IS NOT NULL
)
SELECT DISTINCT c.entity_id, c.schema_key, c.schema_version
FROM lix_internal_change c
JOIN lix_internal_change_set_element cse ON cse.change_id = c.id
JOIN lix_internal_commit cm ON cm.change_set_id = cse.change_set_id
JOIN version_ancestry a ON a.version_id = cm.version_id
WHERE c.file_id = ?`,
		[]backend.CellValue{
			{Kind: backend.KindText, Value: versionID},
			{Kind: backend.KindText, Value: fileID},
		})
	if err != nil {
		return nil, lixerr.Wrap("filemat.FileEntities", lixerr.KindBackend, err)
	}
	out := make([]EntityRef, 0, len(res.Rows))
	for _, row := range res.Rows {
		entityID, _ := row[0].Value.(string)
		schemaKey, _ := row[1].Value.(string)
		schemaVersion, _ := row[2].Value.(string)
		out = append(out, EntityRef{EntityID: entityID, SchemaKey: schemaKey, SchemaVersion: schemaVersion})
	}
	return out, nil
}

// fileDescriptor resolves fileID's own descriptor entity the same way any
// other entity is resolved (invariant 1: content-addressed, version-scoped).
func fileDescriptor(ctx context.Context, resolver *stateresolver.Resolver, fileID, versionID string) (pluginsandbox.FileDescriptor, error) {
	res, err := resolver.Resolve(ctx, fileID, fileDescriptorSchema, "", versionID)
	if err != nil {
		return pluginsandbox.FileDescriptor{}, err
	}
	if res.ContentJSON == nil {
		return pluginsandbox.FileDescriptor{}, lixerr.Wrapf(lixerr.KindInvariant, nil, "file %q not found in version %q", fileID, versionID)
	}
	var fd pluginsandbox.FileDescriptor
	if err := json.Unmarshal(res.ContentJSON, &fd); err != nil {
		return pluginsandbox.FileDescriptor{}, lixerr.Wrap("filemat.fileDescriptor", lixerr.KindInvariant, err)
	}
	fd.ID = fileID
	return fd, nil
}

// PluginForFile finds the plugin key recorded against any of fileID's
// changes, since every change to a lix_file-backed entity is recorded by the
// plugin that produced it (spec §4.10) and all such changes share one owner.
// Returns "" with no error if fileID has no changes yet (a brand new file).
func PluginForFile(ctx context.Context, be backend.Backend, fileID string) (string, error) {
	res, err := be.Execute(ctx, `
SELECT plugin_key
FROM lix_internal_change
WHERE file_id = ? AND plugin_key IS NOT NULL AND plugin_key != ''
LIMIT 1`,
		[]backend.CellValue{{Kind: backend.KindText, Value: fileID}})
	if err != nil {
		return "", lixerr.Wrap("filemat.PluginForFile", lixerr.KindBackend, err)
	}
	if len(res.Rows) == 0 {
		return "", nil
	}
	key, _ := res.Rows[0][0].Value.(string)
	return key, nil
}
