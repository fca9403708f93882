// Package lowerer builds the physical SQL for the rewrites spec §4.5 names:
// the recursive ancestry-then-latest-snapshot projection behind lix_state
// and its variants, the raw entity fetch behind lix_file reads, and the
// entity-upsert template behind every writable surface. Grounded on
// internal/storage/dolt/versioned.go's AS-OF/history-walk queries,
// generalized from Dolt-native time travel (the Dolt backend's own
// versioning) to Lix's backend-agnostic commit-DAG walk — the default
// backend, sqlite, has no native time travel, so the walk has to be
// expressed as a plain recursive CTE that works identically on both.
package lowerer

import "fmt"

// StateProjection builds the query shared by lix_state and its by-version /
// with-tombstones variants: a recursive walk of commit ancestry for the
// given version, keeping only the most-recent (lowest ancestry depth, most
// recent commit) row per (entity_id, schema_key, file_id).
//
// byVersion widens the anchor from a single version to every version row
// (lix_state_by_version), tracking each row's own root alongside the
// ancestor it walks through so the winner picked per (root, entity) can
// report whether it came from the root version itself or was inherited
// (P9); includeTombstones keeps rows whose latest change has a NULL
// snapshot_id instead of filtering them out (lix_state_with_tombstones).
func StateProjection(activeVersionID string, byVersion, includeTombstones bool) string {
	tombstoneFilter := "AND latest.snapshot_id IS NOT NULL"
	if includeTombstones {
		tombstoneFilter = ""
	}
	if !byVersion {
		versionFilter := fmt.Sprintf("WHERE v.id = '%s'", activeVersionID)
		return fmt.Sprintf(`
WITH RECURSIVE version_ancestry(version_id, depth) AS (
    SELECT v.id, 0 FROM lix_internal_version v %s
    UNION ALL
    SELECT v.inherits_from_version_id, a.depth + 1
    FROM version_ancestry a JOIN lix_internal_version v ON v.id = a.version_id
    WHERE v.inherits_from_version_id IS NOT NULL
),
latest_per_entity AS (
    SELECT c.entity_id, c.schema_key, c.file_id, c.snapshot_id, c.writer_key,
           ROW_NUMBER() OVER (
               PARTITION BY c.entity_id, c.schema_key, c.file_id
               ORDER BY a.depth ASC, cm.created_at DESC
           ) AS rn
    FROM lix_internal_change c
    JOIN lix_internal_change_set_element cse ON cse.change_id = c.id
    JOIN lix_internal_commit cm ON cm.change_set_id = cse.change_set_id
    JOIN version_ancestry a ON a.version_id = cm.version_id
)
SELECT latest.entity_id, latest.schema_key, latest.file_id, s.content_json, latest.writer_key
FROM latest_per_entity latest
LEFT JOIN lix_internal_snapshot s ON s.id = latest.snapshot_id
WHERE latest.rn = 1 %s`, versionFilter, tombstoneFilter)
	}

	return fmt.Sprintf(`
WITH RECURSIVE version_ancestry(root_version_id, version_id, depth) AS (
    SELECT v.id, v.id, 0 FROM lix_internal_version v
    UNION ALL
    SELECT a.root_version_id, v.inherits_from_version_id, a.depth + 1
    FROM version_ancestry a JOIN lix_internal_version v ON v.id = a.version_id
    WHERE v.inherits_from_version_id IS NOT NULL
),
latest_per_entity AS (
    SELECT a.root_version_id, a.version_id AS source_version_id,
           c.entity_id, c.schema_key, c.file_id, c.snapshot_id, c.writer_key,
           ROW_NUMBER() OVER (
               PARTITION BY a.root_version_id, c.entity_id, c.schema_key, c.file_id
               ORDER BY a.depth ASC, cm.created_at DESC
           ) AS rn
    FROM lix_internal_change c
    JOIN lix_internal_change_set_element cse ON cse.change_id = c.id
    JOIN lix_internal_commit cm ON cm.change_set_id = cse.change_set_id
    JOIN version_ancestry a ON a.version_id = cm.version_id
)
SELECT latest.root_version_id AS version_id, latest.entity_id, latest.schema_key,
       latest.file_id, s.content_json, latest.writer_key,
       CASE WHEN latest.source_version_id = latest.root_version_id THEN NULL
            ELSE latest.source_version_id END AS inherited_from_version_id
FROM latest_per_entity latest
LEFT JOIN lix_internal_snapshot s ON s.id = latest.snapshot_id
WHERE latest.rn = 1 %s`, tombstoneFilter)
}

// StateHistory builds the full depth-ordered history for one version's
// ancestry, with no latest-only filtering (lix_state_history, read-only).
func StateHistory(activeVersionID string) string {
	return fmt.Sprintf(`
WITH RECURSIVE version_ancestry(version_id, depth) AS (
    SELECT v.id, 0 FROM lix_internal_version v WHERE v.id = '%s'
    UNION ALL
    SELECT v.inherits_from_version_id, a.depth + 1
    FROM version_ancestry a JOIN lix_internal_version v ON v.id = a.version_id
    WHERE v.inherits_from_version_id IS NOT NULL
)
SELECT c.entity_id, c.schema_key, c.file_id, s.content_json, a.depth, cm.id AS commit_id
FROM lix_internal_change c
JOIN lix_internal_change_set_element cse ON cse.change_id = c.id
JOIN lix_internal_commit cm ON cm.change_set_id = cse.change_set_id
JOIN version_ancestry a ON a.version_id = cm.version_id
LEFT JOIN lix_internal_snapshot s ON s.id = c.snapshot_id
ORDER BY a.depth DESC`, activeVersionID)
}

// FileEntityProjection fetches the raw entity rows a lix_file read
// materializes over (rewrite 2: "resolve all entities with the matching
// file_id" — the plugin call itself happens in internal/filemat, not here).
// It wraps StateProjection rather than naming a physical lix_state table,
// since none exists; the caller binds the file id as the query's one param.
func FileEntityProjection(activeVersionID string) string {
	return fmt.Sprintf(`SELECT entity_id, schema_key, content_json FROM (%s) AS proj WHERE file_id = ?`,
		StateProjection(activeVersionID, false, false))
}

// EntityUpsert builds the canonical upsert template every plain entity
// surface (lix_key_value, lix_directory, lix_commit, ...) writes through:
// a single logical entity keyed by entity_id under the given schema_key.
// The executor supplies id, entity_id, schema_version, file_id, plugin_key,
// snapshot_id and writer_key positionally.
func EntityUpsert(schemaKey string) string {
	return fmt.Sprintf(`INSERT INTO lix_internal_change (id, entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_id, writer_key)
VALUES (?, ?, '%s', ?, ?, ?, ?, ?)`, schemaKey)
}

// Tombstone builds the write that marks an entity deleted: a change row
// whose snapshot_id is NULL, terminal at the commit it belongs to
// (spec §3: "snapshot_id = null marks deletion").
func Tombstone(schemaKey string) string {
	return fmt.Sprintf(`INSERT INTO lix_internal_change (id, entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_id, writer_key)
VALUES (?, ?, '%s', ?, ?, ?, NULL, ?)`, schemaKey)
}

// EntityUpsertDynamic is EntityUpsert with schema_key left as a bound
// placeholder instead of a literal, for lix_state writes: unlike every
// other surface, lix_state's schema_key varies per row rather than being
// fixed by the table the statement targets.
func EntityUpsertDynamic() string {
	return `INSERT INTO lix_internal_change (id, entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_id, writer_key)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
}

// TombstoneDynamic is Tombstone with schema_key left as a bound placeholder.
func TombstoneDynamic() string {
	return `INSERT INTO lix_internal_change (id, entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_id, writer_key)
VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`
}
