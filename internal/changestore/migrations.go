package changestore

import (
	"context"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/lixerr"
)

// migration is one idempotent schema step, run unconditionally in order —
// every statement uses IF NOT EXISTS, mirroring the teacher's
// PRAGMA-table_info-before-ALTER idiom but simplified since changestore
// owns its tables outright (no pre-existing issue-tracker schema to probe).
type migration struct {
	name string
	sql  []string
}

var migrationsList = []migration{
	{
		name: "lix_internal_snapshot",
		sql: []string{
			`CREATE TABLE IF NOT EXISTS lix_internal_snapshot (
                id           TEXT PRIMARY KEY,
                content_json TEXT NOT NULL
            )`,
		},
	},
	{
		name: "lix_internal_change",
		sql: []string{
			`CREATE TABLE IF NOT EXISTS lix_internal_change (
                id             TEXT PRIMARY KEY,
                entity_id      TEXT NOT NULL,
                schema_key     TEXT NOT NULL,
                schema_version TEXT NOT NULL,
                file_id        TEXT,
                plugin_key     TEXT,
                snapshot_id    TEXT REFERENCES lix_internal_snapshot(id),
                writer_key     TEXT
            )`,
			`CREATE INDEX IF NOT EXISTS idx_change_entity ON lix_internal_change(entity_id, schema_key, file_id)`,
			`CREATE INDEX IF NOT EXISTS idx_change_file ON lix_internal_change(file_id)`,
		},
	},
	{
		name: "lix_internal_commit",
		sql: []string{
			`CREATE TABLE IF NOT EXISTS lix_internal_commit (
                id             TEXT PRIMARY KEY,
                version_id     TEXT NOT NULL,
                change_set_id  TEXT NOT NULL,
                metadata_json  TEXT,
                created_at     TEXT NOT NULL
            )`,
			`CREATE INDEX IF NOT EXISTS idx_commit_version ON lix_internal_commit(version_id)`,
			`CREATE INDEX IF NOT EXISTS idx_commit_change_set ON lix_internal_commit(change_set_id)`,
		},
	},
	{
		name: "lix_internal_commit_edge",
		sql: []string{
			`CREATE TABLE IF NOT EXISTS lix_internal_commit_edge (
                child_commit_id  TEXT NOT NULL REFERENCES lix_internal_commit(id),
                parent_commit_id TEXT NOT NULL REFERENCES lix_internal_commit(id),
                PRIMARY KEY (child_commit_id, parent_commit_id)
            )`,
			`CREATE INDEX IF NOT EXISTS idx_commit_edge_parent ON lix_internal_commit_edge(parent_commit_id)`,
		},
	},
	{
		name: "lix_internal_change_set_element",
		sql: []string{
			`CREATE TABLE IF NOT EXISTS lix_internal_change_set_element (
                change_set_id TEXT NOT NULL,
                change_id     TEXT NOT NULL REFERENCES lix_internal_change(id),
                PRIMARY KEY (change_set_id, change_id)
            )`,
			`CREATE INDEX IF NOT EXISTS idx_cse_change ON lix_internal_change_set_element(change_id)`,
		},
	},
	{
		name: "lix_internal_version",
		sql: []string{
			`CREATE TABLE IF NOT EXISTS lix_internal_version (
                id                      TEXT PRIMARY KEY,
                name                    TEXT,
                inherits_from_version_id TEXT REFERENCES lix_internal_version(id),
                tip_commit_id           TEXT,
                working_commit_id       TEXT,
                hidden                  INTEGER NOT NULL DEFAULT 0
            )`,
		},
	},
}

func runMigrations(ctx context.Context, be backend.Backend) error {
	for _, m := range migrationsList {
		for _, stmt := range m.sql {
			if _, err := be.Execute(ctx, stmt, nil); err != nil {
				return lixerr.Wrapf(lixerr.KindBackend, err, "changestore migration %q", m.name)
			}
		}
	}
	return nil
}

// ListMigrations returns the names of all registered migrations, mirroring
// the teacher's ListMigrations()/MigrationInfo inspection surface.
func ListMigrations() []string {
	names := make([]string, len(migrationsList))
	for i, m := range migrationsList {
		names[i] = m.name
	}
	return names
}
