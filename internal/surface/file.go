package surface

import (
	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/lixdb/lix/internal/lowerer"
)

// fileSurface implements lix_file: reads return the file's raw entity rows
// (the owning plugin's apply-changes is not run on them, so no file bytes
// are materialized); writes call detect-changes and emit the resulting
// entity changes as postprocess actions (spec §4.3 and §4.5's rewrites 2-4).
type fileSurface struct{ table string }

func newFileSurface() *fileSurface { return &fileSurface{table: "lix_file"} }

func (s *fileSurface) Name() string { return s.table }

func (s *fileSurface) Classify(stmt sqlparser.Statement) bool {
	return primaryTable(stmt) == s.table
}

func (s *fileSurface) DeriveRequirements(ctx *PlanContext) []Requirement {
	return []Requirement{{Kind: "active_version"}, {Kind: "file_descriptor"}}
}

// LowerRead resolves every entity with the matching file_id. The lowered
// SQL fetches the raw entity projection (entity_id, schema_key,
// content_json). The planner attaches a materialize_file postprocess
// action, but the executor does not run it, so the read returns these rows
// rather than bytes reconstructed by C9 (internal/filemat).
func (s *fileSurface) LowerRead(ctx *PlanContext) (*LoweredQuery, error) {
	fileID, err := selectWhereEquals(ctx.Statement, "id")
	if err != nil {
		return nil, err
	}
	return &LoweredQuery{
		SQL:    lowerer.FileEntityProjection(ctx.ActiveVersionID),
		Params: []any{fileID},
	}, nil
}

// LowerWrite handles both INSERT/UPDATE (detect-changes against the plugin)
// and DELETE (tombstone every entity for the file) — the plugin call and
// tombstone emission are postprocess actions the planner attaches, not SQL:
// extraction here only pulls the file id/path/bytes out of the bound
// statement, the executor does the actual detect-changes round trip.
func (s *fileSurface) LowerWrite(ctx *PlanContext) (*LoweredWrite, error) {
	fw, err := extractFileWrite(ctx.Statement)
	if err != nil {
		return nil, err
	}
	return &LoweredWrite{
		Requires: []Requirement{{Kind: "active_version"}, {Kind: "plugin_for_file"}, {Kind: "writer_key"}},
		FileWrite: &FileWrite{
			FileID:   fw.FileID,
			Path:     fw.Path,
			Data:     fw.Data,
			IsDelete: fw.IsDelete,
		},
	}, nil
}
