package surface

import (
	"fmt"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/lixdb/lix/internal/lowerer"
)

// stateSurface implements lix_state: latest resolved entity state in the
// active version, direct entity upsert/tombstone bypassing any plugin
// (spec §4.3's table, row 2).
type stateSurface struct{ table string }

func newStateSurface() *stateSurface { return &stateSurface{table: "lix_state"} }

func (s *stateSurface) Name() string { return s.table }

func (s *stateSurface) Classify(stmt sqlparser.Statement) bool {
	return primaryTable(stmt) == s.table
}

func (s *stateSurface) DeriveRequirements(ctx *PlanContext) []Requirement {
	return []Requirement{{Kind: "active_version"}}
}

// LowerRead rewrites a read over lix_state into the bounded recursive CTE
// that walks commit ancestry for the active version's tip, projecting the
// latest non-tombstone snapshot per (entity_id, schema_key, file_id) —
// spec §4.5's first rewrite. The CTE body itself is built by
// internal/lowerer against C7/C8's physical tables; this surface only
// supplies the active-version anchor the CTE needs.
func (s *stateSurface) LowerRead(ctx *PlanContext) (*LoweredQuery, error) {
	return &LoweredQuery{
		SQL:    lowerer.StateProjection(ctx.ActiveVersionID, false, false),
		Params: nil,
	}, nil
}

// LowerWrite implements lix_state's direct entity upsert/tombstone: unlike
// every other writable surface, schema_key comes from the statement itself
// rather than being fixed per table, so it uses the *Dynamic lowerer
// templates and binds schema_key as a parameter too.
func (s *stateSurface) LowerWrite(ctx *PlanContext) (*LoweredWrite, error) {
	sw, err := extractStateWrite(ctx.Statement)
	if err != nil {
		return nil, err
	}
	q := LoweredQuery{EntityID: sw.EntityID, SchemaKey: sw.SchemaKey, SchemaKeyBound: true}
	if sw.IsDelete {
		q.SQL = lowerer.TombstoneDynamic()
		q.Kind = "tombstone"
	} else {
		q.SQL = lowerer.EntityUpsertDynamic()
		q.Kind = "entity_upsert"
		q.ContentJSON = sw.ContentJSON
	}
	return &LoweredWrite{
		Queries:  []LoweredQuery{q},
		Requires: []Requirement{{Kind: "active_version"}, {Kind: "writer_key"}},
	}, nil
}

type stateByVersionSurface struct{ table string }

func newStateByVersionSurface() *stateByVersionSurface {
	return &stateByVersionSurface{table: "lix_state_by_version"}
}

func (s *stateByVersionSurface) Name() string { return s.table }
func (s *stateByVersionSurface) Classify(stmt sqlparser.Statement) bool {
	return primaryTable(stmt) == s.table
}
func (s *stateByVersionSurface) DeriveRequirements(ctx *PlanContext) []Requirement {
	return []Requirement{{Kind: "version", Arg: ctx.ActiveVersionID}}
}
func (s *stateByVersionSurface) LowerRead(ctx *PlanContext) (*LoweredQuery, error) {
	return &LoweredQuery{SQL: lowerer.StateProjection(ctx.ActiveVersionID, true, false)}, nil
}
func (s *stateByVersionSurface) LowerWrite(ctx *PlanContext) (*LoweredWrite, error) {
	return &LoweredWrite{Requires: []Requirement{{Kind: "version", Arg: ctx.ActiveVersionID}}}, nil
}

type stateHistorySurface struct{ table string }

func newStateHistorySurface() *stateHistorySurface {
	return &stateHistorySurface{table: "lix_state_history"}
}

func (s *stateHistorySurface) Name() string { return s.table }
func (s *stateHistorySurface) Classify(stmt sqlparser.Statement) bool {
	return primaryTable(stmt) == s.table
}
func (s *stateHistorySurface) DeriveRequirements(ctx *PlanContext) []Requirement {
	return []Requirement{{Kind: "active_version"}}
}
func (s *stateHistorySurface) LowerRead(ctx *PlanContext) (*LoweredQuery, error) {
	return &LoweredQuery{SQL: lowerer.StateHistory(ctx.ActiveVersionID)}, nil
}
func (s *stateHistorySurface) LowerWrite(ctx *PlanContext) (*LoweredWrite, error) {
	return nil, fmt.Errorf("lix_state_history is read-only")
}

type stateWithTombstonesSurface struct{ table string }

func newStateWithTombstonesSurface() *stateWithTombstonesSurface {
	return &stateWithTombstonesSurface{table: "lix_state_with_tombstones"}
}

func (s *stateWithTombstonesSurface) Name() string { return s.table }
func (s *stateWithTombstonesSurface) Classify(stmt sqlparser.Statement) bool {
	return primaryTable(stmt) == s.table
}
func (s *stateWithTombstonesSurface) DeriveRequirements(ctx *PlanContext) []Requirement {
	return []Requirement{{Kind: "active_version"}}
}
func (s *stateWithTombstonesSurface) LowerRead(ctx *PlanContext) (*LoweredQuery, error) {
	return &LoweredQuery{SQL: lowerer.StateProjection(ctx.ActiveVersionID, false, true)}, nil
}
func (s *stateWithTombstonesSurface) LowerWrite(ctx *PlanContext) (*LoweredWrite, error) {
	return nil, fmt.Errorf("lix_state_with_tombstones is read-only")
}

