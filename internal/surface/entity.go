package surface

import (
	"fmt"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/lixdb/lix/internal/lowerer"
)

// keyValueSurface implements lix_key_value: a plain entity surface where
// entity_id is the key column directly (spec §4.5's rewrite 5).
type keyValueSurface struct{ table string }

func newKeyValueSurface() *keyValueSurface { return &keyValueSurface{table: "lix_key_value"} }

func (s *keyValueSurface) Name() string { return s.table }
func (s *keyValueSurface) Classify(stmt sqlparser.Statement) bool {
	return primaryTable(stmt) == s.table
}
func (s *keyValueSurface) DeriveRequirements(ctx *PlanContext) []Requirement {
	return []Requirement{{Kind: "active_version"}}
}
func (s *keyValueSurface) LowerRead(ctx *PlanContext) (*LoweredQuery, error) {
	return &LoweredQuery{SQL: fmt.Sprintf(
		`SELECT entity_id AS key, content_json FROM (%s) AS proj WHERE schema_key = 'lix_key_value'`,
		lowerer.StateProjection(ctx.ActiveVersionID, false, false),
	)}, nil
}
func (s *keyValueSurface) LowerWrite(ctx *PlanContext) (*LoweredWrite, error) {
	return lowerEntityWrite(ctx, s.table, "key")
}

// entitySurface is the generic "canonical columns" surface shared by
// lix_directory, lix_commit, lix_version, lix_change, lix_label,
// lix_entity_label, lix_account, and any host-registered entity table
// (spec §4.3's table, final row). Each is parameterized only by its
// schema_key; all share identical upsert/read lowering.
type entitySurface struct {
	table     string
	schemaKey string
}

func newEntitySurface(table string) *entitySurface {
	return &entitySurface{table: table, schemaKey: table}
}

func (s *entitySurface) Name() string { return s.table }

func (s *entitySurface) Classify(stmt sqlparser.Statement) bool {
	return primaryTable(stmt) == s.table
}

func (s *entitySurface) DeriveRequirements(ctx *PlanContext) []Requirement {
	return []Requirement{{Kind: "active_version"}}
}

func (s *entitySurface) LowerRead(ctx *PlanContext) (*LoweredQuery, error) {
	return &LoweredQuery{
		SQL: fmt.Sprintf(
			`SELECT entity_id, content_json FROM (%s) AS proj WHERE schema_key = '%s'`,
			lowerer.StateProjection(ctx.ActiveVersionID, false, false), s.schemaKey,
		),
	}, nil
}

func (s *entitySurface) LowerWrite(ctx *PlanContext) (*LoweredWrite, error) {
	return lowerEntityWrite(ctx, s.schemaKey, "id")
}

// lowerEntityWrite is shared by every fixed-schema_key surface
// (lix_key_value and the generic entity tables): extract the entity's id
// and new content from the bound statement, then emit either the upsert or
// tombstone template with EntityID/ContentJSON/Kind set so the executor can
// finish binding it against runtime-computed ids.
func lowerEntityWrite(ctx *PlanContext, schemaKey, idColumn string) (*LoweredWrite, error) {
	ew, err := extractEntityWrite(ctx.Statement, idColumn)
	if err != nil {
		return nil, err
	}
	q := LoweredQuery{EntityID: ew.EntityID, SchemaKey: schemaKey}
	if ew.IsDelete {
		q.SQL = lowerer.Tombstone(schemaKey)
		q.Kind = "tombstone"
	} else {
		q.SQL = lowerer.EntityUpsert(schemaKey)
		q.Kind = "entity_upsert"
		q.ContentJSON = ew.ContentJSON
	}
	return &LoweredWrite{
		Queries:  []LoweredQuery{q},
		Requires: []Requirement{{Kind: "active_version"}, {Kind: "writer_key"}},
	}, nil
}
