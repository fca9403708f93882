// Package surface classifies a parsed SQL statement against one of Lix's
// logical virtual tables (lix_state, lix_file, ...) and exposes per-surface
// read/write lowering. Grounded on internal/query/evaluator.go's AST-walk
// dispatch (a switch over node kind feeding per-field evaluators), here
// generalized to a switch over target table feeding per-surface Lowerers.
package surface

import (
	"strings"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/lixdb/lix/internal/lixerr"
)

// PrivateTablePrefix marks tables user SQL must never reference directly
// (invariant 8 / P4): the physical change-store tables C7 owns.
const PrivateTablePrefix = "lix_internal_"

// Requirement is something the planner must resolve before a surface can be
// lowered: the active version, a schema's current definition, and so on.
type Requirement struct {
	Kind string // "active_version", "schema", "writer_key", ...
	Arg  string
}

// PlanContext carries everything a Surface needs to derive requirements and
// lower a statement; planner.Plan constructs and threads it through.
type PlanContext struct {
	Statement  sqlparser.Statement
	Table      string
	Literals   []any
	ActiveVersionID string
}

// LoweredQuery is a fully-resolved SQL string plus positional params, ready
// to execute against the backend directly (no further surface semantics).
//
// A write that records a change-store entity leaves EntityID non-empty:
// the executor (C6) binds SQL's remaining placeholders — the change id and
// snapshot id, both of which require runtime content hashing the planner
// (pure, no I/O) cannot perform — and runs it as part of postprocess
// instead of the generic prepared-statement step. Kind distinguishes an
// upsert (ContentJSON holds the new snapshot payload) from a tombstone
// (ContentJSON nil). SchemaKey always holds the entity's schema key;
// SchemaKeyBound reports whether SQL still has a `?` placeholder for it
// (true only for lix_state, whose schema_key is caller-supplied per row
// rather than baked as a literal like every other surface's).
type LoweredQuery struct {
	SQL            string
	Params         []any
	EntityID       string
	SchemaKey      string
	SchemaKeyBound bool
	ContentJSON    []byte
	Kind           string // "", "entity_upsert", "tombstone"
}

// LoweredWrite is the effect-producing counterpart for INSERT/UPDATE/DELETE
// against a surface: zero or more change-store writes plus postprocess
// actions (e.g. invoking a plugin).
type LoweredWrite struct {
	Queries   []LoweredQuery
	Requires  []Requirement
	FileWrite *FileWrite
}

// FileWrite carries a lix_file write through to the executor's postprocess
// step, which alone has the plugin sandbox and the backend needed to resolve
// the file's previous bytes, call detect-changes, and record whatever
// entities the plugin reports — none of which the planner (pure, no I/O)
// can do itself.
type FileWrite struct {
	FileID   string
	Path     string
	Data     []byte // nil for a DELETE
	IsDelete bool
}

// Surface is the capability set every logical virtual table implements:
// classify, derive_requirements, lower_read, lower_write from spec §4.3's
// "Surface polymorphism" design note.
type Surface interface {
	Name() string
	Classify(stmt sqlparser.Statement) bool
	DeriveRequirements(ctx *PlanContext) []Requirement
	LowerRead(ctx *PlanContext) (*LoweredQuery, error)
	LowerWrite(ctx *PlanContext) (*LoweredWrite, error)
}

// Registry resolves the primary table referenced by a statement to its
// Surface implementation.
type Registry struct {
	surfaces []Surface
}

// NewRegistry builds the default registry covering every surface named in
// spec §4.3's table.
func NewRegistry() *Registry {
	return &Registry{surfaces: []Surface{
		newFileSurface(),
		newStateSurface(),
		newStateByVersionSurface(),
		newStateHistorySurface(),
		newStateWithTombstonesSurface(),
		newKeyValueSurface(),
		newEntitySurface("lix_directory"),
		newEntitySurface("lix_commit"),
		newEntitySurface("lix_version"),
		newEntitySurface("lix_change"),
		newEntitySurface("lix_label"),
		newEntitySurface("lix_entity_label"),
		newEntitySurface("lix_account"),
	}}
}

// Register adds (or replaces, by Name) a Surface, letting hosts extend Lix
// with additional entity surfaces beyond the built-in set.
func (r *Registry) Register(s Surface) {
	for i, existing := range r.surfaces {
		if existing.Name() == s.Name() {
			r.surfaces[i] = s
			return
		}
	}
	r.surfaces = append(r.surfaces, s)
}

// Resolve classifies stmt by its primary table, rejecting any reference to
// lix_internal_* before doing the lookup (P4).
func (r *Registry) Resolve(stmt sqlparser.Statement) (Surface, string, error) {
	table := primaryTable(stmt)
	var private string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if n, ok := node.(sqlparser.TableName); ok && private == "" && strings.HasPrefix(n.Name.String(), PrivateTablePrefix) {
			private = n.Name.String()
		}
		return true, nil
	}, stmt)
	if private != "" {
		return nil, table, lixerr.Wrapf(lixerr.KindPrivateTableAccess, nil,
			"statement references private table %q", private)
	}
	for _, s := range r.surfaces {
		if s.Classify(stmt) {
			return s, table, nil
		}
	}
	return nil, table, nil // unknown table: caller passes the statement through unmodified
}

// primaryTable walks stmt (sqlparser.Walk, mirroring the teacher's AST-walk
// idiom in internal/query/evaluator.go) to find the table named in
// FROM/UPDATE/DELETE/INSERT.
func primaryTable(stmt sqlparser.Statement) string {
	var table string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case sqlparser.TableName:
			if table == "" {
				table = n.Name.String()
			}
			return false, nil
		}
		return true, nil
	}, stmt)
	return table
}
