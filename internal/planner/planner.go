// Package planner turns a bound statement plus its recognized surface into
// a pure, deterministic ExecutionPlan. The planner never touches the backend
// or the change store; every requirement it derives is resolved later, by
// the executor (C6), against the live database. Grounded on the teacher's
// internal/query/evaluator.go pattern of building a typed plan tree from an
// AST before evaluating it, generalized from boolean filter evaluation to
// SQL execution planning.
package planner

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/lixdb/lix/internal/lixerr"
	"github.com/lixdb/lix/internal/sqlfront"
	"github.com/lixdb/lix/internal/surface"
)

// RequirementKind enumerates the typed requirements spec §4.4 names.
type RequirementKind string

const (
	NeedActiveVersion RequirementKind = "active_version"
	NeedPlugin        RequirementKind = "plugin"
	NeedSchema        RequirementKind = "schema"
	NeedWriterKey     RequirementKind = "writer_key"
)

// EffectKind enumerates the typed effects spec §4.4 names.
type EffectKind string

const (
	EffectRecordChange              EffectKind = "record_change"
	EffectRotateWorkingCommit       EffectKind = "rotate_working_commit"
	EffectInvalidateMaterializedState EffectKind = "invalidate_materialized_state"
	EffectNotifyObservers           EffectKind = "notify_observers"
	EffectRunPluginApply            EffectKind = "run_plugin_apply"
)

// Requirement is a typed precondition the executor must resolve before
// running the plan's prepared statements.
type Requirement struct {
	Kind RequirementKind
	Arg  string
}

// Effect is a typed post-step action the executor schedules (step 4/6 of the
// 6-step transaction order, spec §4.6).
type Effect struct {
	Kind EffectKind
	Arg  string
}

// PostprocessAction is a non-SQL step the executor runs inline with the
// prepared statements (e.g. invoking a plugin's detect-changes).
type PostprocessAction struct {
	Kind string
	Arg  string
}

// PreparedStatement is one physical SQL statement plus its positional
// parameters, already fully lowered by C5. Kind/EntityID/SchemaKey/
// ContentJSON are non-empty only for the change-store upsert/tombstone
// templates a writable surface emits — the executor binds their remaining
// placeholders (the runtime-computed change id and snapshot id) and runs
// them during postprocess instead of the generic step-2 execution loop.
type PreparedStatement struct {
	SQL            string
	Params         []any
	Kind           string // "", "entity_upsert", "tombstone"
	EntityID       string
	SchemaKey      string
	SchemaKeyBound bool // true if SQL still has a `?` placeholder for schema_key
	ContentJSON    []byte
}

// ExecutionPlan is the planner's sole output: everything the executor needs
// to run a statement, with no further decision-making required.
type ExecutionPlan struct {
	PreparedStatements []PreparedStatement
	Requirements       []Requirement
	Effects            []Effect
	PostprocessActions []PostprocessAction
	FileWrite          *surface.FileWrite
	Fingerprint        string
}

// VersionContext is the caller-supplied version scope a plan is built
// against — the planner is pure, so this must be passed in rather than
// looked up.
type VersionContext struct {
	ActiveVersionID string
	WriterKey       string
}

// Plan is the pure function spec §4.4 describes: (AST, bindings, surface) →
// ExecutionPlan. It performs no I/O and no SQL execution; Lowerer methods
// invoked here only build SQL strings, they do not run them.
func Plan(bound *sqlfront.BoundStatement, surf surface.Surface, vctx VersionContext) (*ExecutionPlan, error) {
	if bound == nil || bound.AST == nil {
		return nil, lixerr.Wrapf(lixerr.KindPlanner, nil, "plan: nil bound statement")
	}

	ctx := &surface.PlanContext{
		Statement:       bound.AST,
		ActiveVersionID: vctx.ActiveVersionID,
	}

	isWrite := statementIsWrite(bound.AST)

	plan := &ExecutionPlan{}
	if surf == nil {
		// Unknown table: pass the statement through to the backend unmodified.
		plan.PreparedStatements = []PreparedStatement{{SQL: sqlparser.String(bound.AST)}}
		plan.Fingerprint = fingerprint(plan)
		return plan, nil
	}

	for _, req := range surf.DeriveRequirements(ctx) {
		plan.Requirements = append(plan.Requirements, Requirement{Kind: RequirementKind(req.Kind), Arg: req.Arg})
	}

	if isWrite {
		lowered, err := surf.LowerWrite(ctx)
		if err != nil {
			return nil, lixerr.Wrap("planner.Plan", lixerr.KindPlanner, err)
		}
		for _, q := range lowered.Queries {
			plan.PreparedStatements = append(plan.PreparedStatements, PreparedStatement{
				SQL: q.SQL, Params: q.Params,
				Kind: q.Kind, EntityID: q.EntityID, SchemaKey: q.SchemaKey,
				SchemaKeyBound: q.SchemaKeyBound, ContentJSON: q.ContentJSON,
			})
		}
		for _, req := range lowered.Requires {
			plan.Requirements = append(plan.Requirements, Requirement{Kind: RequirementKind(req.Kind), Arg: req.Arg})
		}
		plan.Effects = append(plan.Effects,
			Effect{Kind: EffectRecordChange},
			Effect{Kind: EffectRotateWorkingCommit},
			Effect{Kind: EffectInvalidateMaterializedState, Arg: vctx.ActiveVersionID},
			Effect{Kind: EffectNotifyObservers},
		)
		if surf.Name() == "lix_file" {
			plan.PostprocessActions = append(plan.PostprocessActions, PostprocessAction{Kind: "detect_changes"})
			plan.Effects = append(plan.Effects, Effect{Kind: EffectRunPluginApply})
			plan.FileWrite = lowered.FileWrite
		}
	} else {
		lowered, err := surf.LowerRead(ctx)
		if err != nil {
			return nil, lixerr.Wrap("planner.Plan", lixerr.KindPlanner, err)
		}
		plan.PreparedStatements = []PreparedStatement{{SQL: lowered.SQL, Params: lowered.Params}}
		if surf.Name() == "lix_file" {
			plan.PostprocessActions = append(plan.PostprocessActions, PostprocessAction{Kind: "materialize_file"})
		}
	}

	plan.Fingerprint = fingerprint(plan)
	return plan, nil
}

// statementIsWrite classifies by the vitess AST's concrete type name. A type
// switch on the real sqlparser.Insert/Update/Delete types would also work,
// but pulls the grammar package into this decision for no benefit over the
// %T check.
func statementIsWrite(stmt any) bool {
	switch fmt.Sprintf("%T", stmt) {
	case "*sqlparser.Insert", "*sqlparser.Update", "*sqlparser.Delete":
		return true
	default:
		return false
	}
}

// fingerprint hashes a JSON encoding of the plan's structure (spec: "same
// SQL + params ⇒ same fingerprint", P10). json.Marshal of these fixed struct
// types is deterministic; the sha256 digest of that JSON is then compressed
// by xxhash into the short, cache-friendly fingerprint actually stored.
func fingerprint(plan *ExecutionPlan) string {
	type canon struct {
		Statements []PreparedStatement
		Reqs       []Requirement
		Effects    []Effect
		Actions    []PostprocessAction
		FileWrite  *surface.FileWrite
	}
	data, _ := json.Marshal(canon{plan.PreparedStatements, plan.Requirements, plan.Effects, plan.PostprocessActions, plan.FileWrite})
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", xxhash.Sum64(sum[:]))
}
