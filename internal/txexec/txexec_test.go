package txexec

import (
	"context"
	"testing"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/backend/sqlite"
	"github.com/lixdb/lix/internal/changestore"
	"github.com/lixdb/lix/internal/planner"
	"github.com/lixdb/lix/internal/sqlfront"
	"github.com/lixdb/lix/internal/stateresolver"
	"github.com/lixdb/lix/internal/surface"
)

func setup(t *testing.T) (*Executor, backend.Backend) {
	t.Helper()
	be, err := sqlite.Open(context.Background(), ":memory:", backend.Options{})
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })

	store := changestore.New(be)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := be.Execute(context.Background(), `INSERT INTO lix_internal_version (id) VALUES ('v1')`, nil); err != nil {
		t.Fatalf("seed version: %v", err)
	}
	if _, _, err := store.CreateWorkingCommit(context.Background(), "v1", ""); err != nil {
		t.Fatalf("seed working commit: %v", err)
	}

	resolver := stateresolver.New(be)
	return New(be, store, resolver, nil, nil), be
}

func planFor(t *testing.T, sql, versionID, writerKey string, params ...backend.CellValue) *planner.ExecutionPlan {
	t.Helper()
	stmt, err := sqlfront.Parse(sql)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	bound, err := sqlfront.BindOnce(stmt, params)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	reg := surface.NewRegistry()
	surf, _, err := reg.Resolve(bound.AST)
	if err != nil {
		t.Fatalf("resolve surface: %v", err)
	}
	plan, err := planner.Plan(bound, surf, planner.VersionContext{ActiveVersionID: versionID, WriterKey: writerKey})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return plan
}

func TestRunWriteThenReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	exec, be := setup(t)
	writer := "w1"

	writePlan := planFor(t, "INSERT INTO lix_key_value (key, value) VALUES (?, ?)", "v1", "w1",
		backend.CellValue{Kind: backend.KindText, Value: "/theme"},
		backend.CellValue{Kind: backend.KindText, Value: "dark"})
	result, err := exec.Run(ctx, writePlan, "v1", &writer)
	if err != nil {
		t.Fatalf("run write: %v", err)
	}
	if result.CommitID == "" {
		t.Fatal("expected a commit id after a write that records a change")
	}

	readPlan := planFor(t, "SELECT entity_id, content_json FROM lix_state WHERE entity_id = ?", "v1", "",
		backend.CellValue{Kind: backend.KindText, Value: "/theme"})
	readResult, err := exec.Run(ctx, readPlan, "v1", nil)
	if err != nil {
		t.Fatalf("run read: %v", err)
	}
	if len(readResult.Rows) != 1 {
		t.Fatalf("expected one row materialized from lix_state, got %d", len(readResult.Rows))
	}

	// An ordinary write links its change into the existing working commit
	// rather than sealing a new one — tip_commit_id only moves on checkpoint
	// (see lix.CreateCheckpoint), while working_commit_id stays pointed at
	// the commit the write's result.CommitID names.
	var working string
	res, err := be.Execute(ctx, `SELECT working_commit_id FROM lix_internal_version WHERE id = 'v1'`, nil)
	if err != nil {
		t.Fatalf("query working commit: %v", err)
	}
	if len(res.Rows) == 1 {
		working, _ = res.Rows[0][0].Value.(string)
	}
	if working != result.CommitID {
		t.Fatalf("expected version working commit to stay %q, got %q", result.CommitID, working)
	}

	var tip string
	tipRes, err := be.Execute(ctx, `SELECT tip_commit_id FROM lix_internal_version WHERE id = 'v1'`, nil)
	if err != nil {
		t.Fatalf("query tip: %v", err)
	}
	if len(tipRes.Rows) == 1 && tipRes.Rows[0][0].Kind != backend.KindNull {
		tip, _ = tipRes.Rows[0][0].Value.(string)
	}
	if tip != "" {
		t.Fatalf("expected an ordinary write to leave tip_commit_id unset, got %q", tip)
	}
}

func TestRunRollsBackOnPreparedStatementError(t *testing.T) {
	ctx := context.Background()
	exec, be := setup(t)

	before, err := be.Execute(ctx, `SELECT count(*) FROM lix_internal_commit`, nil)
	if err != nil {
		t.Fatalf("count commits before: %v", err)
	}
	beforeCount, _ := before.Rows[0][0].Value.(int64)

	badPlan := &planner.ExecutionPlan{
		PreparedStatements: []planner.PreparedStatement{
			{SQL: `INSERT INTO lix_internal_nonexistent_table (x) VALUES (?)`, Params: []any{"x"}},
		},
	}
	if _, err := exec.Run(ctx, badPlan, "v1", nil); err == nil {
		t.Fatal("expected an error from a statement against a nonexistent table")
	}

	after, err := be.Execute(ctx, `SELECT count(*) FROM lix_internal_commit`, nil)
	if err != nil {
		t.Fatalf("count commits after: %v", err)
	}
	afterCount, _ := after.Rows[0][0].Value.(int64)
	if afterCount != beforeCount {
		t.Fatalf("expected rollback to add no commit rows, had %d before and %d after", beforeCount, afterCount)
	}
}

func TestRunReadProducesNoCommit(t *testing.T) {
	ctx := context.Background()
	exec, _ := setup(t)
	readPlan := planFor(t, "SELECT entity_id FROM lix_state WHERE entity_id = ?", "v1", "",
		backend.CellValue{Kind: backend.KindText, Value: "/missing"})
	result, err := exec.Run(ctx, readPlan, "v1", nil)
	if err != nil {
		t.Fatalf("run read: %v", err)
	}
	if result.CommitID != "" {
		t.Fatalf("expected a pure read to produce no commit, got %q", result.CommitID)
	}
}
