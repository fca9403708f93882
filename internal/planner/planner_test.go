package planner

import (
	"testing"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/sqlfront"
	"github.com/lixdb/lix/internal/surface"
)

func bind(t *testing.T, sql string, params ...backend.CellValue) *sqlfront.BoundStatement {
	t.Helper()
	stmt, err := sqlfront.Parse(sql)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	bound, err := sqlfront.BindOnce(stmt, params)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	return bound
}

func TestPlanReadFromStateSurface(t *testing.T) {
	bound := bind(t, "SELECT entity_id FROM lix_state WHERE entity_id = ?",
		backend.CellValue{Kind: backend.KindText, Value: "x"})
	reg := surface.NewRegistry()
	surf, _, err := reg.Resolve(bound.AST)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	plan, err := Plan(bound, surf, VersionContext{ActiveVersionID: "v1"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.PreparedStatements) == 0 {
		t.Fatal("expected at least one prepared statement")
	}
	if plan.Fingerprint == "" {
		t.Fatal("expected a non-empty fingerprint")
	}
}

func TestPlanFingerprintDeterministic(t *testing.T) {
	reg := surface.NewRegistry()
	run := func() string {
		bound := bind(t, "SELECT entity_id FROM lix_state WHERE entity_id = ?",
			backend.CellValue{Kind: backend.KindText, Value: "x"})
		surf, _, _ := reg.Resolve(bound.AST)
		plan, err := Plan(bound, surf, VersionContext{ActiveVersionID: "v1"})
		if err != nil {
			t.Fatalf("plan: %v", err)
		}
		return plan.Fingerprint
	}
	if run() != run() {
		t.Fatal("expected identical SQL+params to produce the same fingerprint")
	}
}

func TestPlanWriteToKeyValueAddsRecordChangeEffect(t *testing.T) {
	bound := bind(t, "INSERT INTO lix_key_value (key, value) VALUES (?, ?)",
		backend.CellValue{Kind: backend.KindText, Value: "k"},
		backend.CellValue{Kind: backend.KindText, Value: "v"})
	reg := surface.NewRegistry()
	surf, _, err := reg.Resolve(bound.AST)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	plan, err := Plan(bound, surf, VersionContext{ActiveVersionID: "v1", WriterKey: "w1"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	found := false
	for _, e := range plan.Effects {
		if e.Kind == EffectRecordChange {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a record_change effect for an INSERT")
	}
}

func TestPlanWriteToFileCarriesFileWrite(t *testing.T) {
	bound := bind(t, "INSERT INTO lix_file (id, path, data) VALUES (?, ?, ?)",
		backend.CellValue{Kind: backend.KindText, Value: "f1"},
		backend.CellValue{Kind: backend.KindText, Value: "/s.json"},
		backend.CellValue{Kind: backend.KindText, Value: `{"theme":"light"}`})
	reg := surface.NewRegistry()
	surf, _, err := reg.Resolve(bound.AST)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	plan, err := Plan(bound, surf, VersionContext{ActiveVersionID: "v1", WriterKey: "w1"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.FileWrite == nil {
		t.Fatal("expected a FileWrite on the plan")
	}
	if plan.FileWrite.FileID != "f1" || plan.FileWrite.Path != "/s.json" {
		t.Fatalf("unexpected FileWrite: %+v", plan.FileWrite)
	}
	foundApply := false
	for _, e := range plan.Effects {
		if e.Kind == EffectRunPluginApply {
			foundApply = true
		}
	}
	if !foundApply {
		t.Fatal("expected a run_plugin_apply effect for a lix_file write")
	}
}

func TestPlanRejectsPrivateTableBeforePlanning(t *testing.T) {
	stmt, err := sqlfront.Parse("SELECT * FROM lix_internal_change")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg := surface.NewRegistry()
	if _, _, err := reg.Resolve(stmt); err == nil {
		t.Fatal("expected PrivateTableAccess before the planner ever runs")
	}
}
