package surface

import (
	"testing"

	"vitess.io/vitess/go/vt/sqlparser"
)

func mustParse(t *testing.T, sql string) sqlparser.Statement {
	t.Helper()
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	return stmt
}

func TestResolveClassifiesKnownSurface(t *testing.T) {
	r := NewRegistry()
	stmt := mustParse(t, "SELECT * FROM lix_state WHERE entity_id = 'x'")
	s, table, err := r.Resolve(stmt)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if table != "lix_state" {
		t.Fatalf("expected table lix_state, got %q", table)
	}
	if s == nil || s.Name() != "lix_state" {
		t.Fatalf("expected lix_state surface, got %v", s)
	}
}

func TestResolveRejectsPrivateTable(t *testing.T) {
	r := NewRegistry()
	stmt := mustParse(t, "SELECT * FROM lix_internal_change")
	_, _, err := r.Resolve(stmt)
	if err == nil {
		t.Fatal("expected PrivateTableAccess error")
	}
}

func TestResolveUnknownTablePassesThrough(t *testing.T) {
	r := NewRegistry()
	stmt := mustParse(t, "SELECT * FROM some_host_table")
	s, table, err := r.Resolve(stmt)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil surface for unknown table, got %v", s)
	}
	if table != "some_host_table" {
		t.Fatalf("expected table name preserved, got %q", table)
	}
}

func TestRegisterOverridesByName(t *testing.T) {
	r := NewRegistry()
	custom := newEntitySurface("lix_state")
	before := len(r.surfaces)
	r.Register(custom)
	if len(r.surfaces) != before {
		t.Fatalf("expected Register to replace in place, surface count changed from %d to %d", before, len(r.surfaces))
	}
}
