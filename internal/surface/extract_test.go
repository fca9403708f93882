package surface

import (
	"testing"

	"vitess.io/vitess/go/vt/sqlparser"
)

func parseBound(t *testing.T, sql string) sqlparser.Statement {
	t.Helper()
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	return stmt
}

func TestExtractEntityWriteInsert(t *testing.T) {
	stmt := parseBound(t, `INSERT INTO lix_key_value (key, value) VALUES ('/theme', 'dark')`)
	ew, err := extractEntityWrite(stmt, "key")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ew.EntityID != "/theme" {
		t.Fatalf("expected entity id /theme, got %q", ew.EntityID)
	}
	if ew.IsDelete {
		t.Fatal("INSERT should not be classified as a delete")
	}
	if string(ew.ContentJSON) != `{"value":"dark"}` {
		t.Fatalf("unexpected content json: %s", ew.ContentJSON)
	}
}

func TestExtractEntityWriteUpdate(t *testing.T) {
	stmt := parseBound(t, `UPDATE lix_key_value SET value = 'light' WHERE key = '/theme'`)
	ew, err := extractEntityWrite(stmt, "key")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ew.EntityID != "/theme" {
		t.Fatalf("expected entity id /theme, got %q", ew.EntityID)
	}
	if string(ew.ContentJSON) != `{"value":"light"}` {
		t.Fatalf("unexpected content json: %s", ew.ContentJSON)
	}
}

func TestExtractEntityWriteDelete(t *testing.T) {
	stmt := parseBound(t, `DELETE FROM lix_key_value WHERE key = '/theme'`)
	ew, err := extractEntityWrite(stmt, "key")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !ew.IsDelete {
		t.Fatal("expected DELETE to be classified as a delete")
	}
	if ew.EntityID != "/theme" {
		t.Fatalf("expected entity id /theme, got %q", ew.EntityID)
	}
}

func TestExtractEntityWriteMissingIDColumnErrors(t *testing.T) {
	stmt := parseBound(t, `INSERT INTO lix_key_value (value) VALUES ('dark')`)
	if _, err := extractEntityWrite(stmt, "key"); err == nil {
		t.Fatal("expected an error when the id column is absent")
	}
}

func TestExtractStateWriteRequiresEntityAndSchemaKey(t *testing.T) {
	stmt := parseBound(t, `INSERT INTO lix_state (entity_id, content_json) VALUES ('/theme', '{}')`)
	if _, err := extractStateWrite(stmt); err == nil {
		t.Fatal("expected an error when schema_key is missing")
	}
}

func TestExtractStateWriteInsert(t *testing.T) {
	stmt := parseBound(t, `INSERT INTO lix_state (entity_id, schema_key, content_json) VALUES ('/theme', 'lix_key_value', '{"value":"dark"}')`)
	sw, err := extractStateWrite(stmt)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if sw.EntityID != "/theme" || sw.SchemaKey != "lix_key_value" {
		t.Fatalf("unexpected extraction: %+v", sw)
	}
	if string(sw.ContentJSON) != `{"value":"dark"}` {
		t.Fatalf("unexpected content json: %s", sw.ContentJSON)
	}
}

func TestExtractStateWriteDelete(t *testing.T) {
	stmt := parseBound(t, `DELETE FROM lix_state WHERE entity_id = '/theme' AND schema_key = 'lix_key_value'`)
	sw, err := extractStateWrite(stmt)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !sw.IsDelete {
		t.Fatal("expected DELETE to be classified as a delete")
	}
	if sw.EntityID != "/theme" || sw.SchemaKey != "lix_key_value" {
		t.Fatalf("unexpected extraction: %+v", sw)
	}
}

func TestExtractFileWriteInsert(t *testing.T) {
	stmt := parseBound(t, `INSERT INTO lix_file (id, path, data) VALUES ('f1', '/s.json', '{"theme":"light"}')`)
	fw, err := extractFileWrite(stmt)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if fw.FileID != "f1" || fw.Path != "/s.json" {
		t.Fatalf("unexpected extraction: %+v", fw)
	}
	if string(fw.Data) != `{"theme":"light"}` {
		t.Fatalf("unexpected data: %s", fw.Data)
	}
}

func TestExtractFileWriteUpdateHasNoPath(t *testing.T) {
	stmt := parseBound(t, `UPDATE lix_file SET data = '{"theme":"dark"}' WHERE id = 'f1'`)
	fw, err := extractFileWrite(stmt)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if fw.FileID != "f1" {
		t.Fatalf("expected file id f1, got %q", fw.FileID)
	}
	if fw.Path != "" {
		t.Fatalf("expected no path on a data-only UPDATE, got %q", fw.Path)
	}
	if string(fw.Data) != `{"theme":"dark"}` {
		t.Fatalf("unexpected data: %s", fw.Data)
	}
}

func TestExtractFileWriteDelete(t *testing.T) {
	stmt := parseBound(t, `DELETE FROM lix_file WHERE id = 'f1'`)
	fw, err := extractFileWrite(stmt)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !fw.IsDelete || fw.FileID != "f1" {
		t.Fatalf("unexpected extraction: %+v", fw)
	}
}
