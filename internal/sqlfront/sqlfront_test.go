package sqlfront

import (
	"testing"

	"github.com/lixdb/lix/internal/backend"
)

func TestParseSelect(t *testing.T) {
	stmt, err := Parse("SELECT id FROM lix_state WHERE file_id = ?")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if stmt == nil {
		t.Fatal("expected non-nil statement")
	}
}

func TestParseInvalidSQLIsParseError(t *testing.T) {
	if _, err := Parse("SELEKT 1"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestBindOnceSubstitutesPlaceholder(t *testing.T) {
	stmt, err := Parse("SELECT id FROM lix_state WHERE file_id = ?")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	bound, err := BindOnce(stmt, []backend.CellValue{{Kind: backend.KindText, Value: "f1"}})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if !bound.bound {
		t.Fatal("expected bound statement to be marked bound")
	}
}

func TestRebindAfterBindIsError(t *testing.T) {
	stmt, _ := Parse("SELECT id FROM lix_state WHERE file_id = ?")
	bound, err := BindOnce(stmt, []backend.CellValue{{Kind: backend.KindText, Value: "f1"}})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := bound.Rebind([]backend.CellValue{{Kind: backend.KindText, Value: "f2"}}); err == nil {
		t.Fatal("expected ErrPlaceholderAlreadyBound")
	}
}

func TestBindOnceTooFewParamsIsBindingError(t *testing.T) {
	stmt, _ := Parse("SELECT id FROM lix_state WHERE file_id = ? AND version_id = ?")
	if _, err := BindOnce(stmt, []backend.CellValue{{Kind: backend.KindText, Value: "f1"}}); err == nil {
		t.Fatal("expected binding error for missing param")
	}
}
