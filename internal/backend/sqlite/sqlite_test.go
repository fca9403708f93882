package sqlite

import (
	"context"
	"testing"

	"github.com/lixdb/lix/internal/backend"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:", backend.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestExecuteCreateAndSelect(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)

	if _, err := store.Execute(ctx, "CREATE TABLE t (id TEXT, n INTEGER)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := store.Execute(ctx, "INSERT INTO t (id, n) VALUES (?, ?)", []backend.CellValue{
		{Kind: backend.KindText, Value: "a"},
		{Kind: backend.KindInteger, Value: int64(7)},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := store.Execute(ctx, "SELECT id, n FROM t WHERE id = ?", []backend.CellValue{{Kind: backend.KindText, Value: "a"}})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	if res.Rows[0][0].Value != "a" {
		t.Fatalf("expected id=a, got %v", res.Rows[0][0].Value)
	}
}

func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)
	if _, err := store.Execute(ctx, "CREATE TABLE t (id TEXT)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	tx, err := store.BeginTransaction(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Execute(ctx, "INSERT INTO t (id) VALUES (?)", []backend.CellValue{{Kind: backend.KindText, Value: "x"}}); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	res, err := store.Execute(ctx, "SELECT count(*) FROM t", nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.Rows[0][0].Value != int64(0) {
		t.Fatalf("expected 0 rows after rollback, got %v", res.Rows[0][0].Value)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	store := openMemory(t)
	if err := store.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got: %v", err)
	}
}

func TestExecuteAfterCloseIsClosedError(t *testing.T) {
	store := openMemory(t)
	_ = store.Close()
	if _, err := store.Execute(context.Background(), "SELECT 1", nil); err == nil {
		t.Fatalf("expected ClosedError after Close")
	}
}
