package changestore

import (
	"context"
	"testing"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/backend/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	be, err := sqlite.Open(context.Background(), ":memory:", backend.Options{})
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })
	s := New(be)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate should be a no-op, got: %v", err)
	}
}

func TestPutSnapshotDedupsByContent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id1, err := s.PutSnapshot(ctx, []byte(`{"value":"dark"}`))
	if err != nil {
		t.Fatalf("put snapshot: %v", err)
	}
	id2, err := s.PutSnapshot(ctx, []byte(`{"value":"dark"}`))
	if err != nil {
		t.Fatalf("put snapshot again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected identical content to produce the same snapshot id, got %q and %q", id1, id2)
	}
}

func TestRecordChangeAndCommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	snapID, err := s.PutSnapshot(ctx, []byte(`{"value":"dark"}`))
	if err != nil {
		t.Fatalf("put snapshot: %v", err)
	}
	changeID, err := s.RecordChange(ctx, Change{
		EntityID: "/theme", SchemaKey: "lix_key_value", SchemaVersion: "1",
		FileID: "f", PluginKey: "p", SnapshotID: snapID, WriterKey: "w1",
	})
	if err != nil {
		t.Fatalf("record change: %v", err)
	}

	_, err = s.be.Execute(ctx, `INSERT INTO lix_internal_version (id) VALUES ('v1')`, nil)
	if err != nil {
		t.Fatalf("insert version: %v", err)
	}

	commitID, err := s.CreateCommit(ctx, "v1", "cs1", nil, []byte(`{}`))
	if err != nil {
		t.Fatalf("create commit: %v", err)
	}
	if err := s.LinkChangeToChangeSet(ctx, "cs1", changeID); err != nil {
		t.Fatalf("link change: %v", err)
	}
	if commitID == "" {
		t.Fatal("expected non-empty commit id")
	}
}

func TestNormalizeCommitMetadataRejectsInvalidJSON(t *testing.T) {
	if _, err := NormalizeCommitMetadata("not json"); err == nil {
		t.Fatal("expected error for invalid JSON metadata")
	}
}

func TestValidateMetadataKeyRejectsBadChars(t *testing.T) {
	if err := ValidateMetadataKey("bad key!"); err == nil {
		t.Fatal("expected error for invalid metadata key")
	}
	if err := ValidateMetadataKey("jira.sprint"); err != nil {
		t.Fatalf("expected nested dotted key to be valid, got: %v", err)
	}
}
