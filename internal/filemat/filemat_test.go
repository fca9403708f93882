package filemat

import (
	"context"
	"testing"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/backend/sqlite"
	"github.com/lixdb/lix/internal/changestore"
	"github.com/lixdb/lix/internal/stateresolver"
)

func setup(t *testing.T) (backend.Backend, *changestore.Store, *stateresolver.Resolver) {
	t.Helper()
	be, err := sqlite.Open(context.Background(), ":memory:", backend.Options{})
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })
	cs := changestore.New(be)
	if err := cs.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return be, cs, stateresolver.New(be)
}

func commitEntity(t *testing.T, ctx context.Context, be backend.Backend, cs *changestore.Store, versionID, entityID, schemaKey, fileID, pluginKey, content string) {
	t.Helper()
	snapID, err := cs.PutSnapshot(ctx, []byte(content))
	if err != nil {
		t.Fatalf("put snapshot: %v", err)
	}
	changeID, err := cs.RecordChange(ctx, changestore.Change{
		EntityID: entityID, SchemaKey: schemaKey, SchemaVersion: "1",
		FileID: fileID, PluginKey: pluginKey, SnapshotID: snapID,
	})
	if err != nil {
		t.Fatalf("record change: %v", err)
	}
	changeSetID := "cs-" + entityID + "-" + content
	commitID, err := cs.CreateCommit(ctx, versionID, changeSetID, nil, []byte("{}"))
	if err != nil {
		t.Fatalf("create commit: %v", err)
	}
	if err := cs.LinkChangeToChangeSet(ctx, changeSetID, changeID); err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := be.Execute(ctx, `UPDATE lix_internal_version SET working_commit_id = ? WHERE id = ?`,
		[]backend.CellValue{{Kind: backend.KindText, Value: commitID}, {Kind: backend.KindText, Value: versionID}}); err != nil {
		t.Fatalf("update working commit: %v", err)
	}
}

func TestFileEntitiesEnumeratesDistinctEntities(t *testing.T) {
	ctx := context.Background()
	be, cs, _ := setup(t)
	if _, err := be.Execute(ctx, `INSERT INTO lix_internal_version (id) VALUES ('v1')`, nil); err != nil {
		t.Fatalf("insert version: %v", err)
	}
	commitEntity(t, ctx, be, cs, "v1", "f1", fileDescriptorSchema, "f1", "", `{"path":"/a.md"}`)
	commitEntity(t, ctx, be, cs, "v1", "row-1", "md_table_row", "f1", "md-plugin", `{"cells":["a"]}`)
	commitEntity(t, ctx, be, cs, "v1", "row-2", "md_table_row", "f1", "md-plugin", `{"cells":["b"]}`)

	refs, err := FileEntities(ctx, be, "f1", "v1")
	if err != nil {
		t.Fatalf("FileEntities: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 entity rows (descriptor + 2 table rows), got %d: %+v", len(refs), refs)
	}
}

func TestPluginForFileFindsOwner(t *testing.T) {
	ctx := context.Background()
	be, cs, _ := setup(t)
	if _, err := be.Execute(ctx, `INSERT INTO lix_internal_version (id) VALUES ('v1')`, nil); err != nil {
		t.Fatalf("insert version: %v", err)
	}
	commitEntity(t, ctx, be, cs, "v1", "row-1", "md_table_row", "f1", "md-plugin", `{"cells":["a"]}`)

	key, err := PluginForFile(ctx, be, "f1")
	if err != nil {
		t.Fatalf("PluginForFile: %v", err)
	}
	if key != "md-plugin" {
		t.Fatalf("expected md-plugin, got %q", key)
	}
}

func TestPluginForFileEmptyWhenNoChanges(t *testing.T) {
	ctx := context.Background()
	be, _, _ := setup(t)
	key, err := PluginForFile(ctx, be, "nowhere")
	if err != nil {
		t.Fatalf("PluginForFile: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty plugin key, got %q", key)
	}
}

func TestFileDescriptorResolvesOwnEntity(t *testing.T) {
	ctx := context.Background()
	be, cs, resolver := setup(t)
	if _, err := be.Execute(ctx, `INSERT INTO lix_internal_version (id) VALUES ('v1')`, nil); err != nil {
		t.Fatalf("insert version: %v", err)
	}
	commitEntity(t, ctx, be, cs, "v1", "f1", fileDescriptorSchema, "", "", `{"path":"/a.md","name":"a.md"}`)

	fd, err := fileDescriptor(ctx, resolver, "f1", "v1")
	if err != nil {
		t.Fatalf("fileDescriptor: %v", err)
	}
	if fd.Path != "/a.md" || fd.Name != "a.md" || fd.ID != "f1" {
		t.Fatalf("unexpected descriptor: %+v", fd)
	}
}

func TestFileDescriptorMissingIsError(t *testing.T) {
	ctx := context.Background()
	be, _, resolver := setup(t)
	if _, err := be.Execute(ctx, `INSERT INTO lix_internal_version (id) VALUES ('v1')`, nil); err != nil {
		t.Fatalf("insert version: %v", err)
	}
	if _, err := fileDescriptor(ctx, resolver, "ghost", "v1"); err == nil {
		t.Fatal("expected error for file with no descriptor entity")
	}
}
