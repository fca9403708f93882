package pluginsandbox

import (
	"context"
	"testing"
)

// emptyModule is the smallest legal wasm module: the 4-byte magic number
// plus the version field, no sections. It compiles successfully under
// wazero without exporting anything, which is enough to exercise Install's
// hash-based idempotency without a real plugin binary.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestInstallIsIdempotentOnIdenticalBytes(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	defer sb.Close(ctx)

	manifest := Manifest{Key: "md-table", Runtime: "wasm-component-v1", Entry: "main.wasm"}
	if err := sb.Install(ctx, manifest, emptyModule); err != nil {
		t.Fatalf("first install: %v", err)
	}
	if err := sb.Install(ctx, manifest, emptyModule); err != nil {
		t.Fatalf("reinstalling identical bytes should be a no-op, got: %v", err)
	}
	if len(sb.installed) != 1 {
		t.Fatalf("expected exactly one installed plugin, got %d", len(sb.installed))
	}
}

func TestCacheKeyDiffersByHash(t *testing.T) {
	if cacheKey("p", "h1") == cacheKey("p", "h2") {
		t.Fatal("expected distinct cache keys for distinct hashes of the same plugin key")
	}
	if cacheKey("p1", "h") == cacheKey("p2", "h") {
		t.Fatal("expected distinct cache keys for distinct plugin keys sharing a hash")
	}
}

func TestResolveForPathMatchesGlob(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	defer sb.Close(ctx)

	manifest := Manifest{Key: "json-plugin", Runtime: "wasm-component-v1", Entry: "main.wasm"}
	manifest.Match.PathGlob = "*.json"
	if err := sb.Install(ctx, manifest, emptyModule); err != nil {
		t.Fatalf("install: %v", err)
	}

	key, err := sb.ResolveForPath("settings.json")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "json-plugin" {
		t.Fatalf("expected json-plugin, got %q", key)
	}

	if _, err := sb.ResolveForPath("settings.yaml"); err == nil {
		t.Fatal("expected no plugin to match a non-json path")
	}
}

func TestDetectChangesErrorsForUnknownPlugin(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	defer sb.Close(ctx)

	if _, err := sb.DetectChanges(ctx, "nope", nil, []byte("x")); err == nil {
		t.Fatal("expected error for uninstalled plugin key")
	}
}
