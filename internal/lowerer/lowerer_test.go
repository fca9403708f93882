package lowerer

import (
	"strings"
	"testing"
)

func TestStateProjectionFiltersByVersionWhenNotByVersion(t *testing.T) {
	sql := StateProjection("v1", false, false)
	if !strings.Contains(sql, "v.id = 'v1'") {
		t.Fatalf("expected anchor filter on v1, got: %s", sql)
	}
	if !strings.Contains(sql, "snapshot_id IS NOT NULL") {
		t.Fatalf("expected tombstone filter by default, got: %s", sql)
	}
}

func TestStateProjectionByVersionHasNoAnchorFilter(t *testing.T) {
	sql := StateProjection("v1", true, false)
	if strings.Contains(sql, "WHERE v.id") {
		t.Fatalf("expected no single-version anchor filter, got: %s", sql)
	}
}

func TestStateProjectionWithTombstonesKeepsNullSnapshots(t *testing.T) {
	sql := StateProjection("v1", false, true)
	if strings.Contains(sql, "snapshot_id IS NOT NULL") {
		t.Fatalf("expected tombstone filter removed, got: %s", sql)
	}
}

func TestEntityUpsertEmbedsSchemaKey(t *testing.T) {
	sql := EntityUpsert("lix_key_value")
	if !strings.Contains(sql, "'lix_key_value'") {
		t.Fatalf("expected schema_key literal embedded, got: %s", sql)
	}
}
