package lix

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lixdb/lix/internal/backend"
)

func openMemory(t *testing.T) *Lix {
	t.Helper()
	l, err := Open(context.Background(), Options{Backend: "memory:test", WriterKey: "w1"})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	return l
}

func TestOpenCreatesMainVersion(t *testing.T) {
	l := openMemory(t)
	require.Equal(t, "main", l.activeVersion)
}

func TestExecuteWriteThenReadRoundTrip(t *testing.T) {
	l := openMemory(t)
	ctx := context.Background()

	res, err := l.Execute(ctx, "INSERT INTO lix_key_value (key, value) VALUES (?, ?)", []CellValue{
		{Kind: backend.KindText, Value: "/theme"},
		{Kind: backend.KindText, Value: "dark"},
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.CommitID)

	read, err := l.Execute(ctx, "SELECT entity_id, content_json FROM lix_state WHERE entity_id = ?", []CellValue{
		{Kind: backend.KindText, Value: "/theme"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, read.Rows, 1)
}

func TestCreateVersionForksFromActive(t *testing.T) {
	l := openMemory(t)
	ctx := context.Background()

	info, err := l.CreateVersion(ctx, CreateVersionOptions{Name: "feature"})
	require.NoError(t, err)
	require.Equal(t, "main", info.ParentVersionID)

	require.NoError(t, l.SwitchVersion(ctx, info.ID))
	l.mu.RLock()
	active := l.activeVersion
	l.mu.RUnlock()
	require.Equal(t, info.ID, active)
}

func TestCreateCheckpointAdvancesTip(t *testing.T) {
	l := openMemory(t)
	ctx := context.Background()

	cp, err := l.CreateCheckpoint(ctx)
	require.NoError(t, err)
	require.Equal(t, "main", cp.VersionID)
	require.NotEmpty(t, cp.CommitID)
}

func TestCloseIsIdempotent(t *testing.T) {
	l, err := Open(context.Background(), Options{Backend: "memory:" + filepath.Base(t.Name())})
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestExecuteAfterCloseErrors(t *testing.T) {
	l, err := Open(context.Background(), Options{Backend: "memory:" + filepath.Base(t.Name())})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.Execute(context.Background(), "SELECT 1", nil, nil)
	require.Error(t, err)
}
