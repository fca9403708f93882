// Package memory provides a non-persistent backend for tests and short-lived
// tooling invocations. It is not a distinct SQL engine: it is a thin
// convenience wrapper around backend/sqlite's private
// ":memory:" mode, named separately so callers that want "no filesystem
// footprint, ever" can say so without knowing SQLite is behind it.
package memory

import (
	"context"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/backend/factory"
	"github.com/lixdb/lix/internal/backend/sqlite"
)

func init() {
	factory.Register("memory", func(ctx context.Context, target string, opts backend.Options) (backend.Backend, error) {
		return Open(ctx, opts)
	})
}

// Open returns a fresh, empty backend.Backend backed by an isolated
// in-process SQLite database. Every call gets its own database:
// backend/sqlite opens ":memory:" without a shared cache, so no two Opens
// see the same data.
func Open(ctx context.Context, opts backend.Options) (backend.Backend, error) {
	return sqlite.Open(ctx, ":memory:", opts)
}
