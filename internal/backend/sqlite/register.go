package sqlite

import (
	"context"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/backend/factory"
)

func init() {
	factory.Register("sqlite", func(ctx context.Context, target string, opts backend.Options) (backend.Backend, error) {
		return Open(ctx, target, opts)
	})
}
