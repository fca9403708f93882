package dolt

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/backend/factory"
)

func init() {
	factory.Register("dolt", func(ctx context.Context, target string, opts backend.Options) (backend.Backend, error) {
		cfg, err := configFromTarget(target, opts)
		if err != nil {
			return nil, err
		}
		return Open(ctx, cfg)
	})
}

// configFromTarget parses "host:port/database" (as produced by splitting a
// dolt://host:port/database connection string) into a Config, letting
// backend.Options override the host-mode fields Lix's generic Options type
// also exposes.
func configFromTarget(target string, opts backend.Options) (Config, error) {
	hostPort, database, _ := strings.Cut(target, "/")
	host, portStr, hasPort := strings.Cut(hostPort, ":")
	cfg := Config{
		Host:     host,
		Database: database,
		ReadOnly: opts.ReadOnly,
		DataDir:  database,
	}
	if hasPort {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("lix: invalid dolt port %q: %w", portStr, err)
		}
		cfg.Port = p
	}
	if opts.ServerHost != "" {
		cfg.Host = opts.ServerHost
	}
	if opts.ServerPort != 0 {
		cfg.Port = opts.ServerPort
	}
	if opts.ServerUser != "" {
		cfg.User = opts.ServerUser
	}
	if opts.ServerPassword != "" {
		cfg.Password = opts.ServerPassword
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
		cfg.DataDir = opts.Database
	}
	return cfg, nil
}
