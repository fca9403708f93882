// Package factory registers backend.Backend constructors by name so the
// public Lix API can open a connection from a plain connection string
// ("sqlite:./path.db", "dolt://host:port/db") without importing every
// backend package directly.
package factory

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/lixdb/lix/internal/backend"
)

// Opener constructs a backend.Backend from a parsed connection string.
type Opener func(ctx context.Context, target string, opts backend.Options) (backend.Backend, error)

var registry = make(map[string]Opener)

// Register adds an Opener under the given scheme. Backend packages call this
// from an init() so the factory never imports backend implementations
// itself (keeps CGO-free builds free of accidental Dolt/SQLite coupling).
func Register(scheme string, open Opener) {
	registry[scheme] = open
}

// Open parses a Lix connection string of the form "scheme:target" or
// "scheme://target" and dispatches to the registered Opener for scheme.
func Open(ctx context.Context, conn string, opts backend.Options) (backend.Backend, error) {
	scheme, target, err := splitConn(conn)
	if err != nil {
		return nil, err
	}
	open, ok := registry[scheme]
	if !ok {
		return nil, fmt.Errorf("lix: no backend registered for scheme %q (known: %s)", scheme, strings.Join(knownSchemes(), ", "))
	}
	return open(ctx, target, opts)
}

func splitConn(conn string) (scheme, target string, err error) {
	u, parseErr := url.Parse(conn)
	if parseErr == nil && u.Scheme != "" {
		if u.Opaque != "" {
			return u.Scheme, u.Opaque, nil
		}
		return u.Scheme, u.Host + u.Path, nil
	}
	idx := strings.Index(conn, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("lix: connection string %q has no scheme (expected scheme:target)", conn)
	}
	return conn[:idx], conn[idx+1:], nil
}

func knownSchemes() []string {
	schemes := make([]string, 0, len(registry))
	for s := range registry {
		schemes = append(schemes, s)
	}
	return schemes
}
