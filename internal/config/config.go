// Package config implements the startup/runtime configuration split used to
// build a lix.Options value: a small set of bootstrap fields (backend target,
// default writer key, wasm resource limits) that must be known before a
// backend connection exists, versus everything else, which lives in the
// lix_key_value surface once the engine is open. Adapted from the teacher's
// yaml_config.go / local_config.go split between YamlOnlyKeys (read before
// the database exists) and SQL-backed runtime config.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StartupOnlyKeys are the Options fields that must be supplied before Open,
// because they determine which backend to dial and how the plugin sandbox
// is sized. Every other runtime key belongs in lix_key_value, resolved
// through the normal versioned state path instead of a startup file.
var StartupOnlyKeys = map[string]bool{
	"backend":            true,
	"writer-key":         true,
	"wasm-memory-pages":  true,
	"wasm-call-timeout-ms": true,
	"checkpoint-interval": true,
}

// IsStartupOnlyKey reports whether key must be resolved before Open rather
// than through the lix_key_value surface.
func IsStartupOnlyKey(key string) bool {
	return StartupOnlyKeys[key]
}

// Startup holds the bootstrap fields loaded from a YAML file before a Lix
// backend connection is opened. Callers that construct Options directly in
// Go code never need this type; it exists for embedders that prefer to keep
// connection settings in a checked-in file alongside the data directory.
type Startup struct {
	Backend             string `yaml:"backend"`
	WriterKey           string `yaml:"writer-key"`
	WasmMemoryPages     uint32 `yaml:"wasm-memory-pages"`
	WasmCallTimeoutMS   int    `yaml:"wasm-call-timeout-ms"`
	CheckpointInterval  int    `yaml:"checkpoint-interval"`
}

// Load reads a Startup from path. A missing file is not an error: it
// returns a zero Startup so callers can layer explicit Options fields over
// defaults without special-casing "no config file".
func Load(path string) (Startup, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-supplied, same trust level as opts.Backend
	if err != nil {
		if os.IsNotExist(err) {
			return Startup{}, nil
		}
		return Startup{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var s Startup
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Startup{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path, creating or truncating it.
func Save(path string, s Startup) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
