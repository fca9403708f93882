// Package pluginsandbox hosts Lix's wasm-component-v1 plugins on
// github.com/tetratelabs/wazero, a pure-Go wasm runtime — matching the
// teacher's CGO-avoidance stance already visible in
// internal/storage/dolt/store_nocgo.go (a pure-Go fallback path kept
// alongside the CGO-linked one). Every plugin call is sandboxed: no network
// import, no filesystem import, no cross-call memory — a fresh module
// instance is created per call and discarded after.
package pluginsandbox

import (
	"context"
	"encoding/json"
	"path"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/lixdb/lix/internal/idgen"
	"github.com/lixdb/lix/internal/lixerr"
)

// Manifest describes one installed plugin (spec §4.10).
type Manifest struct {
	Key        string   `json:"key"`
	Runtime    string   `json:"runtime"`
	APIVersion string   `json:"api_version"`
	Match      struct {
		PathGlob string `json:"path_glob"`
	} `json:"match"`
	Entry   string   `json:"entry"`
	Schemas []string `json:"schemas,omitempty"`
}

// EntityChange is the plugin-contract payload spec §4.10 defines:
// { entity_id, schema_key, schema_version, snapshot_content | null }.
type EntityChange struct {
	EntityID      string          `json:"entity_id"`
	SchemaKey     string          `json:"schema_key"`
	SchemaVersion string          `json:"schema_version"`
	SnapshotJSON  json.RawMessage `json:"snapshot_content,omitempty"` // nil means tombstone
}

// FileDescriptor is the (id, path, directory_id, name, extension, hidden,
// metadata) tuple spec §3 defines, distinct from the materialized
// lix_file.data bytes.
type FileDescriptor struct {
	ID          string         `json:"id,omitempty"`
	Path        string         `json:"path"`
	DirectoryID string         `json:"directory_id,omitempty"`
	Name        string         `json:"name"`
	Extension   string         `json:"extension,omitempty"`
	Hidden      bool           `json:"hidden,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type installedPlugin struct {
	manifest Manifest
	wasm     []byte
	hash     string
}

// Sandbox owns the wazero runtime and the set of installed plugins. Plugin
// instances are cached per (key, wasmHash) in an LRU and recreated fresh on
// every call (no cross-call memory is retained), per spec §4.10.
type Sandbox struct {
	runtime   wazero.Runtime
	installed map[string]*installedPlugin
	instances *lru.Cache[string, wazero.CompiledModule]
}

// New compiles nothing up front; modules are compiled lazily on Install so
// an empty Sandbox costs nothing.
func New(ctx context.Context) (*Sandbox, error) {
	cache, err := lru.New[string, wazero.CompiledModule](64)
	if err != nil {
		return nil, lixerr.Wrap("pluginsandbox.New", lixerr.KindPlugin, err)
	}
	return &Sandbox{
		runtime:   wazero.NewRuntime(ctx),
		installed: make(map[string]*installedPlugin),
		instances: cache,
	}, nil
}

// Install registers a plugin from its manifest and wasm bytes. Hashing
// wasmBytes with idgen.ContentHash makes re-installing identical bytes a
// no-op (P8); installing a different hash under the same key replaces it.
func (s *Sandbox) Install(ctx context.Context, manifest Manifest, wasmBytes []byte) error {
	hash := idgen.PluginHash(wasmBytes)
	if existing, ok := s.installed[manifest.Key]; ok && existing.hash == hash {
		return nil // identical bytes already installed
	}

	compiled, err := s.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return lixerr.Wrap("pluginsandbox.Install", lixerr.KindPlugin, err)
	}
	s.instances.Add(cacheKey(manifest.Key, hash), compiled)
	s.installed[manifest.Key] = &installedPlugin{manifest: manifest, wasm: wasmBytes, hash: hash}
	return nil
}

func cacheKey(key, hash string) string { return key + "\x00" + hash }

// ResolveForPath finds the plugin whose manifest.Match.PathGlob matches
// filePath — the match spec §4.10's manifest.match.path_glob describes,
// used the first time a file is written and no change yet records which
// plugin owns it.
func (s *Sandbox) ResolveForPath(filePath string) (string, error) {
	for key, plugin := range s.installed {
		glob := plugin.manifest.Match.PathGlob
		if glob == "" {
			continue
		}
		ok, err := path.Match(glob, filePath)
		if err != nil {
			return "", lixerr.Wrap("pluginsandbox.ResolveForPath", lixerr.KindPlugin, err)
		}
		if ok {
			return key, nil
		}
	}
	return "", lixerr.Wrapf(lixerr.KindPlugin, nil, "no installed plugin matches path %q", filePath)
}

// DetectChanges invokes the owning plugin's detect-changes(before, after)
// export. before may be nil (INSERT with no prior bytes).
func (s *Sandbox) DetectChanges(ctx context.Context, key string, before, after []byte) ([]EntityChange, error) {
	mod, err := s.instantiate(ctx, key)
	if err != nil {
		return nil, err
	}
	defer mod.Close(ctx)

	return invokeDetectChanges(ctx, mod, key, before, after)
}

// ApplyChanges invokes the owning plugin's apply-changes(file, changes)
// export and returns the reconstructed file bytes.
func (s *Sandbox) ApplyChanges(ctx context.Context, key string, fd FileDescriptor, changes []EntityChange) ([]byte, error) {
	mod, err := s.instantiate(ctx, key)
	if err != nil {
		return nil, err
	}
	defer mod.Close(ctx)

	return invokeApplyChanges(ctx, mod, key, fd, changes)
}

// instantiate creates a fresh module instance for this call only — no
// network import, no filesystem import are configured on the module config,
// so the plugin has no ambient authority beyond the bytes passed to it.
func (s *Sandbox) instantiate(ctx context.Context, key string) (api.Module, error) {
	plugin, ok := s.installed[key]
	if !ok {
		return nil, lixerr.Wrapf(lixerr.KindPlugin, nil, "no plugin installed for key %q", key)
	}
	compiled, ok := s.instances.Get(cacheKey(key, plugin.hash))
	if !ok {
		recompiled, err := s.runtime.CompileModule(ctx, plugin.wasm)
		if err != nil {
			return nil, lixerr.Wrap("pluginsandbox.instantiate", lixerr.KindPlugin, err)
		}
		s.instances.Add(cacheKey(key, plugin.hash), recompiled)
		compiled = recompiled
	}
	cfg := wazero.NewModuleConfig().WithName(key)
	mod, err := s.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, lixerr.Wrap("pluginsandbox.instantiate", lixerr.KindPlugin, err)
	}
	return mod, nil
}

// Close tears down the wazero runtime, invalidating every installed plugin.
func (s *Sandbox) Close(ctx context.Context) error {
	if err := s.runtime.Close(ctx); err != nil {
		return lixerr.Wrap("pluginsandbox.Close", lixerr.KindPlugin, err)
	}
	return nil
}
