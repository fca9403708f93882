package pluginsandbox

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero/api"

	"github.com/lixdb/lix/internal/lixerr"
)

// The wasm ABI: the guest exports an "allocate(size) -> ptr" function plus
// the two plugin entry points, each taking (ptr, len) for its request bytes
// and returning a packed (ptr<<32 | len) uint64 for its response bytes.
// Requests and responses are JSON, so plugin authors see a plain
// byte-array contract (spec §4.10) without a full component-model ABI.

type detectChangesRequest struct {
	Before []byte `json:"before,omitempty"`
	After  []byte `json:"after"`
}

func invokeDetectChanges(ctx context.Context, mod api.Module, key string, before, after []byte) ([]EntityChange, error) {
	reqJSON, err := json.Marshal(detectChangesRequest{Before: before, After: after})
	if err != nil {
		return nil, lixerr.Wrap("pluginsandbox.DetectChanges", lixerr.KindPlugin, err)
	}
	respJSON, err := call(ctx, mod, key, "detect-changes", reqJSON)
	if err != nil {
		return nil, err
	}
	var changes []EntityChange
	if err := json.Unmarshal(respJSON, &changes); err != nil {
		return nil, lixerr.Wrap("pluginsandbox.DetectChanges", lixerr.KindPlugin, err)
	}
	return changes, nil
}

type applyChangesRequest struct {
	File    FileDescriptor `json:"file"`
	Changes []EntityChange `json:"changes"`
}

func invokeApplyChanges(ctx context.Context, mod api.Module, key string, fd FileDescriptor, changes []EntityChange) ([]byte, error) {
	reqJSON, err := json.Marshal(applyChangesRequest{File: fd, Changes: changes})
	if err != nil {
		return nil, lixerr.Wrap("pluginsandbox.ApplyChanges", lixerr.KindPlugin, err)
	}
	return call(ctx, mod, key, "apply-changes", reqJSON)
}

// call writes reqJSON into mod's linear memory via its exported "allocate"
// function, invokes entry(ptr, len), and reads the packed (ptr<<32 | len)
// result back out of memory.
func call(ctx context.Context, mod api.Module, key, entry string, reqJSON []byte) ([]byte, error) {
	fn := mod.ExportedFunction(entry)
	if fn == nil {
		return nil, lixerr.Wrapf(lixerr.KindPlugin, nil, "plugin %q exports no %s function", key, entry)
	}
	alloc := mod.ExportedFunction("allocate")
	if alloc == nil {
		return nil, lixerr.Wrapf(lixerr.KindPlugin, nil, "plugin %q exports no allocate function", key)
	}

	allocated, err := alloc.Call(ctx, uint64(len(reqJSON)))
	if err != nil {
		return nil, lixerr.Wrap("pluginsandbox.call", lixerr.KindPlugin, err)
	}
	ptr := uint32(allocated[0])
	if !mod.Memory().Write(ptr, reqJSON) {
		return nil, lixerr.Wrapf(lixerr.KindPlugin, nil, "plugin %q: failed writing request into guest memory", key)
	}

	packed, err := fn.Call(ctx, uint64(ptr), uint64(len(reqJSON)))
	if err != nil {
		return nil, lixerr.Wrap("pluginsandbox.call", lixerr.KindPlugin, err)
	}
	respPtr := uint32(packed[0] >> 32)
	respLen := uint32(packed[0])
	resp, ok := mod.Memory().Read(respPtr, respLen)
	if !ok {
		return nil, lixerr.Wrapf(lixerr.KindPlugin, nil, "plugin %q: failed reading response from guest memory", key)
	}
	out := make([]byte, len(resp))
	copy(out, resp)
	return out, nil
}
