// Package idgen generates content-addressed identifiers for the change store.
//
// change.id and snapshot.id are both defined (invariant 1, spec §3) as hashes
// of their semantic content, never as random or sequential values. Re-recording
// an identical change or snapshot is therefore a no-op rather than a duplicate.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

// base36Alphabet is the character set used for short display ids (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of specified length.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// ContentHash hashes the given parts, each separated by a NUL byte so that
// ("ab", "c") and ("a", "bc") never collide, returning a lowercase hex digest.
func ContentHash(parts ...[]byte) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotID hashes JSON-serialized snapshot content. snapshot rows are
// deduplicated by this id across changes (spec §4.7).
func SnapshotID(contentJSON []byte) string {
	return ContentHash(contentJSON)
}

// ChangeID hashes the tuple that makes a change content-addressable:
// (entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_id).
// snapshotID is the empty string for a tombstone change.
func ChangeID(entityID, schemaKey, schemaVersion, fileID, pluginKey, snapshotID string) string {
	return ContentHash(
		[]byte(entityID),
		[]byte(schemaKey),
		[]byte(schemaVersion),
		[]byte(fileID),
		[]byte(pluginKey),
		[]byte(snapshotID),
	)
}

// CommitID hashes a commit's parent ids and change-set id, so that replaying
// the same set of changes onto the same parents never mints two commit rows.
func CommitID(changeSetID string, parentIDs []string) string {
	parts := make([][]byte, 0, len(parentIDs)+1)
	parts = append(parts, []byte(changeSetID))
	for _, p := range parentIDs {
		parts = append(parts, []byte(p))
	}
	return ContentHash(parts...)
}

// WorkingChangeSetID mints the change set id for a version's working
// commit. Every other id in this package is content-addressed so that
// replaying identical input never mints a duplicate row — but a working
// commit's change set starts empty and only accumulates over its lifetime,
// so hashing it from content would make every brand-new working commit
// collide with every other empty one. This is the one id in the tree
// deliberately NOT content-addressed: seed (the version id) only keeps ids
// readable in logs, uniqueness comes from crypto/rand.
func WorkingChangeSetID(seed string) string {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		// crypto/rand failing means the OS entropy source is broken; there is
		// no sane fallback that preserves uniqueness, so surface it loudly
		// via a panic rather than silently minting a colliding id.
		panic("idgen: crypto/rand unavailable: " + err.Error())
	}
	return ContentHash([]byte(seed), nonce[:])
}

// PluginHash hashes raw wasm bytes, used both as the plugin cache key and to
// detect a no-op reinstall of identical bytes (P8).
func PluginHash(wasmBytes []byte) string {
	return ContentHash(wasmBytes)
}

// ShortID derives a short, human-displayable id (e.g. for a version or a
// commit-edge cache row) from arbitrary content: a sha256 of the parts,
// base36-encoded (ContentHash, by contrast, is hex-encoded).
func ShortID(length int, parts ...[]byte) string {
	full := sha256.New()
	for i, p := range parts {
		if i > 0 {
			full.Write([]byte{0})
		}
		full.Write(p)
	}
	sum := full.Sum(nil)
	return EncodeBase36(sum, length)
}
