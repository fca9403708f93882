package changestore

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// NormalizeCommitMetadata converts a commit's metadata value to a validated
// JSON string before it is stored on lix_internal_commit.metadata_json.
// Accepts string, []byte, or json.RawMessage. Grounded on
// internal/storage/metadata.go's NormalizeMetadataValue, narrowed from
// issue-metadata updates to commit metadata.
func NormalizeCommitMetadata(value any) (string, error) {
	var jsonStr string
	switch v := value.(type) {
	case nil:
		return "{}", nil
	case string:
		jsonStr = v
	case []byte:
		jsonStr = string(v)
	case json.RawMessage:
		jsonStr = string(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("commit metadata must be string, []byte, json.RawMessage, or JSON-marshalable, got %T: %w", value, err)
		}
		jsonStr = string(encoded)
	}

	if !json.Valid([]byte(jsonStr)) {
		return "", fmt.Errorf("commit metadata is not valid JSON")
	}
	return jsonStr, nil
}

// validMetadataKeyRe matches the same shape as entity metadata keys in the
// teacher's issue schema: letters/underscore to start, then alphanumeric,
// underscore, or dot for nested paths.
var validMetadataKeyRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// ValidateMetadataKey checks that a metadata key is safe to splice into a
// JSON path expression.
func ValidateMetadataKey(key string) error {
	if !validMetadataKeyRe.MatchString(key) {
		return fmt.Errorf("invalid metadata key %q: must match [a-zA-Z_][a-zA-Z0-9_.]*", key)
	}
	return nil
}
