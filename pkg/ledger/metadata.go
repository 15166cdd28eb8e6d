package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Metadata is the typed key-value context attached to a ledger entry.
// Values are restricted to a closed union (string, number, boolean, nested
// map of the same) so the canonical serialization used for chain hashing is
// well-defined. Arbitrary structs, channels, or cyclic values never enter
// an entry.
type Metadata map[string]any

// metadataSchema is the closed value-type union, enforced at append time.
const metadataSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": {"$ref": "#/$defs/value"},
	"$defs": {
		"value": {
			"anyOf": [
				{"type": "string"},
				{"type": "number"},
				{"type": "boolean"},
				{"type": "object", "additionalProperties": {"$ref": "#/$defs/value"}}
			]
		}
	}
}`

var compiledMetadataSchema = jsonschema.MustCompileString("ledger/metadata.json", metadataSchema)

// Validate checks m against the metadata schema. A nil map is valid.
func (m Metadata) Validate() error {
	if m == nil {
		return nil
	}

	// Round-trip through JSON so the validator sees plain decoded values and
	// non-serializable values (cycles, funcs) are rejected up front.
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: not serializable: %v", ErrInvalidMetadata, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if err := compiledMetadataSchema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return nil
}

// String returns the string value for key, if present and a string.
func (m Metadata) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
