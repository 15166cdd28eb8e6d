// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 content addressing for ledger entries and
// document bytes. Chain verification is only reproducible if every writer
// serializes entries identically, so all hashing in this module goes
// through this package.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal returns the RFC 8785 canonical JSON representation of v.
//
// The value is first marshaled with encoding/json (respecting struct tags,
// HTML escaping disabled), then transformed into canonical form: map keys
// sorted lexicographically by UTF-8 bytes, numbers in shortest-round-trip
// form, no insignificant whitespace.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}

	out, err := jcs.Transform(bytes.TrimRight(buf.Bytes(), "\n"))
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical JSON form of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes. Used directly for
// document content hashing, where the bytes themselves are the canonical form.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
