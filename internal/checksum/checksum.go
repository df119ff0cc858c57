// Package checksum computes stable content digests of JSON documents.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize re-serializes a JSON document with deterministic object key
// ordering so that semantically identical documents hash identically.
// encoding/json sorts map keys on marshal, which is the whole trick.
func Canonicalize(doc json.RawMessage) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// Digest returns the hex SHA-256 of the canonical form of doc. The digest
// is informational only; it never gates whether a write happens.
func Digest(doc json.RawMessage) (string, error) {
	canon, err := Canonicalize(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
