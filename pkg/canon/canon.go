// Package canon provides canonical JSON encoding and content hashing
// shared by every component that must produce a stable hash of a
// request or record: the idempotency guard's scope hash, the audit
// log's payload hash, the pricing engine's rules/pricing SHA, and
// invoice version diffs.
//
// Canonicalization follows RFC 8785 (JSON Canonicalization Scheme) via
// gowebpki/jcs, so insertion order of object keys never changes the
// resulting hash.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSON marshals v to JSON and then canonicalizes it per RFC 8785.
func JSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canon: transform: %w", err)
	}
	return out, nil
}

// SHA256Hex returns the full lowercase hex SHA-256 digest of the
// canonical JSON form of v.
func SHA256Hex(v any) (string, error) {
	canonical, err := JSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SHA256HexBytes hashes raw bytes directly (no canonicalization), used
// when the caller already has a byte-stable payload (e.g. a file's
// contents for the rules SHA or a backup manifest).
func SHA256HexBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Short12 truncates a hex digest to its first 12 characters, the
// canonical display form for rules_sha.
func Short12(hexDigest string) string {
	if len(hexDigest) <= 12 {
		return hexDigest
	}
	return hexDigest[:12]
}
