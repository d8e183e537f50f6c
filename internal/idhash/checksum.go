package idhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonical returns a JSON serialization of v with object keys sorted at every depth.
// Numbers keep their exact textual form, so big integers survive unchanged.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("re-marshal: %w", err)
	}
	return out, nil
}

// Checksum computes a deterministic content id using SHA256.
// Formula: SHA256(canonical JSON of v)
// Returns hex-encoded hash (64 characters).
func Checksum(v any) (string, error) {
	data, err := Canonical(v)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// MustChecksum is like Checksum but panics on error.
// Only for values known to be JSON-serializable.
func MustChecksum(v any) string {
	sum, err := Checksum(v)
	if err != nil {
		panic(fmt.Sprintf("idhash: %v", err))
	}
	return sum
}
