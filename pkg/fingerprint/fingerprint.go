// Package fingerprint derives short stable digests used as cache keys and
// version tags.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const shortLen = 16

// Strings hashes parts in order with an unambiguous separator.
func Strings(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Short is the first 16 hex characters of Strings.
func Short(parts ...string) string {
	return Strings(parts...)[:shortLen]
}

// Value hashes the JSON encoding of v. Map keys are sorted by encoding/json,
// so equal values always produce equal digests.
func Value(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return Short(string(data)), nil
}

// Join concatenates non-empty segments with ":".
func Join(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}
