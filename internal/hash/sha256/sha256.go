// Package sha256 derives stable content fingerprints for posts and artifacts.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintLen keeps derived post ids short enough for logs and messages.
const fingerprintLen = 16

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint derives a deterministic id from parts. It is used for posts whose
// source did not expose a platform id. Parts are whitespace-normalized and
// separated so that ("ab","c") and ("a","bc") differ.
func Fingerprint(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.Join(strings.Fields(p), " ")
	}
	return "fp-" + Sum([]byte(strings.Join(normalized, "\x1f")))[:fingerprintLen]
}
