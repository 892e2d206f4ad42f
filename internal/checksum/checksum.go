// Package checksum fingerprints diary files so the index can skip
// unchanged ones.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Matches reports whether data still hashes to known. An empty known
// never matches.
func Matches(known string, data []byte) bool {
	return known != "" && known == Sum(data)
}
