package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the SHA-256 digest of a refresh token id (jti), hex-encoded.
// Only fingerprints are persisted; the jti itself carries the entropy, so no key is needed.
func Fingerprint(id string) string {
	h := sha256.Sum256([]byte(id))
	return hex.EncodeToString(h[:])
}

// ShortFingerprint returns a prefix of fp that is safe to show in logs and session listings.
func ShortFingerprint(fp string) string {
	const n = 12
	if len(fp) <= n {
		return fp
	}
	return fp[:n]
}
