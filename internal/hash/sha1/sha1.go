// Package sha1 provides the content fingerprint digests.
package sha1

import (
	"crypto/sha1" // #nosec G505 -- digests identify content, they are not a security boundary
	"encoding/hex"
)

// Hasher computes the 160-bit hex digests used for change detection.
// Digest collisions are treated as content equality.
type Hasher struct{}

// New returns a SHA-1 hasher.
func New() *Hasher {
	return &Hasher{}
}

// RawDigest hashes the unmodified fetched markup bytes.
func (h *Hasher) RawDigest(data []byte) string {
	sum := sha1.Sum(data) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// CleanDigest hashes canonicalized content features. Same input always
// yields the same digest; no salts, no randomness.
func (h *Hasher) CleanDigest(canonical string) string {
	return h.RawDigest([]byte(canonical))
}
