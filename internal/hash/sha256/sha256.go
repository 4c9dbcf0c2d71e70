// Package sha256 fingerprints converted documents.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements converter.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of a PDF payload. The digest is attached to audit records and
// completion events so identical inputs can be correlated across conversions.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
