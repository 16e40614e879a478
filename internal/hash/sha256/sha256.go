// Package sha256 provides SHA-256 fingerprinting utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestLen is the length in hex characters of a truncated fingerprint.
// Short digests are sufficient for display and integrity checks; they are not
// meant to be collision-resistant identifiers.
const DigestLen = 16

// Fingerprinter implements regdata.Fingerprinter using truncated SHA-256.
type Fingerprinter struct{}

// New returns a SHA-256 fingerprinter.
func New() *Fingerprinter {
	return &Fingerprinter{}
}

// Fingerprint hashes the input and returns the first DigestLen hex characters.
func (f *Fingerprinter) Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:DigestLen]
}
