package domain

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// CommitmentDigest reduces an opaque recipient payload to a fixed-size
// hex digest. Core state stores only the digest; the raw payload is the
// privacy rail's business.
func CommitmentDigest(raw []byte) string {
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
