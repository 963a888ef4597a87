package serialization

import (
	"crypto/sha256"
)

// ComputeChecksum returns the SHA-256 digest of a model file's coefficient section.
// Save stores it in the fixed header; Load recomputes it before decoding sub-models.
func ComputeChecksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// ValidateChecksum reports ErrChecksumMismatch when the coefficient section of a
// loaded file does not match the digest stored in its fixed header.
func ValidateChecksum(computed, stored [32]byte) error {
	if computed != stored {
		return ErrChecksumMismatch
	}
	return nil
}
