package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// StorageKey returns "<prefix>:<first 32 hex chars of sha256(id)>". Encoded
// query keys are binary and unbounded in size; the hash keeps provider keys
// printable and short.
func StorageKey(prefix string, id []byte) string {
	sum := sha256.Sum256(id)
	return prefix + ":" + hex.EncodeToString(sum[:16])
}
