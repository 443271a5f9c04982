package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// StorageKey maps a canonical cache key to a bounded provider key:
// prefix + ":" + first 32 hex chars of sha256(canonical).
func StorageKey(prefix, canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return prefix + ":" + hex.EncodeToString(sum[:16])
}
