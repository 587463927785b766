package storage

import (
	"crypto/md5" //nolint:gosec // used solely as a dedup key, not for authentication (spec §4.2)
	"encoding/hex"
)

// HashBytes returns the hex-encoded MD5 of a bundle's raw bytes, used only
// for deduplication, never for integrity or authentication.
func HashBytes(b []byte) string {
	sum := md5.Sum(b) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
