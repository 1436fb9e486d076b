package idempotency

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// CanonicalEventID returns the lower-cased source+code identifier.
// Codes that already carry the network prefix (as the indexer usually sends
// them, e.g. source "us", code "us2024abcd") are not prefixed twice.
func CanonicalEventID(source, code string) string {
	source = strings.ToLower(strings.TrimSpace(source))
	code = strings.ToLower(strings.TrimSpace(code))
	if strings.HasPrefix(code, source) {
		return code
	}
	return source + code
}

// LockKey maps a canonical event id onto the 64-bit key space of a
// PostgreSQL advisory lock. The first 8 bytes of SHA-256 keep it stable across processes.
func LockKey(eventID string) int64 {
	sum := sha256.Sum256([]byte("notify:" + eventID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
