package resultcache

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint derives a bounded, collision-resistant cache key from a
// session id and command text, so long or arbitrary command strings
// never leak directly into map keys or logs.
func Fingerprint(sessionID, commandText string) string {
	h, _ := blake2b.New256(nil) // nil key, fixed output size: cannot error
	_, _ = h.Write([]byte(sessionID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(commandText))
	return hex.EncodeToString(h.Sum(nil))
}
