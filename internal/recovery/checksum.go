package recovery

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/tiangong-vis/coordinator/internal/seed"
)

// Checksum returns the hex SHA-256 of the snapshot's canonical JSON
// encoding. Struct field order makes the encoding deterministic.
func Checksum(s seed.State) string {
	raw, err := json.Marshal(s)
	if err != nil {
		// seed.State contains only numbers and a slice; this cannot fail.
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
