package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeriveIdempotencyKey produces a stable request fingerprint from the scope
// and the identifying parts of an operation. Stripe deduplicates retried
// requests carrying the same key, so the inputs must never include a
// timestamp or random value: a double-submitted checkout click has to hash
// to the same key as the first one.
func DeriveIdempotencyKey(scope string, parts ...string) string {
	sum := sha256.Sum256([]byte(scope + "|" + strings.Join(parts, "|")))
	return scope + "-" + hex.EncodeToString(sum[:])
}
