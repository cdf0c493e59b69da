package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Keys must be a pure function of their inputs: same inputs same key, across
// time and process restarts, so a retried mutation collapses inside the
// payment processor's dedup window.
func TestDeriveIdempotencyKeyDeterministic(t *testing.T) {
	a := DeriveIdempotencyKey("plan-change", "17", "price_new000")
	time.Sleep(5 * time.Millisecond)
	b := DeriveIdempotencyKey("plan-change", "17", "price_new000")
	assert.Equal(t, a, b)
}

func TestDeriveIdempotencyKeyDistinct(t *testing.T) {
	base := DeriveIdempotencyKey("plan-change", "17", "price_new000")
	assert.NotEqual(t, base, DeriveIdempotencyKey("plan-change", "18", "price_new000"))
	assert.NotEqual(t, base, DeriveIdempotencyKey("plan-change", "17", "price_other0"))
	assert.NotEqual(t, base, DeriveIdempotencyKey("checkout", "17", "price_new000"))
	// part boundaries must not be ambiguous: ("ab","c") != ("a","bc")
	assert.NotEqual(t,
		DeriveIdempotencyKey("scope", "ab", "c"),
		DeriveIdempotencyKey("scope", "a", "bc"))
}

func TestDeriveIdempotencyKeyShape(t *testing.T) {
	key := DeriveIdempotencyKey("checkout", "org", "1", "price_new000")
	assert.Contains(t, key, "checkout-")
	// scope prefix + 64 hex chars of sha256
	assert.Len(t, key, len("checkout")+1+64)
}
