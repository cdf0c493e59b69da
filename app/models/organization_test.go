package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidOrgSlug(t *testing.T) {
	tests := []struct {
		slug string
		want bool
	}{
		{"acme_co", true},
		{"acme-co", true},
		{"a1", true},
		{"0start", true},
		{strings.Repeat("a", 63), true},
		{strings.Repeat("a", 64), false},
		{"a", false},
		{"Acme", false},
		{"-acme", false},
		{"_acme", false},
		{"acme co", false},
		{"acme.co", false},
		{"", false},
		{"acme/../etc", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidOrgSlug(tt.slug), "slug %q", tt.slug)
	}
}

func TestHasActiveSubscription(t *testing.T) {
	org := Organization{StripeSubscriptionID: "sub_1", BillingStatus: BillingStatusActive}
	assert.True(t, org.HasActiveSubscription())

	org.BillingStatus = BillingStatusTrialing
	assert.True(t, org.HasActiveSubscription())

	org.BillingStatus = BillingStatusPastDue
	assert.True(t, org.HasActiveSubscription())

	org.BillingStatus = BillingStatusCanceled
	assert.False(t, org.HasActiveSubscription())

	org = Organization{BillingStatus: BillingStatusActive}
	assert.False(t, org.HasActiveSubscription(), "no subscription reference")
}
