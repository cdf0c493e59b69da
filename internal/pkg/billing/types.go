package billing

import (
	"errors"
	"regexp"
	"time"
)

// Error taxonomy. Validation, authorization and eligibility errors carry a
// specific message and are rejected before any external call or mutation;
// upstream mutation failures abort the whole operation; downstream mirror
// failures surface as warnings on an otherwise successful result.
var (
	ErrInvalidPriceID     = errors.New("invalid price id")
	ErrOrgNotFound        = errors.New("organization not found")
	ErrNotOwner           = errors.New("user is not the organization's billing owner")
	ErrNoSubscription     = errors.New("organization has no active subscription")
	ErrSubscriptionExists = errors.New("organization already has an active subscription; use a plan change instead")
	ErrRateLimited        = errors.New("too many checkout attempts, try again shortly")
	// ErrPlanConfig indicates missing or out-of-bounds plan metadata at the
	// payment processor. This is a product-catalog defect, not a user error.
	ErrPlanConfig = errors.New("plan configuration error, please contact support")
)

var priceIDPattern = regexp.MustCompile(`^price_[A-Za-z0-9]{6,}$`)

// IsValidPriceID reports whether s looks like a Stripe price id. Checked
// before any external call.
func IsValidPriceID(s string) bool {
	return priceIDPattern.MatchString(s)
}

// SubscriptionSummary is the caller-facing view of the subscription after a
// billing operation.
type SubscriptionSummary struct {
	SubscriptionID     string     `json:"subscription_id"`
	PlanID             string     `json:"plan_id"`
	PlanName           string     `json:"plan_name"`
	PriceID            string     `json:"price_id"`
	UnitAmount         int64      `json:"unit_amount"`
	Interval           string     `json:"interval"`
	Status             string     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
}

// PlanChangeResult reports a plan change. Success is true once the payment
// processor mutation completed, even when mirror writes degraded; SyncWarning
// and SyncQueued communicate degraded-but-successful completion.
type PlanChangeResult struct {
	Success     bool                 `json:"success"`
	Summary     *SubscriptionSummary `json:"summary,omitempty"`
	SyncWarning string               `json:"sync_warning,omitempty"`
	SyncQueued  bool                 `json:"sync_queued,omitempty"`
}

// CheckoutResult carries the hosted checkout session reference.
type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// ResyncResult reports a reconciliation run.
type ResyncResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
