package billing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/CostLensHQ/CostLens/app/models"
	"github.com/CostLensHQ/CostLens/internal/pkg/ratelimit"
	stripe "github.com/stripe/stripe-go/v82"
)

// CreateOnboardingCheckout starts a subscription checkout for a user who has
// no organization yet. The idempotency key is derived from (mode, user,
// price) with no time component, so a retried click collapses into the same
// Stripe session instead of creating duplicates.
func (s *Service) CreateOnboardingCheckout(ctx context.Context, userID uint, userEmail, priceID string) (*CheckoutResult, error) {
	if !IsValidPriceID(priceID) {
		return nil, ErrInvalidPriceID
	}
	if !s.limiter.TryAcquire(ctx, userID, ratelimit.ActionCheckoutCreate) {
		return nil, ErrRateLimited
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(userEmail),
		Metadata: map[string]string{
			"user_id": strconv.FormatUint(uint64(userID), 10),
			"mode":    "onboarding",
		},
	}

	key := DeriveIdempotencyKey("checkout", "onboarding", strconv.FormatUint(uint64(userID), 10), priceID)
	return s.createSession(ctx, params, priceID, key)
}

// CreateCheckoutSession starts an upgrade-to-paid checkout for an existing
// organization. Checkout is for new subscriptions only; an org that already
// has an active subscription must go through ChangePlan.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID uint, orgSlug, priceID string) (*CheckoutResult, error) {
	if !models.IsValidOrgSlug(orgSlug) {
		return nil, models.ErrInvalidSlug
	}
	if !IsValidPriceID(priceID) {
		return nil, ErrInvalidPriceID
	}

	org, err := s.repo.GetOrganizationBySlug(orgSlug)
	if err != nil {
		return nil, err
	}
	sole, err := s.repo.IsSoleOwner(org.ID, userID)
	if err != nil {
		return nil, err
	}
	if !sole {
		return nil, ErrNotOwner
	}
	if org.HasActiveSubscription() {
		return nil, ErrSubscriptionExists
	}
	if !s.limiter.TryAcquire(ctx, userID, ratelimit.ActionCheckoutCreate) {
		return nil, ErrRateLimited
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Metadata: map[string]string{
			"org_slug": org.Slug,
			"mode":     "organization",
		},
	}
	if org.StripeCustomerID != "" {
		params.Customer = stripe.String(org.StripeCustomerID)
	}

	key := DeriveIdempotencyKey("checkout", "org", strconv.FormatUint(uint64(org.ID), 10), priceID)
	return s.createSession(ctx, params, priceID, key)
}

func (s *Service) createSession(ctx context.Context, params *stripe.CheckoutSessionParams, priceID, idempotencyKey string) (*CheckoutResult, error) {
	// Trial length is plan-configurable with a system default; the trial
	// parameter is omitted entirely when it resolves to zero.
	pr, err := s.processor.GetPrice(ctx, priceID)
	if err != nil {
		return nil, err
	}
	trialDays := TrialDays(pr, s.config.DefaultTrialDays)

	params.LineItems = []*stripe.CheckoutSessionLineItemParams{
		{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		},
	}
	params.SuccessURL = stripe.String(s.config.PublicURL + "/account/billing/success?session_id={CHECKOUT_SESSION_ID}")
	params.CancelURL = stripe.String(s.config.PublicURL + "/account/billing")
	if trialDays > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(trialDays),
		}
	}

	sess, err := s.processor.CreateCheckoutSession(ctx, params, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("checkout session creation failed: %w", err)
	}
	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}
