package billing

import (
	"context"
	"fmt"
	"log"

	"github.com/CostLensHQ/CostLens/app/models"
	"github.com/CostLensHQ/CostLens/internal/pkg/limitsync"
	"github.com/CostLensHQ/CostLens/internal/pkg/ratelimit"
	stripe "github.com/stripe/stripe-go/v82"
)

// freePlan is the mirror state applied when reconciliation finds no live
// subscription at the payment processor.
var freePlan = PlanDescriptor{
	PlanID:              "free",
	Name:                "Free",
	SeatLimit:           1,
	ProviderLimit:       2,
	PipelinesPerDay:     5,
	PipelinesPerWeek:    35,
	PipelinesPerMonth:   150,
	ConcurrentPipelines: 1,
}

// Resync reconciles the datastore mirror and the backend limits service with
// the payment processor's current view. Stripe wins every conflict: the
// mirror is overwritten unconditionally, never merged.
func (s *Service) Resync(ctx context.Context, orgSlug string, actingUserID uint) (*ResyncResult, error) {
	if !models.IsValidOrgSlug(orgSlug) {
		return nil, models.ErrInvalidSlug
	}

	org, err := s.repo.GetOrganizationBySlug(orgSlug)
	if err != nil {
		return nil, err
	}
	role, err := s.repo.GetMemberRole(org.ID, actingUserID)
	if err != nil {
		return nil, err
	}
	if role != models.OrgRoleOwner {
		return nil, ErrNotOwner
	}
	if !s.limiter.TryAcquire(ctx, actingUserID, ratelimit.ActionBillingResync) {
		return nil, ErrRateLimited
	}

	if org.StripeCustomerID == "" && org.StripeSubscriptionID == "" {
		return &ResyncResult{Success: true, Message: "no billing account linked, nothing to sync"}, nil
	}

	sub, err := s.lookupSubscription(ctx, org)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		// No live subscription anywhere: the org is on the free tier now.
		applyDescriptor(org, &freePlan)
		org.StripeSubscriptionID = ""
		org.BillingStatus = models.BillingStatusCanceled
		org.CurrentPeriodStart = nil
		org.CurrentPeriodEnd = nil
		org.TrialEndsAt = nil
		if err := s.repo.UpdateOrganizationBilling(org); err != nil {
			return nil, fmt.Errorf("billing: downgrade mirror for org %s: %w", org.Slug, err)
		}
		return s.resyncResult(ctx, org, "no active subscription found; reverted to the free plan")
	}

	if err := s.syncFromSubscription(org, sub); err != nil {
		return nil, err
	}
	return s.resyncResult(ctx, org, "billing state synchronized")
}

// lookupSubscription resolves the org's live subscription: the stored
// reference first, then a customer-wide search when the reference is stale.
// Returns (nil, nil) when the org genuinely has none.
func (s *Service) lookupSubscription(ctx context.Context, org *models.Organization) (*stripe.Subscription, error) {
	if org.StripeSubscriptionID != "" {
		sub, err := s.processor.GetSubscription(ctx, org.StripeSubscriptionID)
		if err == nil {
			if sub.Status != stripe.SubscriptionStatusCanceled && sub.Status != stripe.SubscriptionStatusIncompleteExpired {
				return sub, nil
			}
		} else {
			log.Printf("Warning: stored subscription %s for org %s unreadable, falling back to customer search: %v",
				org.StripeSubscriptionID, org.Slug, err)
		}
	}
	if org.StripeCustomerID == "" {
		return nil, nil
	}
	return s.processor.FindSubscriptionByCustomer(ctx, org.StripeCustomerID)
}

// syncFromSubscription overwrites the mirror from an authoritative
// subscription snapshot. Shared by resync and the webhook path.
func (s *Service) syncFromSubscription(org *models.Organization, sub *stripe.Subscription) error {
	desc, err := DescriptorFromSubscription(sub)
	if err != nil {
		return err
	}
	applySubscriptionState(org, sub, desc)
	if err := s.repo.UpdateOrganizationBilling(org); err != nil {
		return fmt.Errorf("billing: mirror write for org %s: %w", org.Slug, err)
	}
	return nil
}

// resyncResult pushes the reconciled limits downstream. A push failure
// degrades the message only; the mirror is already consistent and the next
// sync retries the push.
func (s *Service) resyncResult(ctx context.Context, org *models.Organization, msg string) (*ResyncResult, error) {
	push := s.limits.Push(ctx, orgLimitsPayload(org), limitsync.SyncTypeResync)
	if !push.Success {
		log.Printf("Warning: limits push during resync for org %s failed: %v", org.Slug, push.Err)
		if push.Queued {
			s.queueLimitsRetry(ctx, org.Slug)
		}
		return &ResyncResult{
			Success: true,
			Message: msg + "; limits service unavailable, push will be retried",
		}, nil
	}
	return &ResyncResult{Success: true, Message: msg}, nil
}

// ListInvoices returns recent invoices for the org's billing account. Any
// active member may view them.
func (s *Service) ListInvoices(ctx context.Context, orgSlug string, actingUserID uint, limit int64) ([]*stripe.Invoice, error) {
	org, err := s.memberOrg(orgSlug, actingUserID)
	if err != nil {
		return nil, err
	}
	if org.StripeCustomerID == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 12
	}
	return s.processor.ListInvoices(ctx, org.StripeCustomerID, limit)
}

// ListPaymentMethods returns the org's stored card payment methods. Owner
// only: card details are billing-owner material.
func (s *Service) ListPaymentMethods(ctx context.Context, orgSlug string, actingUserID uint) ([]*stripe.PaymentMethod, error) {
	org, err := s.memberOrg(orgSlug, actingUserID)
	if err != nil {
		return nil, err
	}
	role, err := s.repo.GetMemberRole(org.ID, actingUserID)
	if err != nil {
		return nil, err
	}
	if role != models.OrgRoleOwner {
		return nil, ErrNotOwner
	}
	if org.StripeCustomerID == "" {
		return nil, nil
	}
	return s.processor.ListPaymentMethods(ctx, org.StripeCustomerID)
}

func (s *Service) memberOrg(orgSlug string, userID uint) (*models.Organization, error) {
	if !models.IsValidOrgSlug(orgSlug) {
		return nil, models.ErrInvalidSlug
	}
	org, err := s.repo.GetOrganizationBySlug(orgSlug)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetMemberRole(org.ID, userID); err != nil {
		return nil, err
	}
	return org, nil
}
