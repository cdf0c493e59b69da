package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/CostLensHQ/CostLens/app/models"
	"github.com/CostLensHQ/CostLens/internal/pkg/limitsync"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/google/uuid"
)

// ChangePlan applies a new price to the organization's subscription with
// proration and fans the result out to the datastore mirror, the audit
// trail and the backend limits service.
//
// Failure boundaries per step:
//  1. Stripe mutation fails        -> whole operation aborts, nothing persisted
//  2. plan metadata invalid        -> ErrPlanConfig; Stripe already changed, so
//     an audit row is still written best-effort
//  3. datastore mirror write fails -> non-fatal warning, Stripe stays authoritative
//  4. audit append
//  5. limits push fails            -> audit patched failed/pending, warning on result
//
// Success is true once step 1 completed; only the eligibility check or the
// Stripe mutation itself yields a failure.
func (s *Service) ChangePlan(ctx context.Context, orgSlug, newPriceID string, actingUserID uint) (*PlanChangeResult, error) {
	if !models.IsValidOrgSlug(orgSlug) {
		return nil, models.ErrInvalidSlug
	}
	if !IsValidPriceID(newPriceID) {
		return nil, ErrInvalidPriceID
	}

	org, err := s.repo.GetOrganizationBySlug(orgSlug)
	if err != nil {
		return nil, err
	}
	sole, err := s.repo.IsSoleOwner(org.ID, actingUserID)
	if err != nil {
		return nil, err
	}
	if !sole {
		return nil, ErrNotOwner
	}
	if org.StripeSubscriptionID == "" {
		return nil, ErrNoSubscription
	}

	// Eligibility: resolve the target plan's seat limit and compare against
	// the current active member count before mutating anything. Note a
	// second request racing between this check and the Stripe update can
	// still succeed; ordering is left to Stripe's own concurrency handling
	// on the subscription resource.
	newPrice, err := s.processor.GetPrice(ctx, newPriceID)
	if err != nil {
		return nil, err
	}
	target, err := DescriptorFromPrice(newPrice)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.CountActiveMembers(org.ID)
	if err != nil {
		return nil, err
	}
	if members > int64(target.SeatLimit) {
		return nil, fmt.Errorf("Cannot downgrade: organization has %d active members but the %s plan allows %d seats",
			members, target.Name, target.SeatLimit)
	}

	current, err := s.processor.GetSubscription(ctx, org.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	item := primaryItem(current)
	if item == nil {
		return nil, fmt.Errorf("%w: subscription %s has no items", ErrPlanConfig, org.StripeSubscriptionID)
	}

	oldPlanID := org.PlanID
	var oldAmount int64
	if item.Price != nil {
		oldAmount = item.Price.UnitAmount
	}

	// Step 1: authoritative mutation. Same org+price replayed inside
	// Stripe's dedup window collapses into the prior result instead of a
	// second proration charge.
	key := DeriveIdempotencyKey("plan-change", strconv.FormatUint(uint64(org.ID), 10), newPriceID)
	updated, err := s.processor.UpdateSubscriptionPrice(ctx, current.ID, item.ID, newPriceID, key)
	if err != nil {
		return nil, fmt.Errorf("plan change failed: %w", err)
	}

	// Step 2: re-derive limits from the updated subscription. Stripe has
	// already changed, so a metadata defect here is a partial success that
	// must still leave an audit trace.
	desc, err := DescriptorFromSubscription(updated)
	if err != nil {
		audit := newPlanChangeAudit(org, actingUserID, oldPlanID, oldAmount, target, updated.ID)
		audit.SyncStatus = models.SyncStatusPending
		if aerr := s.repo.CreatePlanChangeAudit(audit); aerr == nil {
			_ = s.repo.UpdateAuditSyncStatus(audit.ID, models.SyncStatusFailed, err.Error())
		} else {
			log.Printf("Warning: audit record for org %s could not be written: %v", org.Slug, aerr)
		}
		return nil, err
	}

	action := models.PlanChangeActionUpgrade
	if desc.UnitAmount < oldAmount {
		action = models.PlanChangeActionDowngrade
	}

	result := &PlanChangeResult{Success: true}

	// Step 3: datastore mirror. A failure here is recorded, not fatal:
	// Stripe remains authoritative and reconciliation self-heals the mirror.
	applySubscriptionState(org, updated, desc)
	if err := s.repo.UpdateOrganizationBilling(org); err != nil {
		log.Printf("Warning: datastore mirror write failed for org %s: %v", org.Slug, err)
		result.SyncWarning = "plan changed, but the local billing record lagged; it will self-heal on the next sync"
	}

	// Step 4: audit row with sync pending.
	audit := newPlanChangeAudit(org, actingUserID, oldPlanID, oldAmount, desc, updated.ID)
	audit.Action = action
	if err := s.repo.CreatePlanChangeAudit(audit); err != nil {
		log.Printf("Warning: audit record for org %s could not be written: %v", org.Slug, err)
	}

	// Step 5: push limits downstream and settle the audit row.
	push := s.limits.Push(ctx, orgLimitsPayload(org), limitsync.SyncTypePlanChange)
	switch {
	case push.Success:
		s.settleAudit(audit, models.SyncStatusSynced, "")
	case push.Queued:
		s.settleAudit(audit, models.SyncStatusPending, push.Err.Error())
		s.queueLimitsRetry(ctx, org.Slug)
		result.SyncQueued = true
		result.SyncWarning = "plan changed, but the limits service is temporarily unavailable; sync will be retried"
	default:
		s.settleAudit(audit, models.SyncStatusFailed, push.Err.Error())
		result.SyncWarning = "plan changed, but pushing limits to the backend failed: " + push.Err.Error()
	}

	result.Summary = summarize(updated, desc)
	return result, nil
}

func (s *Service) settleAudit(audit *models.PlanChangeAudit, status models.SyncStatus, syncErr string) {
	if audit.ID == 0 {
		return
	}
	if err := s.repo.UpdateAuditSyncStatus(audit.ID, status, syncErr); err != nil {
		log.Printf("Warning: audit %d sync status update failed: %v", audit.ID, err)
	}
}

func newPlanChangeAudit(org *models.Organization, actorID uint, oldPlanID string, oldAmount int64, target *PlanDescriptor, subID string) *models.PlanChangeAudit {
	meta, _ := json.Marshal(map[string]string{
		"request_id": uuid.NewString(),
		"org_slug":   org.Slug,
	})
	return &models.PlanChangeAudit{
		OrganizationID:       org.ID,
		ActorUserID:          actorID,
		Action:               models.PlanChangeActionUpgrade,
		OldPlanID:            oldPlanID,
		NewPlanID:            target.PlanID,
		OldUnitAmount:        oldAmount,
		NewUnitAmount:        target.UnitAmount,
		StripeSubscriptionID: subID,
		SyncStatus:           models.SyncStatusPending,
		MetadataJSON:         string(meta),
	}
}

// applySubscriptionState copies authoritative subscription state plus
// derived plan limits onto the organization mirror.
func applySubscriptionState(org *models.Organization, sub *stripe.Subscription, desc *PlanDescriptor) {
	applyDescriptor(org, desc)
	org.StripeSubscriptionID = sub.ID
	if sub.Customer != nil {
		org.StripeCustomerID = sub.Customer.ID
	}
	org.BillingStatus = string(sub.Status)
	org.TrialEndsAt = unixTime(sub.TrialEnd)
	if item := primaryItem(sub); item != nil {
		org.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		org.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
}

func summarize(sub *stripe.Subscription, desc *PlanDescriptor) *SubscriptionSummary {
	summary := &SubscriptionSummary{
		SubscriptionID: sub.ID,
		PlanID:         desc.PlanID,
		PlanName:       desc.Name,
		PriceID:        desc.PriceID,
		UnitAmount:     desc.UnitAmount,
		Interval:       desc.Interval,
		Status:         string(sub.Status),
		TrialEndsAt:    unixTime(sub.TrialEnd),
	}
	if item := primaryItem(sub); item != nil {
		summary.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		summary.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return summary
}

// IsUserFacingError reports whether err carries a message safe to show the
// caller verbatim (validation, authorization, eligibility, configuration).
func IsUserFacingError(err error) bool {
	switch {
	case errors.Is(err, models.ErrInvalidSlug),
		errors.Is(err, ErrInvalidPriceID),
		errors.Is(err, ErrOrgNotFound),
		errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrNoSubscription),
		errors.Is(err, ErrSubscriptionExists),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrPlanConfig):
		return true
	}
	return false
}
