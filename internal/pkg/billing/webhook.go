package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/CostLensHQ/CostLens/app/models"
	"github.com/CostLensHQ/CostLens/internal/pkg/limitsync"
	stripe "github.com/stripe/stripe-go/v82"
)

// Webhook event types the engine reacts to. Everything else is recorded and
// acknowledged without side effects.
const (
	eventSubscriptionCreated = "customer.subscription.created"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
	eventInvoicePaymentFail  = "invoice.payment_failed"
	eventCheckoutCompleted   = "checkout.session.completed"
)

// ProcessWebhookEvent applies a signature-verified Stripe event to the
// mirror. Events are deduplicated by Stripe event id, so redelivery of an
// already-processed event is a no-op acknowledge.
func (s *Service) ProcessWebhookEvent(ctx context.Context, event *stripe.Event) error {
	record := &models.BillingWebhookEvent{
		StripeEventID:  event.ID,
		EventType:      string(event.Type),
		PayloadJSON:    string(event.Data.Raw),
		SignatureValid: true,
	}
	created, stored, err := s.repo.CreateWebhookEventIfNotExists(record)
	if err != nil {
		return fmt.Errorf("billing: record webhook event %s: %w", event.ID, err)
	}
	if !created && stored.ProcessedAt != nil {
		return nil
	}

	procErr := s.applyWebhookEvent(ctx, event)
	procMsg := ""
	if procErr != nil {
		procMsg = procErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(stored.ID, procMsg); err != nil {
		log.Printf("Warning: marking webhook event %s processed failed: %v", event.ID, err)
	}
	return procErr
}

func (s *Service) applyWebhookEvent(ctx context.Context, event *stripe.Event) error {
	switch string(event.Type) {
	case eventSubscriptionCreated, eventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("billing: decode subscription event %s: %w", event.ID, err)
		}
		return s.syncSubscriptionByID(ctx, customerIDOf(&sub), sub.ID)

	case eventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("billing: decode subscription event %s: %w", event.ID, err)
		}
		return s.downgradeByCustomer(ctx, customerIDOf(&sub))

	case eventInvoicePaymentFail:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("billing: decode invoice event %s: %w", event.ID, err)
		}
		custID := ""
		if inv.Customer != nil {
			custID = inv.Customer.ID
		}
		// Payment failure flips the subscription to past_due on Stripe's
		// side; re-pulling the subscription picks that status up.
		org, err := s.orgByCustomer(custID)
		if err != nil || org == nil {
			return err
		}
		return s.syncSubscriptionByID(ctx, custID, org.StripeSubscriptionID)

	case eventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("billing: decode checkout event %s: %w", event.ID, err)
		}
		custID := ""
		if sess.Customer != nil {
			custID = sess.Customer.ID
		}
		subID := ""
		if sess.Subscription != nil {
			subID = sess.Subscription.ID
		}
		return s.syncSubscriptionByID(ctx, custID, subID)
	}

	// Unhandled event type: recorded for the audit trail, nothing to apply.
	return nil
}

// syncSubscriptionByID re-pulls the subscription with its product expanded
// and overwrites the org mirror. Webhook payloads omit expanded objects, so
// the event body alone is never enough to derive plan limits.
func (s *Service) syncSubscriptionByID(ctx context.Context, customerID, subID string) error {
	org, err := s.orgByCustomer(customerID)
	if err != nil || org == nil {
		return err
	}
	if subID == "" {
		subID = org.StripeSubscriptionID
	}
	if subID == "" {
		return nil
	}
	sub, err := s.processor.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if err := s.syncFromSubscription(org, sub); err != nil {
		return err
	}
	s.pushAfterWebhook(ctx, org)
	return nil
}

func (s *Service) downgradeByCustomer(ctx context.Context, customerID string) error {
	org, err := s.orgByCustomer(customerID)
	if err != nil || org == nil {
		return err
	}
	applyDescriptor(org, &freePlan)
	org.StripeSubscriptionID = ""
	org.BillingStatus = models.BillingStatusCanceled
	org.CurrentPeriodStart = nil
	org.CurrentPeriodEnd = nil
	org.TrialEndsAt = nil
	if err := s.repo.UpdateOrganizationBilling(org); err != nil {
		return fmt.Errorf("billing: downgrade mirror for org %s: %w", org.Slug, err)
	}
	s.pushAfterWebhook(ctx, org)
	return nil
}

// orgByCustomer resolves the org for a Stripe customer. An unknown customer
// is not an error: test-mode events and deleted orgs both produce them.
func (s *Service) orgByCustomer(customerID string) (*models.Organization, error) {
	if customerID == "" {
		return nil, nil
	}
	org, err := s.repo.GetOrganizationByCustomerID(customerID)
	if err != nil {
		if errors.Is(err, ErrOrgNotFound) {
			log.Printf("Warning: webhook for unknown customer %s ignored", customerID)
			return nil, nil
		}
		return nil, err
	}
	return org, nil
}

func (s *Service) pushAfterWebhook(ctx context.Context, org *models.Organization) {
	push := s.limits.Push(ctx, orgLimitsPayload(org), limitsync.SyncTypeResync)
	if !push.Success {
		log.Printf("Warning: limits push after webhook for org %s failed: %v", org.Slug, push.Err)
		if push.Queued {
			s.queueLimitsRetry(ctx, org.Slug)
		}
	}
}

func customerIDOf(sub *stripe.Subscription) string {
	if sub == nil || sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}
