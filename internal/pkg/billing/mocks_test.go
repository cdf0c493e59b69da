package billing

import (
	"context"
	"time"

	"github.com/CostLensHQ/CostLens/app/models"
	"github.com/CostLensHQ/CostLens/internal/pkg/limitsync"
	"github.com/CostLensHQ/CostLens/internal/pkg/ratelimit"
	stripe "github.com/stripe/stripe-go/v82"
)

// fakeRepo is an in-memory Repository. Error fields inject failures per
// method; call counters let tests assert zero-mutation guarantees.
type fakeRepo struct {
	org            *models.Organization
	orgErr         error
	memberCount    int64
	memberCountFn  func() int64
	role           string
	roleErr        error
	soleOwner      bool
	soleOwnerErr   error
	updateErr      error
	updateCalls    int
	audits         []*models.PlanChangeAudit
	auditErr       error
	auditStatuses  []models.SyncStatus
	auditStatusErr error
	webhookRows    map[string]*models.BillingWebhookEvent
	processedIDs   []uint
}

func (r *fakeRepo) GetOrganizationBySlug(slug string) (*models.Organization, error) {
	if r.orgErr != nil {
		return nil, r.orgErr
	}
	if r.org == nil || r.org.Slug != slug {
		return nil, ErrOrgNotFound
	}
	return r.org, nil
}

func (r *fakeRepo) GetOrganizationByCustomerID(customerID string) (*models.Organization, error) {
	if r.org == nil || r.org.StripeCustomerID != customerID {
		return nil, ErrOrgNotFound
	}
	return r.org, nil
}

func (r *fakeRepo) UpdateOrganizationBilling(org *models.Organization) error {
	r.updateCalls++
	return r.updateErr
}

func (r *fakeRepo) CountActiveMembers(orgID uint) (int64, error) {
	if r.memberCountFn != nil {
		return r.memberCountFn(), nil
	}
	return r.memberCount, nil
}

func (r *fakeRepo) GetMemberRole(orgID, userID uint) (string, error) {
	if r.roleErr != nil {
		return "", r.roleErr
	}
	if r.role == "" {
		return "", ErrNotOwner
	}
	return r.role, nil
}

func (r *fakeRepo) IsSoleOwner(orgID, userID uint) (bool, error) {
	return r.soleOwner, r.soleOwnerErr
}

func (r *fakeRepo) CreatePlanChangeAudit(a *models.PlanChangeAudit) error {
	if r.auditErr != nil {
		return r.auditErr
	}
	a.ID = uint(len(r.audits) + 1)
	r.audits = append(r.audits, a)
	return nil
}

func (r *fakeRepo) UpdateAuditSyncStatus(id uint, status models.SyncStatus, syncErr string) error {
	if r.auditStatusErr != nil {
		return r.auditStatusErr
	}
	r.auditStatuses = append(r.auditStatuses, status)
	for _, a := range r.audits {
		if a.ID == id {
			if err := a.ApplySyncOutcome(status, syncErr); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	if r.webhookRows == nil {
		r.webhookRows = make(map[string]*models.BillingWebhookEvent)
	}
	if existing, ok := r.webhookRows[event.StripeEventID]; ok {
		return false, existing, nil
	}
	event.ID = uint(len(r.webhookRows) + 1)
	r.webhookRows[event.StripeEventID] = event
	return true, event, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.processedIDs = append(r.processedIDs, id)
	for _, row := range r.webhookRows {
		if row.ID == id {
			now := nowRef()
			row.ProcessedAt = now
			row.ProcessingError = processingError
		}
	}
	return nil
}

// stubProcessor records every call and returns canned responses. Error
// fields inject failures per operation.
type stubProcessor struct {
	price    *stripe.Price
	priceErr error

	sub       *stripe.Subscription
	subErr    error
	foundSub  *stripe.Subscription
	foundErr  error
	updated   *stripe.Subscription
	updateErr error

	session    *stripe.CheckoutSession
	sessionErr error

	invoices []*stripe.Invoice
	methods  []*stripe.PaymentMethod

	updateCalls  []updateCall
	sessionKeys  []string
	priceLookups []string
}

type updateCall struct {
	subID, itemID, priceID, key string
}

func (p *stubProcessor) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams, idempotencyKey string) (*stripe.CheckoutSession, error) {
	p.sessionKeys = append(p.sessionKeys, idempotencyKey)
	return p.session, p.sessionErr
}

func (p *stubProcessor) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return p.sub, p.subErr
}

func (p *stubProcessor) FindSubscriptionByCustomer(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	return p.foundSub, p.foundErr
}

func (p *stubProcessor) UpdateSubscriptionPrice(ctx context.Context, subID, itemID, priceID, idempotencyKey string) (*stripe.Subscription, error) {
	p.updateCalls = append(p.updateCalls, updateCall{subID, itemID, priceID, idempotencyKey})
	return p.updated, p.updateErr
}

func (p *stubProcessor) GetPrice(ctx context.Context, id string) (*stripe.Price, error) {
	p.priceLookups = append(p.priceLookups, id)
	return p.price, p.priceErr
}

func (p *stubProcessor) ListInvoices(ctx context.Context, customerID string, limit int64) ([]*stripe.Invoice, error) {
	return p.invoices, nil
}

func (p *stubProcessor) ListPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, error) {
	return p.methods, nil
}

type stubLimiter struct {
	allow bool
	calls int
}

func (l *stubLimiter) TryAcquire(ctx context.Context, subjectID uint, action ratelimit.Action) bool {
	l.calls++
	return l.allow
}

type stubPusher struct {
	result   limitsync.PushResult
	payloads []limitsync.OrgLimits
	types    []limitsync.SyncType
}

func (p *stubPusher) Push(ctx context.Context, limits limitsync.OrgLimits, syncType limitsync.SyncType) limitsync.PushResult {
	p.payloads = append(p.payloads, limits)
	p.types = append(p.types, syncType)
	return p.result
}

// testPrice builds a price with its product expanded and well-formed plan
// metadata. Override individual keys through meta.
func testPrice(priceID string, unitAmount int64, meta map[string]string) *stripe.Price {
	metadata := map[string]string{
		"seat_limit":           "5",
		"provider_limit":       "3",
		"pipelines_per_day":    "20",
		"concurrent_pipelines": "2",
	}
	for k, v := range meta {
		metadata[k] = v
	}
	return &stripe.Price{
		ID:         priceID,
		UnitAmount: unitAmount,
		Recurring:  &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
		Product: &stripe.Product{
			ID:       "prod_" + priceID,
			Name:     "Team",
			Metadata: metadata,
		},
	}
}

func testSubscription(subID, custID string, price *stripe.Price) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       subID,
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: custID},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					ID:                 "si_" + subID,
					Price:              price,
					CurrentPeriodStart: 1700000000,
					CurrentPeriodEnd:   1702592000,
				},
			},
		},
	}
}

func testOrg(slug string) *models.Organization {
	return &models.Organization{
		ID:                   1,
		Name:                 slug,
		Slug:                 slug,
		StripeCustomerID:     "cus_" + slug,
		StripeSubscriptionID: "sub_" + slug,
		PlanID:               "starter",
		PriceID:              "price_old000",
		BillingStatus:        models.BillingStatusActive,
		SeatLimit:            3,
		ProviderLimit:        2,
		PipelinesPerDay:      10,
		PipelinesPerWeek:     70,
		PipelinesPerMonth:    300,
		ConcurrentPipelines:  1,
	}
}

func newTestService(repo Repository, proc PaymentProcessor, limiter RateLimiter, pusher LimitsPusher) *Service {
	return NewService(repo, proc, limiter, pusher, Config{
		PublicURL:        "https://app.costlens.test",
		DefaultTrialDays: 0,
	})
}

func nowRef() *time.Time {
	t := time.Now()
	return &t
}
