package billing

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/subscription"
)

// Read calls get a short deadline; mutating calls get a longer one. A
// mutating call that times out is not retried here: re-issuing it without
// the matching idempotency key risks duplication, so callers re-submit
// explicitly.
const (
	readCallTimeout   = 10 * time.Second
	mutateCallTimeout = 30 * time.Second
)

// PaymentProcessor abstracts the Stripe operations the billing engine
// consumes. Stripe remains the source of truth for subscription and invoice
// state; everything else mirrors it.
type PaymentProcessor interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams, idempotencyKey string) (*stripe.CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	FindSubscriptionByCustomer(ctx context.Context, customerID string) (*stripe.Subscription, error)
	UpdateSubscriptionPrice(ctx context.Context, subID, itemID, priceID, idempotencyKey string) (*stripe.Subscription, error)
	GetPrice(ctx context.Context, id string) (*stripe.Price, error)
	ListInvoices(ctx context.Context, customerID string, limit int64) ([]*stripe.Invoice, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, error)
}

// StripeProcessor implements PaymentProcessor against the Stripe API.
type StripeProcessor struct{}

// NewStripeProcessor configures the global Stripe client key and returns a
// processor.
func NewStripeProcessor(apiKey string) *StripeProcessor {
	stripe.Key = apiKey
	return &StripeProcessor{}
}

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams, idempotencyKey string) (*stripe.CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, mutateCallTimeout)
	defer cancel()
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	s, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("billing: create checkout session: %w", err)
	}
	return s, nil
}

func (p *StripeProcessor) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, readCallTimeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price.product")

	sub, err := subscription.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("billing: get subscription %s: %w", id, err)
	}
	return sub, nil
}

// FindSubscriptionByCustomer returns the customer's most recent
// non-canceled subscription, or nil when none exists. Used as a fallback
// when the stored subscription reference itself is stale.
func (p *StripeProcessor) FindSubscriptionByCustomer(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, readCallTimeout)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.AddExpand("data.items.data.price.product")

	iter := subscription.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		if sub.Status == stripe.SubscriptionStatusCanceled || sub.Status == stripe.SubscriptionStatusIncompleteExpired {
			continue
		}
		return sub, nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("billing: list subscriptions for %s: %w", customerID, err)
	}
	return nil, nil
}

func (p *StripeProcessor) UpdateSubscriptionPrice(ctx context.Context, subID, itemID, priceID, idempotencyKey string) (*stripe.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, mutateCallTimeout)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(itemID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	params.AddExpand("items.data.price.product")

	sub, err := subscription.Update(subID, params)
	if err != nil {
		return nil, fmt.Errorf("billing: update subscription %s price: %w", subID, err)
	}
	return sub, nil
}

func (p *StripeProcessor) GetPrice(ctx context.Context, id string) (*stripe.Price, error) {
	ctx, cancel := context.WithTimeout(ctx, readCallTimeout)
	defer cancel()

	params := &stripe.PriceParams{}
	params.Context = ctx
	params.AddExpand("product")

	pr, err := price.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("billing: get price %s: %w", id, err)
	}
	return pr, nil
}

func (p *StripeProcessor) ListInvoices(ctx context.Context, customerID string, limit int64) ([]*stripe.Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, readCallTimeout)
	defer cancel()

	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)

	var out []*stripe.Invoice
	iter := invoice.List(params)
	for iter.Next() {
		out = append(out, iter.Invoice())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("billing: list invoices for %s: %w", customerID, err)
	}
	return out, nil
}

func (p *StripeProcessor) ListPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, error) {
	ctx, cancel := context.WithTimeout(ctx, readCallTimeout)
	defer cancel()

	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx

	var out []*stripe.PaymentMethod
	iter := paymentmethod.List(params)
	for iter.Next() {
		out = append(out, iter.PaymentMethod())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("billing: list payment methods for %s: %w", customerID, err)
	}
	return out, nil
}
