package billing

import (
	"fmt"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

// Sane bounds for plan limits. A descriptor outside these is a product
// catalog defect and is rejected, never clamped.
const (
	minSeatLimit           = 1
	maxSeatLimit           = 1000
	minProviderLimit       = 1
	maxProviderLimit       = 100
	minPipelinesPerDay     = 1
	maxPipelinesPerDay     = 10000
	minConcurrentPipelines = 1
	maxConcurrentPipelines = 50
)

// PlanDescriptor is the derived shape of a plan, sourced from Stripe
// product/price metadata on every plan change or resync. It is never
// persisted as its own entity.
type PlanDescriptor struct {
	PlanID              string
	Name                string
	PriceID             string
	UnitAmount          int64
	Interval            string
	SeatLimit           int
	ProviderLimit       int
	PipelinesPerDay     int
	PipelinesPerWeek    int
	PipelinesPerMonth   int
	ConcurrentPipelines int
}

// DescriptorFromPrice builds a PlanDescriptor from a price with its product
// expanded. Required metadata keys on the product: seat_limit,
// provider_limit, pipelines_per_day, concurrent_pipelines. Weekly and
// monthly pipeline limits default to 7x/30x daily unless set explicitly.
func DescriptorFromPrice(p *stripe.Price) (*PlanDescriptor, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: price is nil", ErrPlanConfig)
	}
	if p.Product == nil {
		return nil, fmt.Errorf("%w: price %s has no expanded product", ErrPlanConfig, p.ID)
	}

	meta := p.Product.Metadata

	d := &PlanDescriptor{
		PlanID:     p.Product.ID,
		Name:       p.Product.Name,
		PriceID:    p.ID,
		UnitAmount: p.UnitAmount,
	}
	if v := meta["plan_id"]; v != "" {
		d.PlanID = v
	}
	if p.Recurring != nil {
		d.Interval = string(p.Recurring.Interval)
	}

	var err error
	if d.SeatLimit, err = requiredLimit(meta, "seat_limit", minSeatLimit, maxSeatLimit); err != nil {
		return nil, err
	}
	if d.ProviderLimit, err = requiredLimit(meta, "provider_limit", minProviderLimit, maxProviderLimit); err != nil {
		return nil, err
	}
	if d.PipelinesPerDay, err = requiredLimit(meta, "pipelines_per_day", minPipelinesPerDay, maxPipelinesPerDay); err != nil {
		return nil, err
	}
	if d.ConcurrentPipelines, err = requiredLimit(meta, "concurrent_pipelines", minConcurrentPipelines, maxConcurrentPipelines); err != nil {
		return nil, err
	}

	d.PipelinesPerWeek = d.PipelinesPerDay * 7
	d.PipelinesPerMonth = d.PipelinesPerDay * 30
	if v := meta["pipelines_per_week"]; v != "" {
		if n, perr := strconv.Atoi(v); perr == nil && n > 0 {
			d.PipelinesPerWeek = n
		}
	}
	if v := meta["pipelines_per_month"]; v != "" {
		if n, perr := strconv.Atoi(v); perr == nil && n > 0 {
			d.PipelinesPerMonth = n
		}
	}

	return d, nil
}

// DescriptorFromSubscription derives the plan from a subscription whose
// items are expanded down to price.product.
func DescriptorFromSubscription(sub *stripe.Subscription) (*PlanDescriptor, error) {
	item := primaryItem(sub)
	if item == nil || item.Price == nil {
		return nil, fmt.Errorf("%w: subscription has no priced item", ErrPlanConfig)
	}
	return DescriptorFromPrice(item.Price)
}

// TrialDays returns the configured trial length for a price: the product
// metadata override when present, else the system default. Callers omit the
// trial parameter entirely when this resolves to zero.
func TrialDays(p *stripe.Price, defaultDays int64) int64 {
	if p != nil && p.Product != nil {
		if v := p.Product.Metadata["trial_days"]; v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				return n
			}
		}
	}
	return defaultDays
}

func requiredLimit(meta map[string]string, key string, min, max int) (int, error) {
	v, ok := meta[key]
	if !ok || v == "" {
		return 0, fmt.Errorf("%w: missing metadata %q", ErrPlanConfig, key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: metadata %q is not a number", ErrPlanConfig, key)
	}
	if n < min || n > max {
		return 0, fmt.Errorf("%w: %s %d outside bound %d-%d", ErrPlanConfig, key, n, min, max)
	}
	return n, nil
}

func primaryItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
